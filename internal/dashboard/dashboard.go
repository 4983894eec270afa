// Package dashboard renders fact rows as aligned text tables for the
// terminal. Column widths use display width, so wide runes in fact values
// keep the columns straight.
package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/mesh-intelligence/facts/pkg/types"
)

// MaxCellWidth caps the display width of a cell; longer values are
// truncated with an ellipsis.
const MaxCellWidth = 48

// Missing is printed for nil facts.
const Missing = "-"

const columnGap = "  "

// FormatValue renders a canonical fact value of type t.
func FormatValue(t types.FactType, v any) string {
	if v == nil {
		return Missing
	}
	switch t {
	case types.FactDate:
		if tm, ok := v.(time.Time); ok {
			return tm.Format(types.DateLayout)
		}
	case types.FactDateTime:
		if tm, ok := v.(time.Time); ok {
			return tm.UTC().Format(time.RFC3339)
		}
	case types.FactNumber:
		if f, ok := v.(float64); ok {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
	case types.FactJSON:
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(v)
}

// FactTable turns rows into table cells: ref, one column per fact and,
// when withValidity is set, the row's validity interval.
func FactTable(defs []types.FactDefinition, rows []*types.FactRow, withValidity bool) (headers []string, cells [][]string) {
	headers = append(headers, "ref")
	for _, d := range defs {
		headers = append(headers, d.Name)
	}
	if withValidity {
		headers = append(headers, "valid_from", "valid_to")
	}

	cells = make([][]string, 0, len(rows))
	for _, r := range rows {
		line := make([]string, 0, len(headers))
		line = append(line, string(r.Ref))
		for _, d := range defs {
			line = append(line, FormatValue(d.Type, r.Facts[d.Name]))
		}
		if withValidity {
			to := Missing
			if r.ValidTo != nil {
				to = FormatValue(types.FactDateTime, *r.ValidTo)
			}
			line = append(line, FormatValue(types.FactDateTime, r.ValidFrom), to)
		}
		cells = append(cells, line)
	}
	return headers, cells
}

// Render writes headers and rows as a left-aligned table. Rows shorter than
// headers are padded with empty cells.
func Render(w io.Writer, headers []string, rows [][]string) error {
	widths := make([]int, len(headers))
	clip := func(s string) string {
		s = strings.ReplaceAll(s, "\n", " ")
		return runewidth.Truncate(s, MaxCellWidth, "…")
	}
	measure := func(line []string) {
		for i := range widths {
			if i < len(line) {
				widths[i] = max(widths[i], runewidth.StringWidth(clip(line[i])))
			}
		}
	}
	measure(headers)
	for _, r := range rows {
		measure(r)
	}

	var b strings.Builder
	writeLine := func(line []string) {
		for i, width := range widths {
			cell := ""
			if i < len(line) {
				cell = clip(line[i])
			}
			if i == len(widths)-1 {
				b.WriteString(cell)
				break
			}
			b.WriteString(runewidth.FillRight(cell, width))
			b.WriteString(columnGap)
		}
		b.WriteString("\n")
	}

	writeLine(headers)
	rule := make([]string, len(widths))
	for i, width := range widths {
		rule[i] = strings.Repeat("-", width)
	}
	writeLine(rule)
	for _, r := range rows {
		writeLine(r)
	}

	_, err := io.WriteString(w, b.String())
	return err
}
