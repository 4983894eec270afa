// This file provides JSONL import and export of source objects, with atomic
// writes on export.
package sqlite

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mesh-intelligence/facts/pkg/types"
)

// maxJSONLLine bounds the size of one object record.
const maxJSONLLine = 16 << 20

// ImportResult counts the outcome of ImportObjects.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// ImportObjects reads one object per line from path and stores each through
// PutObject, so observers see every imported object. Empty lines are ignored;
// malformed or invalid records are counted as skipped.
func (b *Backend) ImportObjects(ctx context.Context, path string) (ImportResult, error) {
	var res ImportResult
	records, skipped, err := readJSONL(path)
	if err != nil {
		return res, err
	}
	res.Skipped = skipped

	for _, rec := range records {
		var obj types.Object
		if err := json.Unmarshal(rec, &obj); err != nil || obj.Ref.Validate() != nil || obj.Type == "" {
			res.Skipped++
			continue
		}
		if err := b.PutObject(ctx, &obj); err != nil {
			return res, fmt.Errorf("importing %s: %w", obj.Ref, err)
		}
		res.Imported++
	}
	return res, nil
}

// ExportObjects writes every object to path as JSONL, ordered by reference.
// It returns the number of objects written.
func (b *Backend) ExportObjects(ctx context.Context, path string) (int, error) {
	objs, err := b.FindObjects(ctx, nil)
	if err != nil {
		return 0, err
	}
	records := make([]json.RawMessage, 0, len(objs))
	for _, obj := range objs {
		data, err := json.Marshal(obj)
		if err != nil {
			return 0, fmt.Errorf("encoding %s: %w", obj.Ref, err)
		}
		records = append(records, data)
	}
	if err := writeJSONL(path, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// readJSONL reads a JSONL file and returns each non-empty, parseable line as
// a json.RawMessage, together with the number of malformed lines skipped.
func readJSONL(path string) ([]json.RawMessage, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var (
		records []json.RawMessage
		skipped int
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxJSONLLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			skipped++
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		records = append(records, json.RawMessage(cp))
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("scanning %s: %w", path, err)
	}
	return records, skipped, nil
}

// writeJSONL atomically writes records to a JSONL file using the temp-file,
// fsync, rename pattern.
func writeJSONL(path string, records []json.RawMessage) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".jsonl-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	fail := func(err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		if _, err := w.Write(rec); err != nil {
			return fail(fmt.Errorf("writing record: %w", err))
		}
		if err := w.WriteByte('\n'); err != nil {
			return fail(fmt.Errorf("writing newline: %w", err))
		}
	}
	if err := w.Flush(); err != nil {
		return fail(fmt.Errorf("flushing buffer: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("syncing temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
