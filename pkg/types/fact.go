package types

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// FactType determines how a fact is stored and compared.
type FactType string

// Fact types.
const (
	FactText     FactType = "text"
	FactRef      FactType = "ref"
	FactInt      FactType = "int"
	FactNumber   FactType = "number"
	FactBool     FactType = "bool"
	FactDate     FactType = "date"
	FactDateTime FactType = "datetime"
	FactJSON     FactType = "json"
)

// validFactTypes is the set of recognized fact types.
var validFactTypes = map[FactType]bool{
	FactText:     true,
	FactRef:      true,
	FactInt:      true,
	FactNumber:   true,
	FactBool:     true,
	FactDate:     true,
	FactDateTime: true,
	FactJSON:     true,
}

// Valid reports whether t is a recognized fact type.
func (t FactType) Valid() bool {
	return validFactTypes[t]
}

// DateLayout is the canonical text form of a date fact.
const DateLayout = "2006-01-02"

// identifierPattern matches collection and fact names. Names become part of
// SQL identifiers, so they are restricted to lower-case snake case.
var identifierPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// ValidName reports whether name can be used as a collection or fact name.
func ValidName(name string) bool {
	return identifierPattern.MatchString(name)
}

// FactDefinition declares one column of a collection.
type FactDefinition struct {
	Name        string   `json:"name" yaml:"name"`
	Type        FactType `json:"type" yaml:"type"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// Facts maps fact names to values. Values are in canonical form: string for
// text, Ref for ref, int64 for int, float64 for number, bool for bool,
// time.Time (UTC) for date and datetime, and decoded JSON for json.
type Facts map[string]any

// CoerceFact converts v to the canonical Go value for fact type t. A nil v
// stays nil. Returns an error wrapping ErrTypeMismatch when v cannot
// represent a value of type t.
func CoerceFact(t FactType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case FactText:
		return coerceText(v)
	case FactRef:
		s, err := coerceText(v)
		if err != nil {
			return nil, err
		}
		if s == "" {
			return nil, nil
		}
		ref := Ref(s)
		if err := ref.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %q is not a reference", ErrTypeMismatch, s)
		}
		return ref, nil
	case FactInt:
		return coerceInt(v)
	case FactNumber:
		return coerceNumber(v)
	case FactBool:
		return coerceBool(v)
	case FactDate:
		tm, err := coerceTime(v)
		if err != nil {
			return nil, err
		}
		return truncateDay(tm), nil
	case FactDateTime:
		tm, err := coerceTime(v)
		if err != nil {
			return nil, err
		}
		return tm.UTC(), nil
	case FactJSON:
		return normalizeJSON(v)
	default:
		return nil, fmt.Errorf("%w: unknown fact type %q", ErrTypeMismatch, t)
	}
}

func coerceText(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case Ref:
		return string(x), nil
	case fmt.Stringer:
		return x.String(), nil
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return fmt.Sprint(x), nil
	default:
		return "", fmt.Errorf("%w: cannot use %T as text", ErrTypeMismatch, v)
	}
}

func coerceInt(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d overflows int", ErrTypeMismatch, x)
		}
		return int64(x), nil
	case float32:
		return coerceInt(float64(x))
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || math.IsNaN(x) {
			return 0, fmt.Errorf("%w: %v is not an integer", ErrTypeMismatch, x)
		}
		return int64(x), nil
	case json.Number:
		return coerceInt(string(x))
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an integer", ErrTypeMismatch, x)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: cannot use %T as int", ErrTypeMismatch, v)
	}
}

func coerceNumber(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case json.Number:
		return coerceNumber(string(x))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrTypeMismatch, x)
		}
		return f, nil
	default:
		n, err := coerceInt(v)
		if err != nil {
			return 0, fmt.Errorf("%w: cannot use %T as number", ErrTypeMismatch, v)
		}
		return float64(n), nil
	}
}

func coerceBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return false, fmt.Errorf("%w: %q is not a bool", ErrTypeMismatch, x)
		}
		return b, nil
	default:
		return false, fmt.Errorf("%w: cannot use %T as bool", ErrTypeMismatch, v)
	}
}

func coerceTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case *time.Time:
		if x == nil {
			return time.Time{}, fmt.Errorf("%w: nil time", ErrTypeMismatch)
		}
		return *x, nil
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range []string{time.RFC3339Nano, DateLayout} {
			if tm, err := time.Parse(layout, s); err == nil {
				return tm, nil
			}
		}
		return time.Time{}, fmt.Errorf("%w: %q is not a date", ErrTypeMismatch, x)
	default:
		return time.Time{}, fmt.Errorf("%w: cannot use %T as time", ErrTypeMismatch, v)
	}
}

// truncateDay returns midnight UTC of the calendar day t falls on in its own
// location.
func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// normalizeJSON round-trips v through encoding/json so structurally equal
// values compare equal regardless of their original Go types.
func normalizeJSON(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
	}
	return out, nil
}

// ValueEqual compares two values of fact type t. Refs compare by reference,
// json values compare deeply, dates compare by calendar day and everything
// else compares by canonical value. Values that cannot be coerced to t are
// never equal to anything.
func ValueEqual(t FactType, a, b any) bool {
	ca, errA := CoerceFact(t, a)
	cb, errB := CoerceFact(t, b)
	if errA != nil || errB != nil {
		return false
	}
	if ca == nil || cb == nil {
		return ca == nil && cb == nil
	}
	switch t {
	case FactDate:
		ta, tb := ca.(time.Time), cb.(time.Time)
		return ta.Year() == tb.Year() && ta.YearDay() == tb.YearDay()
	case FactDateTime:
		return ca.(time.Time).Equal(cb.(time.Time))
	case FactJSON:
		return reflect.DeepEqual(ca, cb)
	default:
		return ca == cb
	}
}

// FactsEqual reports whether a and b hold equal values for every fact in
// defs. Facts not named in defs are ignored.
func FactsEqual(defs []FactDefinition, a, b Facts) bool {
	for _, def := range defs {
		if !ValueEqual(def.Type, a[def.Name], b[def.Name]) {
			return false
		}
	}
	return true
}
