// Package condenser maps raw document data onto a normalized schema (a "bottle").
package condenser

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/adamstauffer/cyphon/internal/document"
)

// ErrMissingField is returned when a required fitting has no source value.
var ErrMissingField = errors.New("required field missing")

// FieldType is the type a fitting coerces its value to.
type FieldType string

const (
	TypeAny     FieldType = "any"
	TypeString  FieldType = "string"
	TypeInt     FieldType = "int"
	TypeFloat   FieldType = "float"
	TypeBool    FieldType = "bool"
	TypeTime    FieldType = "time"
	TypeKeyword FieldType = "keyword" // lower-cased, trimmed string
)

// Fitting copies one source field into one bottle field.
type Fitting struct {
	Target   string
	Source   string
	Type     FieldType
	Pattern  string // optional; first capture group of the match replaces the value
	Default  any
	Required bool

	re *regexp.Regexp
}

// Condenser is a named, ordered list of fittings.
type Condenser struct {
	Name     string
	Fittings []Fitting
}

// New validates the fittings and compiles their patterns.
func New(name string, fittings []Fitting) (*Condenser, error) {
	if name == "" {
		return nil, fmt.Errorf("condenser name cannot be empty")
	}
	seen := make(map[string]bool, len(fittings))
	out := make([]Fitting, len(fittings))
	for i, f := range fittings {
		if f.Target == "" || f.Source == "" {
			return nil, fmt.Errorf("condenser %s: fitting %d needs both target and source", name, i)
		}
		if seen[f.Target] {
			return nil, fmt.Errorf("condenser %s: duplicate target %s", name, f.Target)
		}
		seen[f.Target] = true

		if f.Type == "" {
			f.Type = TypeAny
		}
		switch f.Type {
		case TypeAny, TypeString, TypeInt, TypeFloat, TypeBool, TypeTime, TypeKeyword:
		default:
			return nil, fmt.Errorf("condenser %s: unknown type %s for %s", name, f.Type, f.Target)
		}

		if f.Pattern != "" {
			re, err := regexp.Compile(f.Pattern)
			if err != nil {
				return nil, fmt.Errorf("condenser %s: invalid pattern for %s: %w", name, f.Target, err)
			}
			if re.NumSubexp() < 1 {
				return nil, fmt.Errorf("condenser %s: pattern for %s needs a capture group", name, f.Target)
			}
			f.re = re
		}
		out[i] = f
	}
	return &Condenser{Name: name, Fittings: out}, nil
}

// Process builds the bottle for data. A value that cannot be coerced is replaced
// by the fitting's default, or left out when there is none.
func (c *Condenser) Process(data map[string]any) (map[string]any, error) {
	bottle := make(map[string]any, len(c.Fittings))
	for _, f := range c.Fittings {
		raw, ok := document.Lookup(data, f.Source)
		if ok && f.re != nil {
			raw, ok = extract(f.re, raw)
		}
		if !ok || raw == nil {
			if f.Default != nil {
				bottle[f.Target] = f.Default
				continue
			}
			if f.Required {
				return nil, fmt.Errorf("%w: %s (source %s)", ErrMissingField, f.Target, f.Source)
			}
			continue
		}

		v, err := coerce(raw, f.Type)
		if err != nil {
			slog.Debug("Could not coerce field",
				"condenser", c.Name,
				"target", f.Target,
				"type", f.Type,
				"error", err,
			)
			if f.Default != nil {
				bottle[f.Target] = f.Default
			} else if f.Required {
				return nil, fmt.Errorf("%w: %s has invalid %s value", ErrMissingField, f.Target, f.Type)
			}
			continue
		}
		bottle[f.Target] = v
	}
	return bottle, nil
}

func extract(re *regexp.Regexp, raw any) (any, bool) {
	s, ok := raw.(string)
	if !ok {
		return nil, false
	}
	m := re.FindStringSubmatch(s)
	if m == nil {
		return nil, false
	}
	return m[1], true
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

// floatToInt converts f only when it is a whole number within int64 range.
func floatToInt(f float64) (int64, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%v is not an integer", f)
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("%v overflows int64", f)
	}
	return int64(f), nil
}

func coerce(v any, t FieldType) (any, error) {
	switch t {
	case TypeAny:
		return v, nil
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	case TypeKeyword:
		return strings.ToLower(strings.TrimSpace(fmt.Sprint(v))), nil
	case TypeInt:
		switch n := v.(type) {
		case float64:
			return floatToInt(n)
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		case string:
			n = strings.TrimSpace(n)
			if i, err := strconv.ParseInt(n, 10, 64); err == nil {
				return i, nil
			}
			f, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return nil, err
			}
			return floatToInt(f)
		}
	case TypeFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case string:
			return strconv.ParseFloat(strings.TrimSpace(n), 64)
		}
	case TypeBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			return strconv.ParseBool(strings.TrimSpace(b))
		}
	case TypeTime:
		switch ts := v.(type) {
		case time.Time:
			return ts.UTC(), nil
		case float64:
			return time.Unix(int64(ts), 0).UTC(), nil
		case string:
			for _, layout := range timeLayouts {
				if parsed, err := time.Parse(layout, ts); err == nil {
					return parsed.UTC(), nil
				}
			}
			return nil, fmt.Errorf("unrecognized time format: %q", ts)
		}
	}
	return nil, fmt.Errorf("cannot convert %T to %s", v, t)
}
