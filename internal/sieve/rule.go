package sieve

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/adamstauffer/cyphon/internal/document"
)

// Operator compares a field value with a rule's value.
type Operator string

const (
	Eq       Operator = "eq"
	Ne       Operator = "ne"
	Gt       Operator = "gt"
	Gte      Operator = "gte"
	Lt       Operator = "lt"
	Lte      Operator = "lte"
	Contains Operator = "contains"
	Regex    Operator = "regex"
	In       Operator = "in"
	Exists   Operator = "exists"
)

var knownOperators = map[Operator]bool{
	Eq: true, Ne: true, Gt: true, Gte: true, Lt: true, Lte: true,
	Contains: true, Regex: true, In: true, Exists: true,
}

// Rule is a leaf comparing the value at Field with Value.
type Rule struct {
	Field    string
	Operator Operator
	Value    any
	Negate   bool

	re *regexp.Regexp
}

// NewRule validates the operator and compiles regex values up front.
func NewRule(field string, op Operator, value any, negate bool) (*Rule, error) {
	op = Operator(strings.ToLower(strings.TrimSpace(string(op))))
	if field == "" {
		return nil, fmt.Errorf("rule field cannot be empty")
	}
	if !knownOperators[op] {
		return nil, fmt.Errorf("unknown operator: %s", op)
	}

	r := &Rule{Field: field, Operator: op, Value: value, Negate: negate}
	switch op {
	case Regex:
		pattern, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("regex value for field %s must be a string", field)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid regex for field %s: %w", field, err)
		}
		r.re = re
	case In:
		if _, ok := asSlice(value); !ok {
			return nil, fmt.Errorf("in value for field %s must be a list", field)
		}
	}
	return r, nil
}

// Match implements Node. A missing field never matches, whatever the operator,
// and Negate does not turn a missing field into a match.
func (r *Rule) Match(data map[string]any) bool {
	actual, ok := document.Lookup(data, r.Field)
	if !ok {
		return false
	}
	return r.compare(actual) != r.Negate
}

func (r *Rule) compare(actual any) bool {
	switch r.Operator {
	case Exists:
		return actual != nil
	case Eq:
		return equal(actual, r.Value)
	case Ne:
		return !equal(actual, r.Value)
	case Gt, Gte, Lt, Lte:
		c, ok := order(actual, r.Value)
		if !ok {
			return false
		}
		switch r.Operator {
		case Gt:
			return c > 0
		case Gte:
			return c >= 0
		case Lt:
			return c < 0
		default:
			return c <= 0
		}
	case Contains:
		return contains(actual, r.Value)
	case Regex:
		s, ok := actual.(string)
		return ok && r.re != nil && r.re.MatchString(s)
	case In:
		options, _ := asSlice(r.Value)
		for _, opt := range options {
			if equal(actual, opt) {
				return true
			}
		}
		return false
	}
	return false
}

// Equal reports whether two document values are equal, treating every numeric
// kind as a float64. Two nils are equal.
func Equal(a, b any) bool { return equal(a, b) }

func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		return ok && sa == sb
	}
	return reflect.DeepEqual(a, b)
}

// order returns -1, 0 or 1. Only number/number and string/string pairs are ordered.
func order(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	sa, ok := a.(string)
	if !ok {
		return 0, false
	}
	sb, ok := b.(string)
	if !ok {
		return 0, false
	}
	return strings.Compare(sa, sb), true
}

func contains(actual, want any) bool {
	if s, ok := actual.(string); ok {
		w, ok := want.(string)
		return ok && strings.Contains(s, w)
	}
	if items, ok := asSlice(actual); ok {
		for _, item := range items {
			if equal(item, want) {
				return true
			}
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out, true
	}
	return nil, false
}
