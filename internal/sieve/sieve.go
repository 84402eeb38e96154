// Package sieve evaluates boolean rule trees against document data.
//
// A Sieve is stateless: it is built once from configuration and may be shared by
// any number of goroutines. Evaluation never fails; a rule that cannot be
// evaluated (missing field, mismatched types) simply does not match.
package sieve

import (
	"fmt"
	"strings"
)

// Node is one element of a rule tree.
type Node interface {
	Match(data map[string]any) bool
}

// Logic combines the children of a Group.
type Logic string

const (
	And Logic = "AND"
	Or  Logic = "OR"
)

// ParseLogic normalizes a logic name. An empty string means AND.
func ParseLogic(s string) (Logic, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "AND":
		return And, nil
	case "OR":
		return Or, nil
	default:
		return "", fmt.Errorf("unknown logic: %s", s)
	}
}

// Group combines child nodes. AND stops at the first false child, OR at the
// first true one. An empty AND group matches, an empty OR group does not.
type Group struct {
	Logic  Logic
	Nodes  []Node
	Negate bool
}

// Match implements Node.
func (g *Group) Match(data map[string]any) bool {
	var result bool
	if g.Logic == Or {
		result = false
		for _, n := range g.Nodes {
			if n.Match(data) {
				result = true
				break
			}
		}
	} else {
		result = true
		for _, n := range g.Nodes {
			if !n.Match(data) {
				result = false
				break
			}
		}
	}
	return result != g.Negate
}

// Sieve is a named rule tree.
type Sieve struct {
	Name string
	Root Node
}

// New creates a Sieve. A nil root matches everything.
func New(name string, root Node) *Sieve {
	return &Sieve{Name: name, Root: root}
}

// IsMatch reports whether data satisfies the sieve.
func (s *Sieve) IsMatch(data map[string]any) bool {
	if s == nil || s.Root == nil {
		return true
	}
	return s.Root.Match(data)
}

func (s *Sieve) String() string {
	if s == nil {
		return "<nil sieve>"
	}
	return s.Name
}
