// Package platform defines per-source preparation strategies applied before condensing.
package platform

import (
	"fmt"
	"sort"
	"strings"
)

// Handler prepares raw document data produced by one kind of platform.
type Handler interface {
	// Name returns the platform label chutes refer to (e.g., "syslog", "mail").
	Name() string

	// Prepare returns the data to condense. It must not mutate its input.
	Prepare(data map[string]any) map[string]any
}

// Registry manages platform handlers.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// DefaultRegistry returns a registry with every built-in handler registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Generic{})
	r.Register(Syslog{})
	r.Register(Mail{})
	return r
}

// Register registers a handler, replacing any handler with the same name.
func (r *Registry) Register(h Handler) {
	r.handlers[h.Name()] = h
}

// Get retrieves a handler by name.
func (r *Registry) Get(name string) (Handler, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("unknown platform: %s", name)
	}
	return h, nil
}

// List returns all registered platform names, sorted.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Generic passes data through unchanged.
type Generic struct{}

func (Generic) Name() string { return "generic" }

func (Generic) Prepare(data map[string]any) map[string]any { return data }

// Syslog splits a BSD-style "message" line ("<host> <program>[pid]: text") into
// host, program and text fields when those are not already present.
type Syslog struct{}

func (Syslog) Name() string { return "syslog" }

func (Syslog) Prepare(data map[string]any) map[string]any {
	line, ok := data["message"].(string)
	if !ok {
		return data
	}
	out := clone(data)

	head, text, found := strings.Cut(line, ": ")
	if !found {
		return out
	}
	fields := strings.Fields(head)
	if len(fields) < 2 {
		return out
	}
	program := fields[len(fields)-1]
	if i := strings.IndexByte(program, '['); i > 0 {
		setDefault(out, "pid", strings.TrimSuffix(program[i+1:], "]"))
		program = program[:i]
	}
	setDefault(out, "host", fields[len(fields)-2])
	setDefault(out, "program", program)
	setDefault(out, "text", text)
	return out
}

// Mail lower-cases header names and lifts the common headers to the top level.
type Mail struct{}

func (Mail) Name() string { return "mail" }

func (Mail) Prepare(data map[string]any) map[string]any {
	headers, ok := data["headers"].(map[string]any)
	if !ok {
		return data
	}
	out := clone(data)
	lowered := make(map[string]any, len(headers))
	for k, v := range headers {
		lowered[strings.ToLower(k)] = v
	}
	out["headers"] = lowered
	for _, h := range []string{"from", "to", "subject", "date"} {
		if v, ok := lowered[h]; ok {
			setDefault(out, h, v)
		}
	}
	return out
}

func clone(data map[string]any) map[string]any {
	out := make(map[string]any, len(data)+4)
	for k, v := range data {
		out[k] = v
	}
	return out
}

func setDefault(m map[string]any, key string, v any) {
	if _, ok := m[key]; !ok {
		m[key] = v
	}
}
