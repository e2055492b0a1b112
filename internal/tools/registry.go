// Package tools defines the agent tool surface: a registry of tool
// specs with their category assigned at registration, and a runner
// that executes tool calls against the workspace.
//
// Categories drive the investigation gate: resolving tools change the
// codebase and are blocked until the analysis checklist floor is met;
// investigative tools gather evidence; neutral tools do neither.
package tools

import (
	"fmt"
	"sort"
	"sync"
)

// Category classifies a tool's effect on the gating protocol.
type Category string

const (
	Investigative Category = "investigative"
	Resolving     Category = "resolving"
	Neutral       Category = "neutral"
)

// Spec describes one registered tool.
type Spec struct {
	Name        string
	Description string
	Category    Category
	// InputSchema is the JSON-schema properties object for the tool's
	// arguments, in the shape the Anthropic API expects.
	InputSchema map[string]interface{}
	Required    []string
}

var (
	regMu  sync.Mutex
	sealed bool
	specs  = make(map[string]Spec)
)

// register adds a spec to the package registry. Panics on duplicates
// or registration after sealing; tool registration is an init-time
// concern and mistakes there are programmer errors.
func register(s Spec) {
	regMu.Lock()
	defer regMu.Unlock()
	if sealed {
		panic(fmt.Sprintf("tools: registry sealed, cannot register %q", s.Name))
	}
	if s.Name == "" {
		panic("tools: spec with empty name")
	}
	if _, dup := specs[s.Name]; dup {
		panic(fmt.Sprintf("tools: duplicate registration of %q", s.Name))
	}
	switch s.Category {
	case Investigative, Resolving, Neutral:
	default:
		panic(fmt.Sprintf("tools: %q registered with unknown category %q", s.Name, s.Category))
	}
	specs[s.Name] = s
}

// Seal closes the registry. Called once from the phase constructor.
func Seal() {
	regMu.Lock()
	defer regMu.Unlock()
	sealed = true
}

// Lookup returns the spec for a tool name.
func Lookup(name string) (Spec, bool) {
	regMu.Lock()
	defer regMu.Unlock()
	s, ok := specs[name]
	return s, ok
}

// CategoryOf returns the category of a tool, or Neutral for unknown
// names so an unrecognized call never accidentally counts as a
// resolution.
func CategoryOf(name string) Category {
	if s, ok := Lookup(name); ok {
		return s.Category
	}
	return Neutral
}

// IsResolving reports whether the named tool changes the codebase.
func IsResolving(name string) bool {
	return CategoryOf(name) == Resolving
}

// All returns every registered spec sorted by name.
func All() []Spec {
	regMu.Lock()
	defer regMu.Unlock()
	out := make([]Spec, 0, len(specs))
	for _, s := range specs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ByCategory returns the names of every tool in the given category,
// sorted.
func ByCategory(c Category) []string {
	var out []string
	for _, s := range All() {
		if s.Category == c {
			out = append(out, s.Name)
		}
	}
	return out
}
