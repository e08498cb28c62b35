// Package config parses the proxy's lenient configuration document into a
// list of child specifications, and centralizes the small set of recognized
// environment variables.
package config

import (
	"path/filepath"
	"strings"
)

// ChildSpec is an immutable description of one child server, produced by
// the loader and consumed once at startup when the child is spawned.
type ChildSpec struct {
	// Name is the optional logical name used to key the child's published
	// tool namespace. When empty, the basename of Command is used instead.
	Name string `json:"name,omitempty"`
	// Command is the executable to run.
	Command string `json:"command"`
	// Args is the ordered argument list passed to Command.
	Args []string `json:"args,omitempty"`
	// Env overlays the proxy's own environment for this child only.
	Env map[string]string `json:"env,omitempty"`
}

// rawEntry is the on-the-wire shape of one server entry across every
// recognized configuration document shape.
type rawEntry struct {
	Name    string            `json:"name,omitempty"`
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

func (r rawEntry) valid() bool {
	return r.Command != ""
}

func (r rawEntry) toSpec(fallbackName string) ChildSpec {
	name := r.Name
	if name == "" {
		name = fallbackName
	}

	return ChildSpec{
		Name:    name,
		Command: r.Command,
		Args:    append([]string(nil), r.Args...),
		Env:     r.Env,
	}
}

// Key computes the namespace prefix a child's tools are published under:
// its configured Name if set, else the basename of Command, lower-cased
// with runs of non-alphanumeric characters collapsed to a single
// underscore and leading/trailing underscores trimmed.
func Key(spec ChildSpec) string {
	raw := spec.Name
	if raw == "" {
		raw = filepath.Base(spec.Command)
	}

	lower := strings.ToLower(raw)

	var b strings.Builder

	prevUnderscore := false

	for _, r := range lower {
		if isKeyRune(r) {
			b.WriteRune(r)
			prevUnderscore = false

			continue
		}

		if !prevUnderscore && b.Len() > 0 {
			b.WriteRune('_')
			prevUnderscore = true
		}
	}

	return strings.Trim(b.String(), "_")
}

func isKeyRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}
