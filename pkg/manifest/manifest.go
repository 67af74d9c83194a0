// Package manifest loads the capability manifest: which built-ins are
// exposed to the page, how they are described, and the callback entry point.
package manifest

import (
	"fmt"
	"sort"
)

// Capability configures one built-in capability.
type Capability struct {
	// Enabled defaults to true when omitted.
	Enabled     *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Manifest is the root manifest document.
type Manifest struct {
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version" json:"version"`
	// EntryPoint overrides the web-side callback function.
	EntryPoint   string                `yaml:"entryPoint,omitempty" json:"entryPoint,omitempty"`
	Capabilities map[string]Capability `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	// Aliases expose a capability under an additional name (alias -> capability).
	Aliases map[string]string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
}

// Default returns the manifest used when no file is found: every built-in
// enabled under its own name.
func Default() *Manifest {
	return &Manifest{
		Name:    "rainbowbridge-default",
		Version: "1.0.0",
	}
}

// Enabled reports whether name should be registered.
func (m *Manifest) Enabled(name string) bool {
	if m == nil {
		return true
	}
	c, ok := m.Capabilities[name]
	if !ok || c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// Description returns the manifest description for name, or fallback.
func (m *Manifest) Description(name, fallback string) string {
	if m == nil {
		return fallback
	}
	if c, ok := m.Capabilities[name]; ok && c.Description != "" {
		return c.Description
	}
	return fallback
}

// AliasesFor returns the aliases pointing at name, sorted.
func (m *Manifest) AliasesFor(name string) []string {
	if m == nil {
		return nil
	}
	var out []string
	for alias, target := range m.Aliases {
		if target == name {
			out = append(out, alias)
		}
	}
	sort.Strings(out)
	return out
}

// Validate checks that the manifest only names known capabilities.
func (m *Manifest) Validate(known []string) error {
	if m == nil {
		return nil
	}
	set := make(map[string]bool, len(known))
	for _, k := range known {
		set[k] = true
	}
	for name := range m.Capabilities {
		if !set[name] {
			return fmt.Errorf("%s - unknown capability %q", logPrefix, name)
		}
	}
	for alias, target := range m.Aliases {
		if !set[target] {
			return fmt.Errorf("%s - alias %q targets unknown capability %q", logPrefix, alias, target)
		}
		if set[alias] {
			return fmt.Errorf("%s - alias %q shadows a capability", logPrefix, alias)
		}
	}
	return nil
}
