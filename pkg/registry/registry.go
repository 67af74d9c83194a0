package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

const logPrefix = "registry:registry"

// Entry is a registered capability.
type Entry struct {
	Name        string
	Mode        Mode
	Description string
	// ParamsSchema is the JSON Schema of the params, nil when not declared.
	ParamsSchema json.RawMessage
	Handler      Handler
}

// Option configures an Entry at registration.
type Option func(*Entry)

// WithMode sets the callback registration mode.
func WithMode(m Mode) Option {
	return func(e *Entry) { e.Mode = m }
}

// WithDescription sets a human readable description.
func WithDescription(desc string) Option {
	return func(e *Entry) { e.Description = desc }
}

// WithParams declares the params shape from a Go struct.
func WithParams(model any) Option {
	return func(e *Entry) {
		schema, err := SchemaFor(model)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - no params schema for %s: %v", logPrefix, e.Name, err))
			return
		}
		e.ParamsSchema = schema
	}
}

// Registry is the capability name to handler mapping. It is populated once
// when the bridge is built; entries are never removed.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register binds a handler to name. Registering an existing name replaces it.
func (r *Registry) Register(name string, h Handler, opts ...Option) {
	entry := &Entry{Name: name, Mode: SingleShot, Handler: h}
	for _, opt := range opts {
		opt(entry)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		slog.Debug(fmt.Sprintf("%s - replacing handler for %s", logPrefix, name))
	}
	r.entries[name] = entry
}

// Resolve returns the entry registered under name.
func (r *Registry) Resolve(name string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%s - %w: %s", logPrefix, ErrNotFound, name)
	}
	return entry, nil
}

// List returns all entries sorted by name.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the registered capability names, sorted.
func (r *Registry) Names() []string {
	entries := r.List()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}
