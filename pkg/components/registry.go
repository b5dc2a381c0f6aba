package components

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/crystal-mush/mushcontrib/pkg/gamedb"
)

// Class describes how to build a component. Create applies per-typeclass
// overrides, DefaultCreate builds with class defaults (falls back to Create
// with no overrides when nil), and Load rebuilds a live component from the
// data already stored on the host.
type Class struct {
	Name          string
	Create        func(host *gamedb.Object, values map[string]string) (Component, error)
	DefaultCreate func(host *gamedb.Object) (Component, error)
	Load          func(host *gamedb.Object) (Component, error)
}

func (c Class) defaultCreate(host *gamedb.Object) (Component, error) {
	if c.DefaultCreate != nil {
		return c.DefaultCreate(host)
	}
	return c.Create(host, nil)
}

// ClassRegistry maps component names to classes. Names are case-insensitive.
type ClassRegistry struct {
	mu      sync.RWMutex
	classes map[string]Class
}

// NewClassRegistry creates an empty registry.
func NewClassRegistry() *ClassRegistry {
	return &ClassRegistry{classes: make(map[string]Class)}
}

// DefaultRegistry is the process-wide class registry used by cmd/server.
var DefaultRegistry = NewClassRegistry()

// Register adds a class. Registering the same name twice is an error.
func (r *ClassRegistry) Register(c Class) error {
	if err := validName(c.Name); err != nil {
		return fmt.Errorf("components: register: %w", err)
	}
	if c.Create == nil || c.Load == nil {
		return fmt.Errorf("components: class %q needs Create and Load", c.Name)
	}
	k := key(c.Name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.classes[k]; dup {
		return fmt.Errorf("components: class %q registered twice", c.Name)
	}
	r.classes[k] = c
	return nil
}

// validName rejects names that cannot live in the space-separated
// COMPONENT_NAMES list.
func validName(name string) error {
	if name == "" || strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return fmt.Errorf("invalid component name %q", name)
	}
	return nil
}

// MustRegister is Register that panics on error, for package-level wiring.
func (r *ClassRegistry) MustRegister(c Class) {
	if err := r.Register(c); err != nil {
		panic(err)
	}
}

// Lookup resolves a class by name.
func (r *ClassRegistry) Lookup(name string) (Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[key(name)]
	return c, ok
}

// Names returns the registered class names, sorted.
func (r *ClassRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.classes))
	for _, c := range r.classes {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}
