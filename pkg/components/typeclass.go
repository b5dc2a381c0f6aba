package components

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Declaration asks that every object of a typeclass carry a component,
// created with the given override values.
type Declaration struct {
	Component string
	Values    map[string]string
}

// Typeclass is a named object kind with a static list of component
// declarations. A child typeclass extends its parent's list.
type Typeclass struct {
	Name   string
	Parent *Typeclass
	decls  []Declaration
}

// NewTypeclass starts a typeclass definition.
func NewTypeclass(name string, parent *Typeclass) *Typeclass {
	return &Typeclass{Name: name, Parent: parent}
}

// Declare adds a component declaration and returns t for chaining. If the
// typeclass already declares the component, its override values are replaced.
func (t *Typeclass) Declare(component string, values map[string]string) *Typeclass {
	d := Declaration{Component: component, Values: values}
	for i := range t.decls {
		if t.decls[i].Component == component {
			t.decls[i] = d
			return t
		}
	}
	t.decls = append(t.decls, d)
	return t
}

// Declarations returns the full inherited list, parents first. A child
// declaration of a name the parent already declares replaces the parent's
// values in place.
func (t *Typeclass) Declarations() []Declaration {
	var out []Declaration
	if t.Parent != nil {
		out = t.Parent.Declarations()
	}
	for _, d := range t.decls {
		i := slices.IndexFunc(out, func(o Declaration) bool { return strings.EqualFold(o.Component, d.Component) })
		if i >= 0 {
			out[i] = d
		} else {
			out = append(out, d)
		}
	}
	return out
}

// Declares reports whether the typeclass (or an ancestor) declares component.
func (t *Typeclass) Declares(component string) bool {
	for tc := t; tc != nil; tc = tc.Parent {
		for _, d := range tc.decls {
			if strings.EqualFold(d.Component, component) {
				return true
			}
		}
	}
	return false
}

// Component is the read-only accessor for a declared component. Names the
// typeclass does not declare are never answered, even if attached at runtime.
func (t *Typeclass) Component(h *Handler, name string) (Component, bool) {
	if !t.Declares(name) {
		return nil, false
	}
	return h.Get(name)
}

// IsA reports whether t is name or descends from it.
func (t *Typeclass) IsA(name string) bool {
	for tc := t; tc != nil; tc = tc.Parent {
		if strings.EqualFold(tc.Name, name) {
			return true
		}
	}
	return false
}

// TypeclassRegistry resolves the typeclass names stored on objects.
type TypeclassRegistry struct {
	mu    sync.RWMutex
	types map[string]*Typeclass
}

func NewTypeclassRegistry() *TypeclassRegistry {
	return &TypeclassRegistry{types: make(map[string]*Typeclass)}
}

// Register adds t. Duplicate names are an error.
func (r *TypeclassRegistry) Register(t *Typeclass) error {
	key := strings.ToLower(t.Name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.types[key]; dup {
		return fmt.Errorf("components: typeclass %q registered twice", t.Name)
	}
	r.types[key] = t
	return nil
}

// Lookup resolves a typeclass by name.
func (r *TypeclassRegistry) Lookup(name string) (*Typeclass, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[strings.ToLower(name)]
	return t, ok
}

// Names returns the registered typeclass names, sorted.
func (r *TypeclassRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for _, t := range r.types {
		names = append(names, t.Name)
	}
	slices.Sort(names)
	return names
}
