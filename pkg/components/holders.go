package components

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/crystal-mush/mushcontrib/pkg/gamedb"
	"github.com/kamstrup/intmap"
	"go.uber.org/zap"
)

// ErrAlreadySetUp means Setup was called twice for the same object.
var ErrAlreadySetUp = errors.New("components already set up")

// Holders owns the live Handler of every component-carrying object, keyed
// by dbref. It is the game's view of obj.components.
type Holders struct {
	mu       sync.Mutex
	classes  *ClassRegistry
	types    *TypeclassRegistry
	saver    ObjectSaver
	handlers *intmap.Map[gamedb.DBRef, *Handler]
}

// NewHolders creates an empty handler cache.
func NewHolders(classes *ClassRegistry, types *TypeclassRegistry, saver ObjectSaver) *Holders {
	if classes == nil {
		classes = DefaultRegistry
	}
	if types == nil {
		types = NewTypeclassRegistry()
	}
	return &Holders{
		classes:  classes,
		types:    types,
		saver:    saver,
		handlers: intmap.New[gamedb.DBRef, *Handler](256),
	}
}

// Classes returns the class registry handlers resolve names against.
func (hs *Holders) Classes() *ClassRegistry { return hs.classes }

// Types returns the typeclass registry.
func (hs *Holders) Types() *TypeclassRegistry { return hs.types }

// Setup is the first-instance hook for a newly created object. It builds
// every component the object's typeclass declares, seeds COMPONENT_NAMES,
// then tags the host. AtAdded is not called here; declared components are
// part of the object from birth. Setup must run once per object; reloads go
// through Init.
func (hs *Holders) Setup(obj *gamedb.Object) (*Handler, error) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if _, ok := hs.handlers.Get(obj.DBRef); ok {
		return nil, fmt.Errorf("components: setup %s: %w", obj.Ref(), ErrAlreadySetUp)
	}

	var decls []Declaration
	if obj.Typeclass != "" {
		tc, ok := hs.types.Lookup(obj.Typeclass)
		if !ok {
			return nil, fmt.Errorf("components: setup %s: unknown typeclass %q", obj.Ref(), obj.Typeclass)
		}
		decls = tc.Declarations()
	}

	// Resolve everything first so an unknown class leaves the object untouched.
	classes := make([]Class, len(decls))
	for i, d := range decls {
		c, ok := hs.classes.Lookup(d.Component)
		if !ok {
			return nil, fmt.Errorf("components: setup %s: %s: %w", obj.Ref(), d.Component, ErrComponentNotFound)
		}
		classes[i] = c
	}

	before := snapshotHost(obj)
	h := NewHandler(obj, hs.classes, hs.saver)
	names := make([]string, 0, len(decls))
	for i, d := range decls {
		c, err := classes[i].Create(obj, d.Values)
		if err != nil {
			before.restore(obj)
			return nil, fmt.Errorf("components: setup %s: create %s: %w", obj.Ref(), d.Component, err)
		}
		h.live[key(c.Name())] = c
		names = append(names, c.Name())
		// Declared values win over class defaults.
		for _, f := range c.TagFields() {
			if f.Default != "" && d.Values[f.Name] == "" {
				c.SetTagValue(f.Name, f.Default)
			}
		}
	}
	obj.SetAttrList(NamesAttr, names)
	for _, name := range names {
		obj.Tags.Add(name, TagCategory)
	}
	if err := h.save(); err != nil {
		before.restore(obj)
		return nil, err
	}
	hs.handlers.Put(obj.DBRef, h)
	return h, nil
}

// Init rebuilds the handler of an object loaded from storage.
func (hs *Holders) Init(obj *gamedb.Object) (*Handler, error) {
	h := NewHandler(obj, hs.classes, hs.saver)
	if err := h.Initialize(); err != nil {
		return nil, err
	}
	hs.mu.Lock()
	hs.handlers.Put(obj.DBRef, h)
	hs.mu.Unlock()
	return h, nil
}

// InitAll initializes every live object in db in dbref order. The first
// integrity error aborts; a game with corrupt component state must not boot.
func (hs *Holders) InitAll(db *gamedb.Database) error {
	refs := make([]gamedb.DBRef, 0, len(db.Objects))
	for ref := range db.Objects {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })

	n := 0
	for _, ref := range refs {
		obj, ok := db.Get(ref)
		if !ok {
			continue
		}
		h, err := hs.Init(obj)
		if err != nil {
			return err
		}
		n += h.Len()
	}
	zap.L().Info("components: initialized handlers",
		zap.Int("objects", hs.Len()), zap.Int("components", n))
	return nil
}

// Handler returns the cached handler for ref.
func (hs *Holders) Handler(ref gamedb.DBRef) (*Handler, bool) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.handlers.Get(ref)
}

// Destroy tears down the components of a host that is being destroyed:
// every live component gets AtRemoved, the host's component state is
// stripped and the cached handler is dropped. Objects without a handler are
// ignored.
func (hs *Holders) Destroy(ref gamedb.DBRef) {
	hs.mu.Lock()
	h, ok := hs.handlers.Get(ref)
	hs.handlers.Del(ref)
	hs.mu.Unlock()
	if ok {
		h.Destroy()
	}
}

// Len returns the number of cached handlers.
func (hs *Holders) Len() int {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.handlers.Len()
}
