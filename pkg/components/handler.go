package components

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/crystal-mush/mushcontrib/pkg/gamedb"
	"go.uber.org/zap"
)

// ObjectSaver persists a host after its component state changes.
// boltstore.Store satisfies it.
type ObjectSaver interface {
	PutObject(obj *gamedb.Object) error
}

// Handler is the per-host component registry. The host's COMPONENT_NAMES
// attribute is authoritative; the live map is rebuilt from it by Initialize.
type Handler struct {
	host    *gamedb.Object
	classes *ClassRegistry
	saver   ObjectSaver
	live    map[string]Component
}

// NewHandler returns an empty handler for host. saver may be nil, in which
// case changes stay in memory until the host is saved by someone else.
func NewHandler(host *gamedb.Object, classes *ClassRegistry, saver ObjectSaver) *Handler {
	if classes == nil {
		classes = DefaultRegistry
	}
	return &Handler{
		host:    host,
		classes: classes,
		saver:   saver,
		live:    make(map[string]Component),
	}
}

// Host returns the object that owns this handler.
func (h *Handler) Host() *gamedb.Object { return h.host }

// Add attaches a built component. The name must resolve to a registered
// class and is matched case-insensitively, so a second component that differs
// only in case is rejected with ErrAlreadyRegistered. If the host cannot be
// saved the handler and host are put back as they were.
func (h *Handler) Add(c Component) error {
	name := c.Name()
	if err := validName(name); err != nil {
		return fmt.Errorf("components: add to %s: %w", h.host.Ref(), err)
	}
	class, ok := h.classes.Lookup(name)
	if !ok {
		return fmt.Errorf("components: add %s to %s: %w", name, h.host.Ref(), ErrComponentNotFound)
	}
	if h.Has(name) || slices.ContainsFunc(h.persisted(), func(n string) bool { return strings.EqualFold(n, name) }) {
		return fmt.Errorf("components: add %s to %s: %w", name, h.host.Ref(), ErrAlreadyRegistered)
	}
	if name != class.Name {
		return fmt.Errorf("components: add %s to %s: class is named %q", name, h.host.Ref(), class.Name)
	}

	before := snapshotHost(h.host)
	h.live[key(name)] = c
	h.host.SetAttrList(NamesAttr, append(h.persisted(), name))
	h.host.Tags.Add(name, TagCategory)
	c.AtAdded(h)
	setTagDefaults(c)
	if err := h.save(); err != nil {
		delete(h.live, key(name))
		before.restore(h.host)
		return err
	}
	return nil
}

// AddDefault builds the named class with its defaults and attaches it.
// Nothing on the host changes if the class is unknown.
func (h *Handler) AddDefault(name string) error {
	class, ok := h.classes.Lookup(name)
	if !ok {
		return fmt.Errorf("components: add %s to %s: %w", name, h.host.Ref(), ErrComponentNotFound)
	}
	if h.Has(class.Name) {
		return fmt.Errorf("components: add %s to %s: %w", class.Name, h.host.Ref(), ErrAlreadyRegistered)
	}
	c, err := class.defaultCreate(h.host)
	if err != nil {
		return fmt.Errorf("components: create %s on %s: %w", class.Name, h.host.Ref(), err)
	}
	return h.Add(c)
}

// Remove detaches c. It fails with ErrNotRegistered if c is not the
// component currently live under its name.
func (h *Handler) Remove(c Component) error {
	if cur, ok := h.live[key(c.Name())]; !ok || cur != c {
		return fmt.Errorf("components: remove %s from %s: %w", c.Name(), h.host.Ref(), ErrNotRegistered)
	}
	return h.detach(c)
}

// RemoveByName detaches the named component.
func (h *Handler) RemoveByName(name string) error {
	c, ok := h.live[key(name)]
	if !ok {
		return fmt.Errorf("components: remove %s from %s: %w", name, h.host.Ref(), ErrNotRegistered)
	}
	return h.detach(c)
}

// detach runs AtRemoved and strips the component from the host. On a failed
// save the host state and live entry come back; AtRemoved is not undone.
func (h *Handler) detach(c Component) error {
	name := c.Name()
	before := snapshotHost(h.host)
	c.AtRemoved(h)
	h.strip(c)
	delete(h.live, key(name))
	if err := h.save(); err != nil {
		h.live[key(name)] = c
		before.restore(h.host)
		return err
	}
	return nil
}

// strip removes the component's persisted name, marker tag and tag fields.
func (h *Handler) strip(c Component) {
	name := c.Name()
	names := slices.DeleteFunc(h.persisted(), func(n string) bool { return strings.EqualFold(n, name) })
	h.host.SetAttrList(NamesAttr, names)
	h.host.Tags.Remove(name, TagCategory)
	for _, f := range c.TagFields() {
		h.host.Tags.Clear(TagFieldCategory(name, f.Name))
	}
}

// Destroy runs AtRemoved on every live component, in attach order, and
// empties the handler. It is the host-destroyed path; nothing is saved since
// the host is going away.
func (h *Handler) Destroy() {
	for _, name := range h.Names() {
		c := h.live[key(name)]
		c.AtRemoved(h)
		h.strip(c)
	}
	clear(h.live)
}

// Get returns the live component, if any.
func (h *Handler) Get(name string) (Component, bool) {
	c, ok := h.live[key(name)]
	return c, ok
}

func (h *Handler) Has(name string) bool {
	_, ok := h.live[key(name)]
	return ok
}

// Names returns the attached component names in the order they were added.
func (h *Handler) Names() []string {
	var out []string
	for _, n := range h.persisted() {
		if h.Has(n) {
			out = append(out, n)
		}
	}
	return out
}

// Len returns the number of live components.
func (h *Handler) Len() int { return len(h.live) }

// Initialize rebuilds the live map from the persisted names. A name with no
// registered class means the stored state is corrupt; Initialize stops and
// returns ErrComponentNotFound rather than dropping it.
func (h *Handler) Initialize() error {
	names := h.persisted()
	if len(names) == 0 {
		clear(h.live)
		return nil
	}
	live := make(map[string]Component, len(names))
	var deduped []string
	for _, name := range names {
		if _, seen := live[key(name)]; seen {
			continue
		}
		class, ok := h.classes.Lookup(name)
		if !ok {
			return fmt.Errorf("components: initialize %s on %s: %w", name, h.host.Ref(), ErrComponentNotFound)
		}
		c, err := class.Load(h.host)
		if err != nil {
			return fmt.Errorf("components: load %s on %s: %w", name, h.host.Ref(), err)
		}
		live[key(name)] = c
		deduped = append(deduped, name)
	}
	h.live = live
	if len(deduped) != len(names) {
		zap.L().Warn("components: dropped duplicate persisted names",
			zap.Stringer("host", h.host.Ref()), zap.Strings("names", names))
		h.host.SetAttrList(NamesAttr, deduped)
		return h.save()
	}
	return nil
}

func (h *Handler) persisted() []string {
	return h.host.AttrList(NamesAttr)
}

func (h *Handler) save() error {
	if h.saver == nil {
		return nil
	}
	if err := h.saver.PutObject(h.host); err != nil {
		return fmt.Errorf("components: save %s: %w", h.host.Ref(), err)
	}
	return nil
}

// setTagDefaults sets every tag field that declares a non-empty default to
// that default.
func setTagDefaults(c Component) {
	for _, f := range c.TagFields() {
		if f.Default != "" {
			c.SetTagValue(f.Name, f.Default)
		}
	}
}

func key(name string) string { return strings.ToLower(name) }

// hostState is the part of a host a component mutation can touch.
type hostState struct {
	attrs map[string]string
	tags  gamedb.TagSet
}

func snapshotHost(obj *gamedb.Object) hostState {
	return hostState{attrs: maps.Clone(obj.Attrs), tags: obj.Tags.Clone()}
}

func (s hostState) restore(obj *gamedb.Object) {
	obj.Attrs = s.attrs
	obj.Tags = s.tags
}

// GetAs returns the named component as a concrete type.
func GetAs[T Component](h *Handler, name string) (T, bool) {
	var zero T
	c, ok := h.Get(name)
	if !ok {
		return zero, false
	}
	t, ok := c.(T)
	return t, ok
}
