package components

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/crystal-mush/mushcontrib/pkg/gamedb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hookComp is a minimal component that records its hooks.
type hookComp struct {
	Base
	added, removed int
}

func (p *hookComp) AtAdded(*Handler)   { p.added++ }
func (p *hookComp) AtRemoved(*Handler) { p.removed++ }

func hookClass(name string, fields ...TagField) Class {
	build := func(host *gamedb.Object, values map[string]string) (Component, error) {
		p := &hookComp{Base: NewBase(name, host, fields...)}
		for _, f := range fields {
			if v := values[f.Name]; v != "" {
				p.SetTagValue(f.Name, v)
			}
		}
		return p, nil
	}
	return Class{
		Name:   name,
		Create: build,
		Load: func(host *gamedb.Object) (Component, error) {
			return build(host, nil)
		},
	}
}

type recordingSaver struct {
	saves int
	err   error
}

func (s *recordingSaver) PutObject(*gamedb.Object) error {
	if s.err != nil {
		return s.err
	}
	s.saves++
	return nil
}

func newTestHandler(t *testing.T) (*Handler, *ClassRegistry, *recordingSaver) {
	t.Helper()
	r := NewClassRegistry()
	r.MustRegister(hookClass("alpha"))
	r.MustRegister(hookClass("beta", TagField{Name: "mood", Default: "calm"}))
	r.MustRegister(hookClass("gamma", TagField{Name: "empty"}))
	host := &gamedb.Object{DBRef: 10, Name: "Host", Type: gamedb.TypeThing}
	saver := &recordingSaver{}
	return NewHandler(host, r, saver), r, saver
}

// liveMatchesPersisted checks the registry invariant: live keys equal the
// de-duplicated persisted names.
func liveMatchesPersisted(t *testing.T, h *Handler) {
	t.Helper()
	var persisted []string
	for _, name := range h.Host().AttrList(NamesAttr) {
		persisted = append(persisted, strings.ToLower(name))
	}
	slices.Sort(persisted)
	persisted = slices.Compact(persisted)
	var live []string
	for name := range h.live {
		live = append(live, name)
	}
	slices.Sort(live)
	assert.Equal(t, persisted, live)
	for _, name := range live {
		assert.True(t, h.Host().Tags.Has(name, TagCategory), "marker tag for %s", name)
	}
}

func TestAddGetSameInstance(t *testing.T) {
	h, r, saver := newTestHandler(t)
	class, _ := r.Lookup("alpha")
	c, err := class.Create(h.Host(), nil)
	require.NoError(t, err)

	require.NoError(t, h.Add(c))
	got, ok := h.Get("alpha")
	require.True(t, ok)
	assert.Same(t, c, got)
	assert.True(t, h.Has("alpha"))
	assert.Equal(t, 1, c.(*hookComp).added)
	assert.Equal(t, []string{"alpha"}, h.Host().AttrList(NamesAttr))
	assert.Equal(t, 1, saver.saves)
	liveMatchesPersisted(t, h)
}

func TestAddRejectsDuplicate(t *testing.T) {
	h, _, _ := newTestHandler(t)
	require.NoError(t, h.AddDefault("alpha"))
	err := h.AddDefault("alpha")
	assert.True(t, errors.Is(err, ErrAlreadyRegistered))

	other := &hookComp{Base: NewBase("alpha", h.Host())}
	err = h.Add(other)
	assert.True(t, errors.Is(err, ErrAlreadyRegistered))
	assert.Equal(t, []string{"alpha"}, h.Host().AttrList(NamesAttr))
	liveMatchesPersisted(t, h)
}

func TestAddAppliesTagDefaults(t *testing.T) {
	h, _, _ := newTestHandler(t)
	require.NoError(t, h.AddDefault("beta"))
	require.NoError(t, h.AddDefault("gamma"))

	assert.True(t, h.Host().Tags.Has("calm", TagFieldCategory("beta", "mood")))
	assert.Empty(t, h.Host().Tags.Keys(TagFieldCategory("gamma", "empty")))
}

func TestAddSetsDefaultOverPrebuiltValue(t *testing.T) {
	h, r, _ := newTestHandler(t)
	class, _ := r.Lookup("beta")
	c, err := class.Create(h.Host(), map[string]string{"mood": "angry"})
	require.NoError(t, err)
	require.Equal(t, "angry", c.TagValue("mood"))

	require.NoError(t, h.Add(c))
	assert.Equal(t, "calm", c.TagValue("mood"))
	assert.Equal(t, []string{"calm"}, h.Host().Tags.Keys(TagFieldCategory("beta", "mood")))
}

func TestAddRejectsBadNames(t *testing.T) {
	for _, name := range []string{"", "magic shield", "tab\tbed", "line\nbreak"} {
		h, _, saver := newTestHandler(t)
		err := h.Add(&hookComp{Base: NewBase(name, h.Host())})
		require.Error(t, err, "name %q", name)
		assert.False(t, h.Host().HasAttr(NamesAttr))
		assert.Empty(t, h.Host().Tags)
		assert.Zero(t, h.Len())
		assert.Zero(t, saver.saves)
	}
}

func TestAddRejectsUnregisteredClass(t *testing.T) {
	h, r, saver := newTestHandler(t)
	c := &hookComp{Base: NewBase("ghost", h.Host())}
	err := h.Add(c)
	assert.True(t, errors.Is(err, ErrComponentNotFound))
	assert.Zero(t, c.added)
	assert.False(t, h.Has("ghost"))
	assert.False(t, h.Host().HasAttr(NamesAttr))
	assert.Zero(t, saver.saves)

	require.NoError(t, h.AddDefault("alpha"))
	assert.NoError(t, NewHandler(h.Host(), r, nil).Initialize(), "stored state still loads")
}

func TestNamesMatchCaseInsensitively(t *testing.T) {
	h, r, _ := newTestHandler(t)
	r.MustRegister(hookClass("Shield"))

	require.NoError(t, h.AddDefault("shield"))
	assert.True(t, h.Has("shield"))
	assert.True(t, h.Has("SHIELD"))
	c, ok := h.Get("Shield")
	require.True(t, ok)
	assert.Equal(t, "Shield", c.Name())
	assert.Equal(t, []string{"Shield"}, h.Host().AttrList(NamesAttr), "the class spelling is stored")

	err := h.Add(&hookComp{Base: NewBase("shield", h.Host())})
	assert.True(t, errors.Is(err, ErrAlreadyRegistered))
	assert.Equal(t, []string{"Shield"}, h.Host().AttrList(NamesAttr))
	liveMatchesPersisted(t, h)

	fresh := NewHandler(h.Host(), r, nil)
	require.NoError(t, fresh.Initialize())
	assert.True(t, fresh.Has("shield"))

	require.NoError(t, h.RemoveByName("shield"))
	assert.Zero(t, h.Len())
	assert.False(t, h.Host().HasAttr(NamesAttr))
	assert.False(t, h.Host().Tags.Has("shield", TagCategory))
}

func TestAddMustUseClassSpelling(t *testing.T) {
	h, r, _ := newTestHandler(t)
	r.MustRegister(hookClass("Shield"))
	err := h.Add(&hookComp{Base: NewBase("SHIELD", h.Host())})
	require.Error(t, err)
	assert.Zero(t, h.Len())
	assert.False(t, h.Host().HasAttr(NamesAttr))
}

func TestAddRollsBackWhenSaveFails(t *testing.T) {
	h, _, saver := newTestHandler(t)
	require.NoError(t, h.AddDefault("alpha"))
	names := h.Host().GetAttr(NamesAttr)
	tags := h.Host().Tags.Clone()

	saver.err = errors.New("disk full")
	err := h.AddDefault("beta")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.False(t, h.Has("beta"))
	assert.Equal(t, names, h.Host().GetAttr(NamesAttr))
	assert.Equal(t, tags, h.Host().Tags)
	assert.Empty(t, h.Host().Tags.Keys(TagFieldCategory("beta", "mood")))
	liveMatchesPersisted(t, h)

	saver.err = nil
	require.NoError(t, h.AddDefault("beta"), "a later add is not blocked")
	assert.Equal(t, []string{"alpha", "beta"}, h.Names())
}

func TestRemoveRollsBackWhenSaveFails(t *testing.T) {
	h, _, saver := newTestHandler(t)
	require.NoError(t, h.AddDefault("alpha"))
	require.NoError(t, h.AddDefault("beta"))
	c, _ := h.Get("beta")
	names := h.Host().GetAttr(NamesAttr)
	tags := h.Host().Tags.Clone()

	saver.err = errors.New("disk full")
	require.Error(t, h.Remove(c))
	got, ok := h.Get("beta")
	require.True(t, ok)
	assert.Same(t, c, got)
	assert.Equal(t, names, h.Host().GetAttr(NamesAttr))
	assert.Equal(t, tags, h.Host().Tags)
	liveMatchesPersisted(t, h)

	saver.err = nil
	require.NoError(t, h.Remove(c))
	assert.False(t, h.Has("beta"))
}

func TestDestroyRunsRemovedHooks(t *testing.T) {
	h, _, saver := newTestHandler(t)
	require.NoError(t, h.AddDefault("alpha"))
	require.NoError(t, h.AddDefault("beta"))
	a, _ := h.Get("alpha")
	b, _ := h.Get("beta")
	saves := saver.saves

	h.Destroy()
	assert.Equal(t, 1, a.(*hookComp).removed)
	assert.Equal(t, 1, b.(*hookComp).removed)
	assert.Zero(t, h.Len())
	assert.False(t, h.Host().HasAttr(NamesAttr))
	assert.Empty(t, h.Host().Tags)
	assert.Equal(t, saves, saver.saves, "a destroyed host is not saved")
}

func TestAddDefaultUnknownLeavesHostUntouched(t *testing.T) {
	h, _, saver := newTestHandler(t)
	err := h.AddDefault("nosuch")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrComponentNotFound))
	assert.False(t, h.Host().HasAttr(NamesAttr))
	assert.Empty(t, h.Host().Tags)
	assert.Zero(t, h.Len())
	assert.Zero(t, saver.saves)
}

func TestRemove(t *testing.T) {
	h, _, _ := newTestHandler(t)
	require.NoError(t, h.AddDefault("alpha"))
	require.NoError(t, h.AddDefault("beta"))
	c, _ := h.Get("beta")

	require.NoError(t, h.Remove(c))
	assert.Equal(t, 1, c.(*hookComp).removed)
	assert.False(t, h.Has("beta"))
	assert.False(t, h.Host().Tags.Has("beta", TagCategory))
	assert.Empty(t, h.Host().Tags.Keys(TagFieldCategory("beta", "mood")), "tag field values are removed too")
	assert.Equal(t, []string{"alpha"}, h.Host().AttrList(NamesAttr))
	liveMatchesPersisted(t, h)

	err := h.Remove(c)
	assert.True(t, errors.Is(err, ErrNotRegistered))
}

func TestRemoveByNameUnregistered(t *testing.T) {
	h, _, _ := newTestHandler(t)
	require.NoError(t, h.AddDefault("alpha"))
	before := h.Host().GetAttr(NamesAttr)
	tags := h.Host().Tags.Clone()

	err := h.RemoveByName("beta")
	assert.True(t, errors.Is(err, ErrNotRegistered))
	assert.Equal(t, before, h.Host().GetAttr(NamesAttr))
	assert.Equal(t, tags, h.Host().Tags)
	assert.Equal(t, 1, h.Len())
}

func TestAddRemoveSequenceKeepsInvariant(t *testing.T) {
	h, _, _ := newTestHandler(t)
	steps := []struct {
		add  bool
		name string
	}{
		{true, "alpha"}, {true, "beta"}, {false, "alpha"}, {true, "gamma"},
		{true, "alpha"}, {false, "beta"}, {false, "gamma"}, {true, "beta"},
	}
	for _, s := range steps {
		if s.add {
			require.NoError(t, h.AddDefault(s.name))
		} else {
			require.NoError(t, h.RemoveByName(s.name))
		}
		liveMatchesPersisted(t, h)
	}
	assert.Equal(t, []string{"alpha", "beta"}, h.Names())
}

func TestInitializeEmpty(t *testing.T) {
	h, _, _ := newTestHandler(t)
	require.NoError(t, h.Initialize())
	assert.Zero(t, h.Len())
}

func TestInitializeRebuildsFromNames(t *testing.T) {
	h, r, _ := newTestHandler(t)
	h.Host().SetAttrList(NamesAttr, []string{"beta"})

	fresh := NewHandler(h.Host(), r, nil)
	require.NoError(t, fresh.Initialize())
	require.Equal(t, 1, fresh.Len())
	c, ok := fresh.Get("beta")
	require.True(t, ok)
	assert.Equal(t, "beta", c.Name())
	assert.Zero(t, c.(*hookComp).added, "load does not fire AtAdded")
}

func TestInitializeDeduplicates(t *testing.T) {
	h, _, saver := newTestHandler(t)
	h.Host().SetAttrList(NamesAttr, []string{"alpha", "beta", "alpha"})
	require.NoError(t, h.Initialize())
	assert.Equal(t, 2, h.Len())
	assert.Equal(t, []string{"alpha", "beta"}, h.Host().AttrList(NamesAttr))
	assert.Equal(t, 1, saver.saves)
}

func TestInitializeUnknownNameIsFatal(t *testing.T) {
	h, _, _ := newTestHandler(t)
	h.Host().SetAttrList(NamesAttr, []string{"alpha", "retired"})
	err := h.Initialize()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrComponentNotFound))
	assert.Contains(t, err.Error(), "retired")
	assert.Equal(t, []string{"alpha", "retired"}, h.Host().AttrList(NamesAttr), "corrupt state is not silently dropped")
}

func TestGetAs(t *testing.T) {
	h, _, _ := newTestHandler(t)
	require.NoError(t, h.AddDefault("alpha"))
	p, ok := GetAs[*hookComp](h, "alpha")
	require.True(t, ok)
	assert.Equal(t, "alpha", p.Name())

	_, ok = GetAs[*hookComp](h, "beta")
	assert.False(t, ok)
}

func TestRegistryRejectsBadClasses(t *testing.T) {
	r := NewClassRegistry()
	require.NoError(t, r.Register(hookClass("alpha")))
	assert.Error(t, r.Register(hookClass("ALPHA")))
	assert.Error(t, r.Register(Class{Name: "two words"}))
	assert.Error(t, r.Register(Class{Name: "new\nline"}))
	assert.Error(t, r.Register(Class{Name: "noload", Create: hookClass("x").Create}))
	assert.Panics(t, func() { r.MustRegister(hookClass("alpha")) })

	c, ok := r.Lookup("Alpha")
	require.True(t, ok)
	assert.Equal(t, "alpha", c.Name)
	assert.Equal(t, []string{"alpha"}, r.Names())
}
