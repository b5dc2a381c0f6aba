package stock

import (
	"testing"

	"github.com/crystal-mush/mushcontrib/pkg/components"
	"github.com/crystal-mush/mushcontrib/pkg/gamedb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHolders(t *testing.T) *components.Holders {
	t.Helper()
	classes := components.NewClassRegistry()
	require.NoError(t, Register(classes))
	types := components.NewTypeclassRegistry()
	for _, tc := range Typeclasses() {
		require.NoError(t, types.Register(tc))
	}
	return components.NewHolders(classes, types, nil)
}

func TestGuardSetup(t *testing.T) {
	hs := newHolders(t)
	guard := &gamedb.Object{DBRef: 5, Name: "Guard", Typeclass: "guard", Attrs: map[string]string{}}
	h, err := hs.Setup(guard)
	require.NoError(t, err)

	hp, ok := components.GetAs[*Health](h, HealthName)
	require.True(t, ok)
	assert.Equal(t, 150, hp.Max())
	assert.Equal(t, 150, hp.Current())
	assert.Equal(t, "150", guard.GetAttr("health::max"))

	f, ok := components.GetAs[*Faction](h, FactionName)
	require.True(t, ok)
	assert.Equal(t, "city", f.Allegiance())
}

func TestCharacterGetsNeutralFaction(t *testing.T) {
	hs := newHolders(t)
	npc := &gamedb.Object{DBRef: 6, Name: "Peasant", Typeclass: "character"}
	h, err := hs.Setup(npc)
	require.NoError(t, err)

	f, ok := components.GetAs[*Faction](h, FactionName)
	require.True(t, ok)
	assert.Equal(t, DefaultFaction, f.Allegiance())
	assert.True(t, npc.Tags.Has(DefaultFaction, components.TagFieldCategory(FactionName, "allegiance")))
}

func TestHealthDamageAndHeal(t *testing.T) {
	hs := newHolders(t)
	rock := &gamedb.Object{DBRef: 7, Name: "Rock"}
	h, err := hs.Setup(rock)
	require.NoError(t, err)
	require.NoError(t, h.AddDefault(HealthName))

	hp, _ := components.GetAs[*Health](h, HealthName)
	assert.Equal(t, 60, hp.Damage(40))
	assert.Equal(t, 0, hp.Damage(500))
	assert.True(t, hp.Dead())
	assert.Equal(t, 30, hp.Heal(30))
	assert.Equal(t, 100, hp.Heal(500))

	// Values survive a reload because they live on the host.
	hp.Damage(10)
	reloaded := components.NewHolders(hs.Classes(), hs.Types(), nil)
	h2, err := reloaded.Init(rock)
	require.NoError(t, err)
	hp2, ok := components.GetAs[*Health](h2, HealthName)
	require.True(t, ok)
	assert.Equal(t, 90, hp2.Current())

	require.NoError(t, h2.RemoveByName(HealthName))
	assert.Empty(t, rock.AttrNames("health::"))
}

func TestAllied(t *testing.T) {
	hs := newHolders(t)
	a := &gamedb.Object{DBRef: 8, Typeclass: "guard"}
	b := &gamedb.Object{DBRef: 9, Typeclass: "character"}
	ha, err := hs.Setup(a)
	require.NoError(t, err)
	hb, err := hs.Setup(b)
	require.NoError(t, err)

	fa, _ := components.GetAs[*Faction](ha, FactionName)
	fb, _ := components.GetAs[*Faction](hb, FactionName)
	assert.False(t, fa.Allied(fb))
	fb.SetAllegiance("city")
	assert.True(t, fa.Allied(fb))
	assert.False(t, fa.Allied(nil))
}

func TestBadMaxRejected(t *testing.T) {
	_, err := createHealth(&gamedb.Object{DBRef: 1}, map[string]string{"max": "lots"})
	assert.Error(t, err)
}
