package server

import (
	"testing"

	"github.com/crystal-mush/mushcontrib/pkg/components"
	"github.com/crystal-mush/mushcontrib/pkg/components/stock"
	"github.com/crystal-mush/mushcontrib/pkg/events"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponentList(t *testing.T) {
	env := newTestEnv(t)

	out := run(env, env.god, "@component Bob")
	assert.Contains(t, out, "Bob(#3)\nComponents:")
	assert.Contains(t, out, "faction (allegiance: neutral)")
	assert.Contains(t, out, "health")

	assert.Equal(t, "hammer has no components.", run(env, env.god, "@component hammer"))
	assert.Equal(t, "I don't see that here.", run(env, env.god, "@component anvil"))
	assert.Contains(t, run(env, env.god, "@component"), "Usage:")
}

func TestComponentClasses(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, "Component classes: faction, health", run(env, env.dev, "@component/classes"))
}

func TestComponentAddRemove(t *testing.T) {
	env := newTestEnv(t)
	g := env.game

	assert.Equal(t, "Added health to hammer.", run(env, env.god, "@component/add hammer = Health"))
	h, ok := g.Holders.Handler(env.hammer)
	require.True(t, ok)
	assert.Equal(t, []string{stock.HealthName}, h.Names())
	c, ok := h.Get(stock.HealthName)
	require.True(t, ok)
	assert.Equal(t, 100, c.(*stock.Health).Max())
	assert.Contains(t, run(env, env.god, "look hammer"), "Components:\n  health")

	assert.Equal(t, "hammer already has health.", run(env, env.god, "@component/add hammer=health"))

	assert.Equal(t, "Removed health from hammer.", run(env, env.god, "@component/remove hammer=health"))
	assert.Equal(t, 0, h.Len())
	hammer, _ := g.DB.Get(env.hammer)
	assert.Empty(t, hammer.GetAttr("HEALTH::MAX"), "removal clears stored fields")

	assert.Equal(t, "hammer has no health component.", run(env, env.god, "@component/remove hammer=health"))

	assert.Equal(t, 1.0, testutil.ToFloat64(g.Metrics.componentChanges.WithLabelValues("add")))
	assert.Equal(t, 1.0, testutil.ToFloat64(g.Metrics.componentChanges.WithLabelValues("remove")))
}

func TestComponentAddPersists(t *testing.T) {
	env := newTestEnv(t)
	run(env, env.god, "@component/add hammer=faction")

	// A fresh handler reading the stored object sees the same components.
	hammer, _ := env.game.DB.Get(env.hammer)
	h := components.NewHandler(hammer, env.game.Holders.Classes(), nil)
	require.NoError(t, h.Initialize())
	assert.Equal(t, []string{stock.FactionName}, h.Names())
	assert.True(t, hammer.Tags.Has(stock.FactionName, components.TagCategory))
}

func TestComponentErrors(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, "There is no component called 'wings'.", run(env, env.god, "@component/add hammer=wings"))
	assert.Equal(t, "Usage: @component/add <object>=<component>", run(env, env.god, "@component/add hammer"))
	assert.Equal(t, "Unknown switch 'zap'.", run(env, env.god, "@component/zap hammer=health"))
}

func TestComponentEmitsEvent(t *testing.T) {
	env := newTestEnv(t)
	var got []events.Event
	env.god.ReceiveFunc = func(ev events.Event) { got = append(got, ev) }

	run(env, env.god, "@component/add hammer=health")
	require.Len(t, got, 1)
	assert.Equal(t, events.EvComponent, got[0].Type)
	assert.Equal(t, "add", got[0].Data["op"])
	assert.Equal(t, int(env.hammer), got[0].Data["target"])
	assert.Equal(t, []string{"health"}, got[0].Data["components"])
}

func TestNewPlayerGetsTypeclassComponents(t *testing.T) {
	env := newTestEnv(t)
	h, ok := env.game.Holders.Handler(env.alice.Player)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{stock.HealthName, stock.FactionName}, h.Names())
}
