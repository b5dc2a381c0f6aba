package server

import (
	"testing"

	"github.com/crystal-mush/mushcontrib/pkg/events"
	"github.com/crystal-mush/mushcontrib/pkg/gamedb"
	"github.com/crystal-mush/mushcontrib/pkg/menu"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reader(t *testing.T, env *testEnv, d *Descriptor) *gamedb.Object {
	t.Helper()
	obj, ok := env.game.DB.Get(d.Player)
	require.True(t, ok)
	return obj
}

func TestBugFiledAndStaffNotified(t *testing.T) {
	env := newTestEnv(t)
	clearOutput(env.god, env.bob, env.dev)

	assert.Equal(t, "Your report has been filed.", run(env, env.alice, "bug hammer = it is too heavy"))

	assert.Equal(t, "[Reports] New bug report from Alice.", getOutput(env.dev))
	assert.Equal(t, "[Reports] New bug report from Alice.", getOutput(env.god))
	assert.Empty(t, getOutput(env.bob), "bug reports are for developers")

	msgs, err := env.game.Reports.List("bug", reader(t, env, env.dev), false)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "it is too heavy", msgs[0].Body)
	assert.Equal(t, env.alice.Player, msgs[0].Sender)
	assert.Contains(t, msgs[0].Receivers, env.hammer)

	hub, ok := env.game.DB.FindByName("bug_reports", gamedb.TypeScript)
	require.True(t, ok)
	assert.Equal(t, gamedb.Nothing, hub.Location)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.game.Metrics.reportsFiled.WithLabelValues("bug")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.game.Metrics.eventsEmitted.WithLabelValues("report")),
		"one notification fans out to both readers")
}

func TestReportNotificationIsStructured(t *testing.T) {
	env := newTestEnv(t)
	var got []events.Event
	env.dev.ReceiveFunc = func(ev events.Event) { got = append(got, ev) }

	run(env, env.alice, "bug typo in help")
	require.Len(t, got, 1)
	assert.Equal(t, events.EvReport, got[0].Type)
	assert.Equal(t, "bug", got[0].Data["category"])
	assert.Equal(t, int(env.alice.Player), got[0].Data["sender"])
}

func TestBugWithoutMessage(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, "You must provide a message.", run(env, env.alice, "bug"))
	assert.Equal(t, "You must provide a message.", run(env, env.alice, "bug   "))
	assert.Equal(t, "I don't see that here.", run(env, env.alice, "bug anvil = gone"))
}

func TestReportRequiresTarget(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, "You must include a target.", run(env, env.alice, "report he is rude"))
	assert.Equal(t, "Your report has been filed.", run(env, env.alice, "report Bob = he is rude"))

	msgs, err := env.game.Reports.List("player", reader(t, env, env.god), false)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Receivers, env.bob.Player)
}

func TestIdeasListsOwn(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, "You have no open suggestions.", run(env, env.alice, "ideas"))
	assert.Equal(t, "Thank you for your suggestion!", run(env, env.alice, "idea horses we could ride"))
	run(env, env.bob, "idea more dragons")

	out := run(env, env.alice, "ideas")
	assert.Contains(t, out, "Ideas you've submitted:")
	assert.Contains(t, out, "horses we could ride")
	assert.NotContains(t, out, "dragons")
}

func TestManageMenuFlow(t *testing.T) {
	env := newTestEnv(t)
	run(env, env.alice, "bug hammer = it is too heavy")

	out := run(env, env.dev, "manage bugs")
	require.NotNil(t, env.dev.Menu)
	assert.Contains(t, out, "Managing bug reports (page 1 of 1):")
	assert.Contains(t, out, "[open] it is too heavy - Alice")
	assert.Contains(t, out, menu.Prompt)

	out = run(env, env.dev, "1")
	assert.Contains(t, out, "bug report by Alice")
	assert.Contains(t, out, "Target: hammer")
	assert.Contains(t, out, "1. Mark as closed")

	out = run(env, env.dev, "1")
	assert.Contains(t, out, "Marked as closed.")
	assert.Contains(t, out, "Status: closed")

	out = run(env, env.dev, "q")
	assert.Contains(t, out, "Exiting bug reports menu.")
	assert.Nil(t, env.dev.Menu)
	assert.Contains(t, run(env, env.dev, "look"), "Limbo(#0)", "commands work again")

	msgs, err := env.game.Reports.List("bug", reader(t, env, env.dev), false)
	require.NoError(t, err)
	assert.Empty(t, msgs, "closed reports drop out of the open list")
	assert.Equal(t, "You have no open suggestions.", run(env, env.alice, "ideas"))
}

func TestManageMenuCapturesInput(t *testing.T) {
	env := newTestEnv(t)
	run(env, env.dev, "manage ideas")
	require.NotNil(t, env.dev.Menu)

	out := run(env, env.dev, "look")
	assert.NotContains(t, out, "Limbo(#0)", "menu input is not a command")
	assert.NotNil(t, env.dev.Menu)
}

func TestManageMenuPipeEscape(t *testing.T) {
	env := newTestEnv(t)
	run(env, env.dev, "manage bugs")
	require.NotNil(t, env.dev.Menu)

	out := run(env, env.dev, "|look")
	assert.Contains(t, out, "Limbo(#0)")
	assert.Contains(t, out, menu.Prompt, "prompt is redrawn")
	assert.NotNil(t, env.dev.Menu)

	run(env, env.dev, "|QUIT")
	assert.True(t, env.dev.IsClosed())
}

func TestManageReportsMeansPlayers(t *testing.T) {
	env := newTestEnv(t)
	out := run(env, env.dev, "manage reports")
	assert.Contains(t, out, "There are no player reports.")
	assert.NotNil(t, env.dev.Menu)
}

func TestManageUnknownCategory(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, "'spells' is not a valid report category.", run(env, env.dev, "manage spells"))
	assert.Nil(t, env.dev.Menu)
	assert.Contains(t, run(env, env.dev, "manage"), "Available report types:")
	assert.Nil(t, env.dev.Menu)
}

func TestReloadConfResyncsCommands(t *testing.T) {
	env := newTestEnv(t)
	gc := DefaultGameConf()
	gc.ReportTypes = []string{"bugs"}
	env.game.ReloadConf(gc)

	assert.Equal(t, `Huh?  (Type "help" for help.)`, run(env, env.alice, "idea horses"))
	assert.Equal(t, `Huh?  (Type "help" for help.)`, run(env, env.alice, "ideas"))
	assert.Equal(t, "Your report has been filed.", run(env, env.alice, "bug typo"))
	assert.Equal(t, "'ideas' is not a valid report category.", run(env, env.dev, "manage ideas"))

	gc.ReportTypes = []string{"bugs", "ideas"}
	env.game.ReloadConf(gc)
	assert.Equal(t, "Thank you for your suggestion!", run(env, env.alice, "idea horses"))
	assert.Contains(t, run(env, env.dev, "manage ideas"), "Managing idea reports")
}
