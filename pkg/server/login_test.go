package server

import (
	"testing"

	"github.com/crystal-mush/mushcontrib/pkg/components/stock"
	mushcrypt "github.com/crystal-mush/mushcontrib/pkg/crypt"
	"github.com/crystal-mush/mushcontrib/pkg/gamedb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConnect(t *testing.T) {
	tests := []struct {
		input                string
		command, user, passw string
	}{
		{"connect Alice secret", "connect", "Alice", "secret"},
		{"CONNECT Alice secret words", "connect", "Alice", "secret words"},
		{`co "Mary Sue" hunter2`, "co", "Mary Sue", "hunter2"},
		{"create Bob", "create", "Bob", ""},
		{"connect", "connect", "", ""},
		{"   ", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			command, user, password := ParseConnect(tt.input)
			assert.Equal(t, tt.command, command)
			assert.Equal(t, tt.user, user)
			assert.Equal(t, tt.passw, password)
		})
	}
}

func TestValidPlayerName(t *testing.T) {
	assert.Empty(t, validPlayerName("Alice"))
	assert.Equal(t, "That name is too short.", validPlayerName("A"))
	assert.Equal(t, "That name contains illegal characters.", validPlayerName("Al;ce"))
	assert.Equal(t, "That name contains illegal characters.", validPlayerName("#12"))
	assert.Equal(t, "That name is not allowed.", validPlayerName("Here"))
	assert.Equal(t, "That name is not allowed.", validPlayerName("bug_reports"))
}

func TestCheckPasswordUpgradesLegacyHash(t *testing.T) {
	env := newTestEnv(t)
	alice, _ := env.game.DB.Get(env.alice.Player)
	alice.Password = mushcrypt.Crypt("oldsecret", "XX")
	require.True(t, mushcrypt.NeedsRehash(alice.Password))

	assert.False(t, env.game.CheckPassword(alice, "wrong"))
	assert.True(t, mushcrypt.NeedsRehash(alice.Password), "failed check leaves the hash alone")

	assert.True(t, env.game.CheckPassword(alice, "oldsecret"))
	assert.False(t, mushcrypt.NeedsRehash(alice.Password))
	assert.True(t, env.game.CheckPassword(alice, "oldsecret"), "bcrypt hash still verifies")
}

func TestCheckPasswordEmptyHash(t *testing.T) {
	env := newTestEnv(t)
	bob, _ := env.game.DB.Get(env.bob.Player)
	bob.Password = ""
	assert.False(t, env.game.CheckPassword(bob, ""))
}

func TestLoginConnect(t *testing.T) {
	env := newTestEnv(t)
	g := env.game
	// Bob drops so his reconnect is announced.
	g.Conns.Remove(env.bob)
	clearOutput(env.alice)

	d := makeLoginDescriptor(t, g.Conns)
	g.LoginCommand(d, "connect bob bobpw")
	out := getOutput(d)
	assert.Contains(t, out, "Welcome back, Bob!")
	assert.Contains(t, out, "Limbo(#0)")
	assert.Equal(t, ConnConnected, d.State)
	assert.Equal(t, env.bob.Player, d.Player)
	assert.Contains(t, getOutput(env.alice), "Bob has connected.")
}

func TestLoginConnectFailures(t *testing.T) {
	env := newTestEnv(t)
	d := makeLoginDescriptor(t, env.game.Conns)

	env.game.LoginCommand(d, "connect")
	assert.Equal(t, "Usage: connect <name> <password>", getOutput(d))

	for i := 0; i < 2; i++ {
		env.game.LoginCommand(d, "connect Alice nope")
		assert.Equal(t, "Either that player does not exist, or has a different password.", getOutput(d))
		assert.False(t, d.IsClosed())
	}
	env.game.LoginCommand(d, "connect Nobody nope")
	assert.Contains(t, getOutput(d), "Too many failed attempts. Disconnecting.")
	assert.True(t, d.IsClosed())
	assert.Equal(t, ConnLogin, d.State)
}

func TestLoginCreate(t *testing.T) {
	env := newTestEnv(t)
	g := env.game
	clearOutput(env.bob)

	d := makeLoginDescriptor(t, g.Conns)
	g.LoginCommand(d, "create Carol carolpw")
	out := getOutput(d)
	assert.Contains(t, out, "Welcome to mushcontrib, Carol! Your character has been created as #")
	assert.Equal(t, ConnConnected, d.State)
	assert.Contains(t, getOutput(env.bob), "Carol has connected.")

	carol, ok := g.LookupPlayer("carol")
	require.True(t, ok)
	assert.Equal(t, carol.DBRef, carol.Owner)
	assert.Equal(t, "character", carol.Typeclass)
	assert.Equal(t, gamedb.DBRef(0), carol.Location)
	assert.True(t, carol.HasPerm("Player"))
	assert.False(t, mushcrypt.NeedsRehash(carol.Password))

	h, ok := g.Holders.Handler(carol.DBRef)
	require.True(t, ok)
	assert.True(t, h.Has(stock.HealthName))

	player, ok := g.Authenticate("Carol", "carolpw")
	require.True(t, ok)
	assert.Equal(t, carol.DBRef, player.DBRef)
}

func TestLoginCreateRejected(t *testing.T) {
	env := newTestEnv(t)
	d := makeLoginDescriptor(t, env.game.Conns)

	env.game.LoginCommand(d, "create Alice pw")
	assert.Equal(t, "That name is already taken.", getOutput(d))
	env.game.LoginCommand(d, "create me pw")
	assert.Equal(t, "That name is not allowed.", getOutput(d))
	env.game.LoginCommand(d, "create Zed")
	assert.Equal(t, "Usage: create <name> <password>", getOutput(d))
	assert.Equal(t, ConnLogin, d.State)
}

func TestLoginScreenCommands(t *testing.T) {
	env := newTestEnv(t)
	d := makeLoginDescriptor(t, env.game.Conns)

	env.game.LoginCommand(d, "WHO")
	assert.Contains(t, getOutput(d), "4 Players logged in.")

	env.game.LoginCommand(d, "dance")
	assert.Equal(t, "Welcome to mushcontrib. Commands: connect, create, WHO, QUIT", getOutput(d))

	env.game.LoginCommand(d, "quit")
	assert.Equal(t, "Goodbye!", getOutput(d))
	assert.True(t, d.IsClosed())
}
