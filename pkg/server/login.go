package server

import (
	"strings"

	mushcrypt "github.com/crystal-mush/mushcontrib/pkg/crypt"
	"github.com/crystal-mush/mushcontrib/pkg/gamedb"
	"go.uber.org/zap"
)

// ParseConnect parses a login-screen command into (command, user, password).
// Handles: "connect name password", "create name password", quoted names.
func ParseConnect(msg string) (command, user, password string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "", "", ""
	}

	parts := strings.SplitN(msg, " ", 2)
	command = strings.ToLower(parts[0])
	if len(parts) < 2 {
		return command, "", ""
	}

	rest := strings.TrimSpace(parts[1])
	if rest == "" {
		return command, "", ""
	}

	// Quoted names may contain spaces
	if rest[0] == '"' {
		end := strings.Index(rest[1:], "\"")
		if end >= 0 {
			user = rest[1 : end+1]
			password = strings.TrimSpace(rest[end+2:])
			return
		}
	}

	parts = strings.SplitN(rest, " ", 2)
	user = parts[0]
	if len(parts) > 1 {
		password = strings.TrimSpace(parts[1])
	}
	return
}

// CheckPassword verifies a player's password. A legacy DES hash that
// verifies is replaced with bcrypt.
func (g *Game) CheckPassword(player *gamedb.Object, password string) bool {
	if player.Password == "" || !mushcrypt.Verify(password, player.Password) {
		return false
	}
	if mushcrypt.NeedsRehash(player.Password) {
		if err := g.SetPassword(player, password); err != nil {
			zap.L().Warn("server: password rehash failed", zap.Stringer("player", player.DBRef), zap.Error(err))
		} else {
			zap.L().Info("server: upgraded legacy password hash", zap.Stringer("player", player.DBRef))
		}
	}
	return true
}

// Authenticate resolves a name and password to a player.
func (g *Game) Authenticate(name, password string) (*gamedb.Object, bool) {
	player, ok := g.LookupPlayer(name)
	if !ok || !g.CheckPassword(player, password) {
		return nil, false
	}
	return player, true
}

// validPlayerName applies the create-time name rules.
func validPlayerName(name string) string {
	if len(name) < 2 {
		return "That name is too short."
	}
	if strings.ContainsAny(name, "\";#=") {
		return "That name contains illegal characters."
	}
	lower := strings.ToLower(name)
	switch {
	case lower == "me", lower == "here", lower == "home", strings.HasSuffix(lower, "_reports"):
		return "That name is not allowed."
	}
	return ""
}

// WelcomeText is the default welcome screen shown to new connections.
const WelcomeText = `
Welcome to %s.

"connect <name> <password>" to connect to your existing character.
"create <name> <password>" to create a new character.
"WHO" to see who is connected.
"QUIT" to disconnect.

`
