package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/crystal-mush/mushcontrib/pkg/gamedb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConf(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestDefaultGameConf(t *testing.T) {
	gc := DefaultGameConf()
	assert.Equal(t, 6250, gc.Port)
	assert.Equal(t, "character", gc.PlayerTypeclass)
	assert.Equal(t, gamedb.DBRef(0), gc.StartingRoom())

	rc := gc.ReportsConfig()
	assert.Equal(t, []string{"bugs", "ideas", "players"}, rc.Types)
	assert.Equal(t, []string{"closed", "in progress"}, rc.StatusTags)
	assert.Equal(t, 10, rc.PageSize)
}

func TestLoadGameConf(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "game.yaml")
	writeConf(t, path, `
mud_name: Testville
port: 4201
report_types: [bugs, ideas]
report_status_tags: [closed, wontfix]
report_store: sqlite
report_sqlite_path: data/reports.sqlite
`)

	gc, err := LoadGameConf(path)
	require.NoError(t, err)
	assert.Equal(t, "Testville", gc.MudName)
	assert.Equal(t, 4201, gc.Port)
	assert.Equal(t, 3, gc.MaxRetries, "unset keys keep their defaults")
	assert.Equal(t, []string{"bugs", "ideas"}, gc.ReportTypes)
	assert.Equal(t, []string{"closed", "wontfix"}, gc.ReportStatusTags)
	assert.Equal(t, filepath.Join(dir, "data", "reports.sqlite"), gc.ReportSQLitePath)
}

func TestLoadGameConfErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadGameConf(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	writeConf(t, bad, "report_store: postgres\n")
	_, err = LoadGameConf(bad)
	assert.ErrorContains(t, err, "report_store must be bolt or sqlite")

	broken := filepath.Join(dir, "broken.yaml")
	writeConf(t, broken, "port: [not a number\n")
	_, err = LoadGameConf(broken)
	assert.ErrorContains(t, err, "parsing YAML")
}

func TestWatchConfigReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "game.yaml")
	writeConf(t, path, "report_types: [bugs]\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan *GameConf, 4)
	require.NoError(t, WatchConfig(ctx, path, func(gc *GameConf) { got <- gc }))

	// A broken revision is skipped.
	writeConf(t, path, "report_store: postgres\n")
	writeConf(t, filepath.Join(dir, "other.yaml"), "report_types: [ideas]\n")
	select {
	case gc := <-got:
		t.Fatalf("unexpected reload: %+v", gc)
	case <-time.After(300 * time.Millisecond):
	}

	writeConf(t, path, "report_types: [bugs, ideas]\n")
	select {
	case gc := <-got:
		assert.Equal(t, []string{"bugs", "ideas"}, gc.ReportTypes)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not noticed")
	}
}

func TestWatchConfigDrivesReload(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(t.TempDir(), "game.yaml")
	writeConf(t, path, "report_types: [bugs, ideas, players]\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, WatchConfig(ctx, path, env.game.ReloadConf))

	writeConf(t, path, "report_types: [bugs]\n")
	require.Eventually(t, func() bool {
		return !env.game.Reports.HasType("ideas")
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, `Huh?  (Type "help" for help.)`, run(env, env.alice, "idea horses"))
}
