package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/crystal-mush/mushcontrib/pkg/archive"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

const archiveLock = "cmd:perm(Developer)"

const archiveHelp = `@archive
@archive/list

Writes a snapshot of the game database, the report store and the config
file to the archive directory. /list shows the archives on disk.`

// archiveParams snapshots the settings for one archive run. The caller holds
// g.mu.
func (g *Game) archiveParams() archive.Params {
	p := archive.Params{
		Dir:     g.Conf.ArchiveDir,
		SQLite:  g.reportSnapshot,
		Conf:    g.ConfPath,
		MudName: g.Conf.MudName,
		Objects: len(g.DB.Objects),
		Server:  VersionString(),
	}
	if p.Dir == "" {
		p.Dir = "backups"
	}
	if g.Store != nil {
		p.Bolt = g.Store.Backup
	}
	return p
}

// runArchive creates an archive and prunes old ones. Safe without g.mu.
func (g *Game) runArchive(p archive.Params, retain int) (string, error) {
	path, err := archive.Create(p)
	if err != nil {
		return "", err
	}
	if _, err := archive.Prune(p.Dir, retain); err != nil {
		zap.L().Warn("server: prune archives", zap.String("dir", p.Dir), zap.Error(err))
	}
	return path, nil
}

func cmdArchive(g *Game, d *Descriptor, _ string, switches []string) {
	sw := ""
	if len(switches) > 0 {
		sw = strings.ToLower(switches[0])
	}
	p := g.archiveParams()

	switch sw {
	case "list":
		all, err := archive.List(p.Dir)
		if err != nil {
			d.Send(fmt.Sprintf("Error listing archives: %v", err))
			return
		}
		if len(all) == 0 {
			d.Send(fmt.Sprintf("No archives found in %s.", p.Dir))
			return
		}
		lines := []string{fmt.Sprintf("Archives in %s:", p.Dir)}
		for _, ai := range all {
			lines = append(lines, fmt.Sprintf("  %s  %s  %d objects  %s",
				ai.Filename, humanize.Bytes(uint64(ai.Size)), ai.Objects, ai.Timestamp))
		}
		lines = append(lines, fmt.Sprintf("%d archive(s).", len(all)))
		d.Send(strings.Join(lines, "\n"))
		return
	case "":
	default:
		d.Send(fmt.Sprintf("Unknown switch '%s'.", sw))
		return
	}

	if p.Bolt == nil {
		d.Send("No database store configured.")
		return
	}
	retain := g.Conf.ArchiveRetain
	player := d.Player
	d.Send("Creating archive...")
	go func() {
		path, err := g.runArchive(p, retain)
		if err != nil {
			zap.L().Error("server: archive failed", zap.Stringer("player", player), zap.Error(err))
			g.Conns.SendToPlayer(player, fmt.Sprintf("Archive failed: %v", err))
			return
		}
		g.Conns.SendToPlayer(player, fmt.Sprintf("Archive created: %s", path))
	}()
}

// StartAutoArchive archives every archive_interval minutes until ctx is
// done. The interval is read once at start.
func (g *Game) StartAutoArchive(ctx context.Context) {
	g.mu.Lock()
	minutes := g.Conf.ArchiveInterval
	g.mu.Unlock()
	if minutes < 1 {
		return
	}
	go func() {
		ticker := time.NewTicker(time.Duration(minutes) * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			g.mu.Lock()
			p, retain := g.archiveParams(), g.Conf.ArchiveRetain
			g.mu.Unlock()
			if p.Bolt == nil {
				return
			}
			if _, err := g.runArchive(p, retain); err != nil {
				zap.L().Error("server: auto-archive failed", zap.Error(err))
			}
		}
	}()
}
