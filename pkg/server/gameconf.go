package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/crystal-mush/mushcontrib/pkg/gamedb"
	"github.com/crystal-mush/mushcontrib/pkg/reports"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// GameConf holds game configuration, loaded from a YAML file.
type GameConf struct {
	MudName        string   `yaml:"mud_name"`
	Port           int      `yaml:"port"`
	MaxRetries     int      `yaml:"max_login_retries"`
	WebEnabled     bool     `yaml:"web_enabled"`
	WebHost        string   `yaml:"web_host"`
	WebPort        int      `yaml:"web_port"`
	WebCORSOrigins []string `yaml:"web_cors_origins"`
	WebRateLimit   int      `yaml:"web_rate_limit"` // requests per minute per IP
	JWTSecret      string   `yaml:"jwt_secret"`
	JWTExpiry      int      `yaml:"jwt_expiry"` // seconds

	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // json or console

	PlayerStartingRoom int    `yaml:"starting_room"`
	PlayerTypeclass    string `yaml:"player_typeclass"`

	// Reports. Types and status tags are hot-reloaded.
	ReportTypes      []string `yaml:"report_types"`
	ReportStatusTags []string `yaml:"report_status_tags"`
	ReportPageSize   int      `yaml:"report_page_size"`
	ReportStore      string   `yaml:"report_store"` // bolt or sqlite
	ReportSQLitePath string   `yaml:"report_sqlite_path"`

	ArchiveDir      string `yaml:"archive_dir"`
	ArchiveRetain   int    `yaml:"archive_retain"`   // 0 keeps every archive
	ArchiveInterval int    `yaml:"archive_interval"` // minutes; 0 disables auto-archive
}

// DefaultGameConf returns a GameConf with sensible defaults.
func DefaultGameConf() *GameConf {
	rc := reports.DefaultConfig()
	return &GameConf{
		MudName:            "mushcontrib",
		Port:               6250,
		MaxRetries:         3,
		WebPort:            8443,
		WebRateLimit:       120,
		JWTExpiry:          86400,
		LogLevel:           "info",
		LogFormat:          "json",
		PlayerStartingRoom: 0,
		PlayerTypeclass:    "character",
		ReportTypes:        rc.Types,
		ReportStatusTags:   rc.StatusTags,
		ReportPageSize:     rc.PageSize,
		ReportStore:        "bolt",
		ReportSQLitePath:   "reports.sqlite",
		ArchiveDir:         "backups",
	}
}

// LoadGameConf reads a YAML config file over the defaults.
func LoadGameConf(path string) (*GameConf, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("gameconf: reading %s: %w", path, err)
	}

	gc := DefaultGameConf()
	if err := yaml.Unmarshal(data, gc); err != nil {
		return nil, fmt.Errorf("gameconf: parsing YAML %s: %w", path, err)
	}
	switch gc.ReportStore {
	case "bolt", "sqlite":
	default:
		return nil, fmt.Errorf("gameconf: %s: report_store must be bolt or sqlite, got %q", path, gc.ReportStore)
	}

	// Resolve the sqlite path relative to the config dir
	if gc.ReportSQLitePath != "" && !filepath.IsAbs(gc.ReportSQLitePath) {
		gc.ReportSQLitePath = filepath.Join(filepath.Dir(path), gc.ReportSQLitePath)
	}
	if gc.ArchiveDir != "" && !filepath.IsAbs(gc.ArchiveDir) {
		gc.ArchiveDir = filepath.Join(filepath.Dir(path), gc.ArchiveDir)
	}
	return gc, nil
}

// ReportsConfig extracts the reporting settings.
func (gc *GameConf) ReportsConfig() reports.Config {
	return reports.Config{
		Types:      gc.ReportTypes,
		StatusTags: gc.ReportStatusTags,
		PageSize:   gc.ReportPageSize,
	}
}

// StartingRoom returns the configured starting room.
func (gc *GameConf) StartingRoom() gamedb.DBRef {
	return gamedb.DBRef(gc.PlayerStartingRoom)
}

// WatchConfig watches the config file and calls apply with each successfully
// parsed revision until ctx is cancelled. The directory is watched rather
// than the file so editors that replace the file on save are noticed.
func WatchConfig(ctx context.Context, path string, apply func(*GameConf)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("gameconf: start watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("gameconf: watch %s: %w", path, err)
	}
	name := filepath.Base(path)

	go func() {
		defer watcher.Close()
		// Editors often write a file in several steps; coalesce them.
		var debounce <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if filepath.Base(event.Name) != name {
					continue
				}
				debounce = time.After(100 * time.Millisecond)
			case <-debounce:
				debounce = nil
				gc, err := LoadGameConf(path)
				if err != nil {
					zap.L().Warn("gameconf: reload failed, keeping current config", zap.Error(err))
					continue
				}
				zap.L().Info("gameconf: reloaded", zap.String("path", path))
				apply(gc)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				zap.L().Warn("gameconf: watcher error", zap.Error(err))
			}
		}
	}()

	zap.L().Info("gameconf: watching for changes", zap.String("path", path))
	return nil
}
