package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/crystal-mush/mushcontrib/pkg/archive"
	"github.com/crystal-mush/mushcontrib/pkg/boltstore"
	"github.com/crystal-mush/mushcontrib/pkg/gamedb"
	"github.com/crystal-mush/mushcontrib/pkg/reports"
	"github.com/crystal-mush/mushcontrib/pkg/server"
	"github.com/crystal-mush/mushcontrib/pkg/sqlstore"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// envDefault returns the environment variable value if set, otherwise the fallback.
func envDefault(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

func main() {
	confFile := flag.String("conf", envDefault("MUSH_CONF", ""), "Path to game config file (env: MUSH_CONF)")
	boltPath := flag.String("bolt", envDefault("MUSH_BOLT", "data/game.bolt"), "Path to bbolt persistent database (env: MUSH_BOLT)")
	port := flag.Int("port", 0, "TCP port to listen on, overrides config (env: MUSH_PORT)")
	godPass := flag.String("godpass", envDefault("MUSH_GODPASS", ""), "Set God (#1) password; seeds a new database or updates and exits (env: MUSH_GODPASS)")
	genSecret := flag.Bool("gen-jwt-secret", false, "Print a random jwt_secret value and exit")
	restore := flag.String("restore", "", "Restore the database, report store and config from an archive, then exit")
	restoreConf := flag.Bool("restore-conf", false, "With -restore, overwrite a config file that differs from the archived one")
	flag.Parse()

	if *genSecret {
		fmt.Println(server.GenerateJWTSecret())
		return
	}

	gc := server.DefaultGameConf()
	if *confFile != "" {
		var err error
		if gc, err = server.LoadGameConf(*confFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading game config: %v\n", err)
			os.Exit(1)
		}
	}
	if *port == 0 {
		if p, err := strconv.Atoi(os.Getenv("MUSH_PORT")); err == nil {
			*port = p
		}
	}
	if *port != 0 {
		gc.Port = *port
	}

	logger, err := newLogger(gc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if *restore != "" {
		if err := restoreArchive(gc, *restore, *confFile, *boltPath, *restoreConf); err != nil {
			zap.L().Fatal("server: restore failed", zap.Error(err))
		}
		return
	}

	if err := run(gc, *confFile, *boltPath, *godPass); err != nil {
		zap.L().Fatal("server: exiting", zap.Error(err))
	}
}

func newLogger(gc *server.GameConf) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if gc.LogFormat == "console" {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableCaller = true
	level, err := zap.ParseAtomicLevel(gc.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log_level: %w", err)
	}
	cfg.Level = level
	return cfg.Build()
}

func run(gc *server.GameConf, confFile, boltPath, godPass string) error {
	zap.L().Info("server: starting", zap.String("version", server.VersionString()), zap.String("mud", gc.MudName))

	store, err := boltstore.Open(boltPath)
	if err != nil {
		return err
	}
	defer store.Close()
	existing, err := store.HasData()
	if err != nil {
		return err
	}
	if existing {
		if err := store.LoadAll(); err != nil {
			return fmt.Errorf("load %s: %w", boltPath, err)
		}
		zap.L().Info("server: loaded database", zap.String("path", boltPath), zap.Int("objects", len(store.DB().Objects)))
	}

	var msgs reports.MessageStore
	if gc.ReportStore == "sqlite" {
		sq, err := sqlstore.Open(gc.ReportSQLitePath, 5)
		if err != nil {
			return fmt.Errorf("open report store: %w", err)
		}
		defer sq.Close()
		msgs = sq
		zap.L().Info("server: reports stored in sqlite", zap.String("path", sq.Path()))
	}

	g, err := server.NewGame(store, gc, msgs)
	if err != nil {
		return err
	}
	g.ConfPath = confFile

	if !existing {
		if godPass == "" {
			godPass = "potrzebie"
			zap.L().Warn("server: seeding with the default God password; change it with -godpass")
		}
		if err := g.Seed(godPass); err != nil {
			return err
		}
	} else {
		// A game with corrupt component state must not boot.
		if err := g.Holders.InitAll(g.DB); err != nil {
			return fmt.Errorf("initialize components: %w", err)
		}
		if godPass != "" {
			god, ok := g.DB.Get(gamedb.GodRef)
			if !ok {
				return fmt.Errorf("no God object %s", gamedb.GodRef)
			}
			if err := g.SetPassword(god, godPass); err != nil {
				return err
			}
			zap.L().Info("server: God password updated", zap.Stringer("god", gamedb.GodRef))
			return nil
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g.StartAutoArchive(ctx)
	if confFile != "" {
		if err := server.WatchConfig(ctx, confFile, g.ReloadConf); err != nil {
			zap.L().Warn("server: config hot reload disabled", zap.Error(err))
		}
	}

	err = server.NewServer(g).Start(ctx)
	zap.L().Info("server: stopped")
	return err
}

func restoreArchive(gc *server.GameConf, path, confFile, boltPath string, overwriteConf bool) error {
	p := archive.RestoreParams{
		Archive:       path,
		BoltDest:      boltPath,
		ConfDest:      confFile,
		OverwriteConf: overwriteConf,
	}
	if gc.ReportStore == "sqlite" {
		p.SQLiteDest = gc.ReportSQLitePath
	}
	res, err := archive.Restore(p)
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		zap.L().Warn("server: restore", zap.String("warning", w))
	}
	zap.L().Info("server: restore complete",
		zap.String("archive", path),
		zap.String("mud", res.Manifest.MudName),
		zap.Int("objects", res.Manifest.Objects),
		zap.Int("files", len(res.Restored)))
	return nil
}
