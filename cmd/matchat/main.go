package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/mataid/matchat/internal/bus"
	"github.com/mataid/matchat/internal/cache"
	"github.com/mataid/matchat/internal/config"
	"github.com/mataid/matchat/internal/lock"
	"github.com/mataid/matchat/internal/logging"
	"github.com/mataid/matchat/internal/profile"
	"github.com/mataid/matchat/internal/syncengine"
	"github.com/mataid/matchat/internal/tui"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	userFlag := flag.String("user", "", "user id (overrides config)")
	serverFlag := flag.String("server", "", "server base URL (overrides config)")
	flag.Parse()

	_ = godotenv.Load()

	if err := run(*profileFlag, *userFlag, *serverFlag); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(profileFlag, userFlag, serverFlag string) error {
	name := profile.Resolve(profileFlag)
	if err := profile.ValidateName(name); err != nil {
		return err
	}
	if err := profile.EnsureDir(name); err != nil {
		return err
	}

	cfg, err := config.LoadClient(profile.ConfigPath())
	if err != nil {
		cfg = &config.Client{ServerURL: "http://localhost:3001"}
	}
	if serverFlag != "" {
		cfg.ServerURL = serverFlag
	}
	userID := cfg.UserID
	if userFlag != "" {
		userID = userFlag
	}
	if userID == "" {
		return fmt.Errorf("no user id configured; pass --user or set user_id in %s", profile.ConfigPath())
	}

	// One client per profile. A second instance would race on the
	// cache.
	lk, err := lock.Acquire(profile.Dir(name))
	if err != nil {
		return err
	}
	defer func() { _ = lk.Release() }()

	logger, err := logging.New(profile.LogPath(name), name)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	db, err := cache.Open(profile.CachePath(name))
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	result, err := db.Migrate()
	if err != nil {
		return err
	}
	if result.Changed {
		logger.Info("cache migrations applied", zap.Uint("version", result.Version))
	}

	b := bus.New()
	transport := syncengine.NewWSClient(cfg.ServerURL, userID, logger)
	api := syncengine.NewAPIClient(cfg.ServerURL)
	engine := syncengine.New(userID, db, transport, api, b, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = engine.Stop() }()

	// Remember the active identity for the next launch.
	if cfg.UserID != userID || cfg.DefaultProfile != name {
		cfg.UserID = userID
		cfg.DefaultProfile = name
		if err := config.SaveClient(profile.ConfigPath(), cfg); err != nil {
			logger.Warn("config not saved", zap.Error(err))
		}
	}

	app := tui.NewApp(engine, api, b, userID, name)
	return app.Run()
}
