// Package daemon composes the matchatd server: storage, identity
// graph, conversation store, presence tracker, realtime gateway and
// the HTTP surface that hosts them.
package daemon

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/mataid/matchat/internal/config"
	"github.com/mataid/matchat/internal/convstore"
	"github.com/mataid/matchat/internal/gateway"
	"github.com/mataid/matchat/internal/httpapi"
	"github.com/mataid/matchat/internal/identity"
	"github.com/mataid/matchat/internal/lock"
	"github.com/mataid/matchat/internal/logging"
	"github.com/mataid/matchat/internal/model"
	"github.com/mataid/matchat/internal/presence"
)

// Params holds the resolved startup options passed to the fx module.
type Params struct {
	ConfigPath string
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideLock,
			providePebble,
			provideGraph,
			provideStore,
			provideTracker,
			provideGateway,
			provideAPIServer,
			provideHTTPServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Server, error) {
	return config.LoadServer(p.ConfigPath)
}

func provideLogger(cfg *config.Server) (*zap.Logger, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, err
	}
	return logging.New(filepath.Join(cfg.DataDir, "matchatd.log"), "matchatd")
}

func provideLock(cfg *config.Server, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data dir lock", zap.String("dir", cfg.DataDir))
	l, err := lock.Acquire(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

func providePebble(cfg *config.Server, _ *lock.Lock, logger *zap.Logger) (*pebble.DB, error) {
	path := filepath.Join(cfg.DataDir, "db")
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	logger.Info("store opened", zap.String("path", path))
	return db, nil
}

func provideGraph(db *pebble.DB, logger *zap.Logger) *identity.Graph {
	return identity.NewGraph(db, logger)
}

func provideStore(db *pebble.DB, logger *zap.Logger) *convstore.Store {
	return convstore.New(db, logger)
}

func provideTracker(graph *identity.Graph, logger *zap.Logger) *presence.Tracker {
	return presence.NewTracker(graph, logger)
}

func provideGateway(store *convstore.Store, tracker *presence.Tracker, logger *zap.Logger) *gateway.Gateway {
	return gateway.New(store, tracker, logger)
}

func provideAPIServer(graph *identity.Graph, store *convstore.Store, gw *gateway.Gateway, logger *zap.Logger) *httpapi.Server {
	return httpapi.New(graph, store, gw, logger)
}

func provideHTTPServer(cfg *config.Server, api *httpapi.Server) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Server, srv *http.Server, db *pebble.DB, graph *identity.Graph, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := seedUsers(cfg, graph, logger); err != nil {
				return err
			}
			go func() {
				logger.Info("listening", zap.String("addr", cfg.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http shutdown", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("store close", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// seedUsers registers accounts from the config file. Re-registration
// refreshes profile fields, so seeding is idempotent across restarts.
func seedUsers(cfg *config.Server, graph *identity.Graph, logger *zap.Logger) error {
	for _, s := range cfg.Seed {
		u := model.User{
			ID:          s.ID,
			Email:       s.Email,
			Name:        s.Name,
			Institution: s.Institution,
			Department:  s.Department,
			JoinedAt:    time.Now().UTC(),
		}
		if err := graph.Register(u); err != nil {
			return err
		}
	}
	if len(cfg.Seed) > 0 {
		logger.Info("seed users registered", zap.Int("count", len(cfg.Seed)))
	}
	return nil
}
