// Package app wires the Passage server runtime: config, logging, storage,
// migrations, and the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"passage/cmd/identity"
	authapi "passage/cmd/internal/auth/api"
	"passage/cmd/internal/auth/provider"
	"passage/cmd/internal/auth/session"
)

// App is the Passage server runtime.
type App struct {
	cfg Config
	log Logger

	dbPool    *pgxpool.Pool
	dbEnabled bool

	sessions  *session.Service
	auth      *authapi.Handler
	clientURL string
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	ctx := context.Background()

	var (
		pool      *pgxpool.Pool
		dbEnabled bool
		users     identity.Store
		sessStore session.Store
	)

	if cfg.DatabaseURL == "" {
		// Dev mode: everything in memory, nothing survives a restart.
		log.Info("db.disabled.inmemory_store")
		users = identity.NewMemoryStore()
		sessStore = session.NewMemoryStore()
	} else {
		var err error
		pool, err = NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := RunMigrations(ctx, cfg.DatabaseURL); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("db.enabled.postgres_store")
		dbEnabled = true

		idStore, err := identity.NewPostgresStore(pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		users = idStore

		sStore, err := session.NewPostgresStore(pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		sessStore = sStore
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, err
	}
	codec, err := session.NewHS256Codec(sessCfg)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, err
	}
	sessions, err := session.NewService(sessStore, codec, sessCfg)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, err
	}

	authCfg := authapi.LoadConfigFromEnv()
	providers := loadProviders(log)

	auth, err := authapi.NewHandler(log, authCfg, users, sessions, providers, pool)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, err
	}

	return &App{
		cfg:       cfg,
		log:       log,
		dbPool:    pool,
		dbEnabled: dbEnabled,
		sessions:  sessions,
		auth:      auth,
		clientURL: authCfg.ClientURL,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal
// server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.auth)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(WithCORS(mux, a.clientURL), a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go a.sweepExpiredSessions(sweepCtx)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if a.dbPool != nil {
		a.dbPool.Close()
	}

	a.log.Info("server.stopped")
	return nil
}

// sweepExpiredSessions periodically deletes session rows past expiry.
func (a *App) sweepExpiredSessions(ctx context.Context) {
	interval := a.cfg.SessionSweepInterval
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.sessions.DeleteExpired(ctx)
			if err != nil {
				a.log.Error("session.sweep.fail", "err", err)
				continue
			}
			if n > 0 {
				a.log.Info("session.sweep", "deleted", n)
			}
		}
	}
}

// loadProviders builds the OAuth registry from the environment. A provider
// without credentials is simply not registered.
func loadProviders(log Logger) *provider.Registry {
	serverURL := strings.TrimRight(EnvString("PASSAGE_SERVER_URL", "http://localhost:8080"), "/")

	reg := provider.NewRegistry()
	for name, build := range map[string]func(provider.Config) (provider.IdentityProvider, error){
		"google":   provider.NewGoogle,
		"github":   provider.NewGitHub,
		"facebook": provider.NewFacebook,
	} {
		prefix := "PASSAGE_" + strings.ToUpper(name)
		cfg := provider.Config{
			ClientID:     EnvString(prefix+"_CLIENT_ID", ""),
			ClientSecret: EnvString(prefix+"_CLIENT_SECRET", ""),
			RedirectURL:  EnvString(prefix+"_REDIRECT_URL", fmt.Sprintf("%s/api/v1/auth/%s/callback", serverURL, name)),
		}
		if cfg.ClientID == "" || cfg.ClientSecret == "" {
			continue
		}

		p, err := build(cfg)
		if err != nil {
			log.Error("oauth.provider.config.fail", "provider", name, "err", err)
			continue
		}
		reg.Register(p)
		log.Info("oauth.provider.enabled", "provider", name)
	}
	return reg
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
