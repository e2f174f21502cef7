package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	adapthttp "healthmate/internal/adapter/http"
	"healthmate/internal/adapter/memory"
	"healthmate/internal/adapter/postgres"
	"healthmate/internal/app"
	"healthmate/internal/config"
	"healthmate/internal/domain"
)

// store is everything the services need from a storage backend.
type store interface {
	domain.BMIRepository
	domain.UserRepository
	domain.KeyValueStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Error("exit", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	_ = log.Sync()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.Production() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		db       store
		sessions domain.SessionRepository
	)
	if cfg.DatabaseURL != "" {
		pg, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("db open: %w", err)
		}
		defer func() { _ = pg.Close() }()
		db, sessions = pg, postgres.NewSessionRepo(pg)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory storage")
		mem := memory.New()
		db, sessions = mem, mem.NewSessionRepo()
	}

	authSvc := app.NewAuthService(db, sessions)
	likes := app.NewLikeStore(db, app.LikeStoreOptions{
		Overlay:                cfg.LikesOverlay,
		RollbackOnPersistError: cfg.LikesRollbackOnPersist,
		Logger:                 log,
	})

	opts := adapthttp.Options{Logger: log, CORSOrigins: cfg.CORSOrigins, ForwardAuth: cfg.ForwardAuth}
	if cfg.ForwardAuth {
		log.Warn("trusting Remote-User header from the reverse proxy")
	}
	if cfg.OIDC.Enabled() {
		oidcCfg, err := adapthttp.NewOIDCConfig(ctx, cfg.OIDC.Issuer, cfg.OIDC.ClientID, cfg.OIDC.ClientSecret, cfg.OIDC.RedirectURL)
		if err != nil {
			return err
		}
		opts.OIDC = oidcCfg
	}
	if cfg.AuthDisabled {
		dev, err := authSvc.ValidateForwardAuth(ctx, "dev")
		if err != nil {
			return fmt.Errorf("dev user: %w", err)
		}
		log.Warn("authentication disabled", zap.String("user", dev.Username))
		opts.DevUser = dev
	}

	srv := adapthttp.New(app.NewBMIService(db), app.NewChartsService(db), likes, authSvc, opts)
	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go sweepSessions(ctx, sessions, log)

	errc := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.Addr), zap.String("env", cfg.Env))
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func sweepSessions(ctx context.Context, sessions domain.SessionRepository, log *zap.Logger) {
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := sessions.DeleteExpired(ctx); err != nil {
				log.Warn("sweep sessions", zap.Error(err))
			}
		}
	}
}
