package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/marcelg7/hayacs-sub004/internal/auth"
	"github.com/marcelg7/hayacs-sub004/internal/config"
	"github.com/marcelg7/hayacs-sub004/internal/httpapi"
	"github.com/marcelg7/hayacs-sub004/internal/persistence"
	"github.com/marcelg7/hayacs-sub004/internal/tasks"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("acsd exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cpeCredentials, err := config.LoadCPECredentials(cfg.CredentialsFile)
	if err != nil {
		return err
	}
	credentialEntries := make([]auth.Credential, 0, len(cpeCredentials))
	for _, credential := range cpeCredentials {
		credentialEntries = append(credentialEntries, auth.Credential{
			Username: credential.Username,
			Password: credential.Password,
		})
	}

	db, err := persistence.Open(ctx, persistence.Options{
		Path:          cfg.DBPath,
		BusyTimeoutMS: cfg.BusyTimeoutMS,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	initResult, err := httpapi.InitializeDashboardCredentials(ctx, db.Queries, cfg.DashboardUsername, cfg.DashboardPassword)
	if err != nil {
		return err
	}
	if initResult.InitializedNow {
		// Printed once so the operator can log in; never logged again.
		logger.Info("dashboard credential initialized",
			slog.String("username", initResult.Username),
			slog.String("password", initResult.PasswordPlaintext))
	}
	if initResult.EnvIgnored {
		logger.Warn("dashboard credential environment overrides ignored; credential already persisted")
	}

	nonces := auth.NewNonceCache(auth.NonceCacheOptions{
		TTL:       cfg.NonceTTL,
		SingleUse: cfg.NonceSingleUse,
	})
	authenticator := auth.NewAuthenticator(cfg.Realm, auth.NewCredentials(credentialEntries), nonces, logger)

	taskStore := tasks.NewStore(db, logger)
	sweeper := tasks.NewSweeper(taskStore, cfg.SweepInterval, logger)
	go sweeper.Run(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := httpapi.NewRouter(
		authenticator,
		httpapi.NewACSHandler(taskStore, logger),
		httpapi.NewTaskHandler(taskStore),
		httpapi.NewConsoleAuth(initResult.Username, initResult.PasswordHash, logger),
	)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("acsd listening", slog.String("addr", cfg.HTTPAddr), slog.String("realm", cfg.Realm))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
