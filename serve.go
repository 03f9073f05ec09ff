package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Martian-dev/crm-mail-gateway/internal/activity"
	"github.com/Martian-dev/crm-mail-gateway/internal/api"
	"github.com/Martian-dev/crm-mail-gateway/internal/auth"
	"github.com/Martian-dev/crm-mail-gateway/internal/config"
	"github.com/Martian-dev/crm-mail-gateway/internal/eventstore/sqlite"
	"github.com/Martian-dev/crm-mail-gateway/internal/gateway"
	"github.com/Martian-dev/crm-mail-gateway/internal/guards"
	"github.com/Martian-dev/crm-mail-gateway/internal/metrics"
	natsjs "github.com/Martian-dev/crm-mail-gateway/internal/nats"
	"github.com/Martian-dev/crm-mail-gateway/internal/rate"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg.Log.Level)
	gin.SetMode(cfg.Server.Mode)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	verifier, err := newVerifier(ctx, cfg.Auth)
	if err != nil {
		return err
	}

	store, err := sqlite.Open(cfg.Activity.DBPath)
	if err != nil {
		return fmt.Errorf("open activity store: %w", err)
	}
	defer store.Close()

	if cfg.Activity.NATSURL != "" {
		pub, err := natsjs.NewPublisher(cfg.Activity.NATSURL)
		if err != nil {
			return err
		}
		defer pub.Close()
		if err := pub.EnsureStream(ctx); err != nil {
			return err
		}
		// Registered after the store and publisher closers, so it runs first.
		stopDispatch := activity.NewDispatcher(store, pub, log, m).Start(ctx)
		defer stopDispatch()
	} else {
		log.Warn("activity.nats_url not set; events stay in the outbox")
	}

	opts := api.Options{
		Guard: guards.New(verifier, guards.Options{
			SignInPath:  cfg.Auth.SignInPath,
			LandingPath: cfg.Auth.LandingPath,
			Logger:      log,
			Metrics:     m,
		}),
		Emails: gateway.New(gateway.Options{
			Timeout: cfg.Email.Timeout,
			Logger:  log,
			Metrics: m,
		}),
		Activity: activity.NewRecorder(store),
		Limiter:  rate.New(cfg.Rate.RPS, cfg.Rate.Burst),
		Gatherer: registry,
		Sessions: verifier,
		Logger:   log,
		Metrics:  m,
	}
	if cfg.Auth.ServerURL != "" {
		opts.Tokens = auth.NewAccountTokenClient(cfg.Auth.ServerURL)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewServer(opts).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{"addr": cfg.Server.Addr, "version": version}).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
	return nil
}

func newVerifier(ctx context.Context, cfg config.AuthConfig) (*auth.JWTVerifier, error) {
	if cfg.JWKSURL != "" {
		v, err := auth.NewJWTVerifier(ctx, cfg.JWKSURL, cfg.Issuer)
		if err != nil {
			return nil, fmt.Errorf("jwks verifier: %w", err)
		}
		return v, nil
	}
	return auth.NewHMACVerifier([]byte(cfg.HMACSecret), cfg.Issuer)
}
