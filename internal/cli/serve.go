package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/wa-blip-relay/internal/blip"
	"github.com/tbourn/wa-blip-relay/internal/config"
	"github.com/tbourn/wa-blip-relay/internal/dedup"
	httpapi "github.com/tbourn/wa-blip-relay/internal/http"
	"github.com/tbourn/wa-blip-relay/internal/observability"
	"github.com/tbourn/wa-blip-relay/internal/repo"
	"github.com/tbourn/wa-blip-relay/internal/sysutil"
	"github.com/tbourn/wa-blip-relay/internal/whatsapp"
)

// shutdownGrace bounds in-flight request draining on SIGINT/SIGTERM.
const shutdownGrace = 15 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook relay HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

func runServe(ctx context.Context, cfg config.Config) error {
	sysutil.SetupLogging(nil, cfg.LogLevel, cfg.LogPretty)
	logger := log.With().Str("component", "serve").Logger()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, Version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			logger.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}
	store := repo.NewStore(db)

	if cfg.RoutesFile != "" {
		routes, err := repo.LoadRoutesFile(cfg.RoutesFile)
		if err != nil {
			return err
		}
		if err := store.ImportRoutes(ctx, routes); err != nil {
			return err
		}
		logger.Info().Int("routes", len(routes)).Str("file", cfg.RoutesFile).Msg("routes imported")
	}

	webhookDedup := dedup.New(dedup.Options{
		TTL:           cfg.Dedup.TTL,
		SweepInterval: cfg.Dedup.SweepInterval,
		OnSize:        func(n int) { observability.DedupEntries.Set(float64(n)) },
	})
	replays := dedup.New(dedup.Options{TTL: cfg.Dedup.TTL, SweepInterval: cfg.Dedup.SweepInterval})
	go webhookDedup.Run(ctx)
	go replays.Run(ctx)

	gateway := blip.New(blip.Options{
		BaseURL:  cfg.Gateway.BaseURL,
		Username: cfg.Gateway.Username,
		Password: cfg.Gateway.Password,
		Timeout:  cfg.Gateway.Timeout,
	})
	cloudAPI := whatsapp.NewClient(whatsapp.ClientOptions{
		BaseURL:    cfg.WhatsApp.BaseURL,
		APIVersion: cfg.WhatsApp.APIVersion,
		Timeout:    cfg.WhatsApp.Timeout,
		RateRPS:    cfg.WhatsApp.RateRPS,
	})

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		Store:     store,
		Dedup:     webhookDedup,
		Replays:   replays,
		Transport: gateway,
		Sender:    cloudAPI,
		Gateway:   gateway,
	}, cfg)

	srv := newServer(cfg, r)
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("version", Version).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	return <-errCh
}

func newServer(cfg config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
}
