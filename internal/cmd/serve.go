package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"vehiclestatus/internal/config"
	"vehiclestatus/internal/domain"
	"vehiclestatus/internal/handler"
	"vehiclestatus/internal/hub"
	"vehiclestatus/internal/ingestor"
	"vehiclestatus/internal/middleware"
	"vehiclestatus/internal/store"
	"vehiclestatus/internal/telemetry"
)

func NewServeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the vehicle status backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(app.ConfigPath)
			if err != nil {
				return err
			}

			logger := newLogger(cfg, os.Stdout)
			slog.SetDefault(logger)

			source, err := ingestor.NewRedisSource(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisChannel, logger)
			if err != nil {
				return err
			}
			defer source.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServer(ctx, cfg, source, logger, nil)
		},
	}

	return cmd
}

// runServer serves until ctx is done or a component fails. When listening is
// non-nil it receives the bound address once the listener is open.
func runServer(ctx context.Context, cfg *config.Config, source ingestor.Source, logger *slog.Logger, listening chan<- string) error {
	logger.Info("starting vehicle status server",
		"log_level", cfg.LogLevel.String(),
		"http_addr", cfg.HTTPAddr,
		"redis_addr", cfg.RedisAddr,
		"redis_channel", cfg.RedisChannel,
		"version", Version,
	)

	metrics := telemetry.NewNopMetrics()
	if cfg.MetricsAddr != "" {
		tel := telemetry.NewServer(cfg.MetricsAddr, logger)
		metrics = telemetry.NewMetrics(tel.Registry())
		if err := tel.Start(); err != nil {
			return fmt.Errorf("starting telemetry server: %w", err)
		}
		defer tel.Stop()
	}

	vehicleStore := store.New(cfg.VehicleStaleAfter, nil)
	liveHub := hub.NewHub(vehicleStore, metrics, logger)
	ing := ingestor.New(source, vehicleStore, liveHub, ingestor.Options{
		PruneInterval: cfg.PruneInterval,
		Metrics:       metrics,
	}, logger)
	limiter := middleware.NewRateLimiter(cfg.RateLimitPerWindow, cfg.RateLimitWindow, cfg.RateLimitWhitelist, nil, metrics, logger)

	router := handler.NewRouter(handler.Handlers{
		Status: handler.NewStatusHandler(vehicleStore, domain.FilterOptions{
			Depots:          cfg.FilterDepots,
			InferredStates:  cfg.FilterInferredStates,
			PulloutStatuses: cfg.FilterPulloutStatuses,
		}),
		Health:  handler.NewHealthHandler(ing, vehicleStore, nil),
		Stats:   handler.NewServerStatsHandler(vehicleStore, liveHub, limiter, nil, Version),
		Stream:  handler.NewStreamHandler(liveHub, metrics, logger),
		Limiter: limiter,
	}, metrics, logger)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.HTTPAddr, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go liveHub.Run(ctx)
	go limiter.Run(ctx)

	errCh := make(chan error, 2)
	go func() {
		if err := ing.Run(ctx); err != nil {
			errCh <- fmt.Errorf("ingestor: %w", err)
		}
	}()

	go func() {
		logger.Info("starting HTTP server", "addr", listener.Addr().String())
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if listening != nil {
		listening <- listener.Addr().String()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-errCh:
		logger.Error("server component failed", "error", runErr)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return runErr
}
