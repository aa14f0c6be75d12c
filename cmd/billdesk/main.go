package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinic/billdesk/internal/config"
	"github.com/clinic/billdesk/internal/domain/billing"
	"github.com/clinic/billdesk/internal/platform/billingapi"
	"github.com/clinic/billdesk/internal/platform/middleware"
	"github.com/clinic/billdesk/internal/platform/telemetry"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string
	rootCmd := &cobra.Command{
		Use:          "billdesk",
		Short:        "Clinic billing desk",
		SilenceUsage: true,
		Version:      version,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to an optional .env file")

	load := func(cmd *cobra.Command) (*app, error) {
		return newApp(envFile, cmd.ErrOrStderr())
	}

	rootCmd.AddCommand(serveCmd(load))
	rootCmd.AddCommand(billsCmd(load))
	rootCmd.AddCommand(receiptCmd(load))
	rootCmd.AddCommand(refundSlipCmd(load))
	rootCmd.AddCommand(invoiceCmd(load))
	rootCmd.AddCommand(dashboardCmd(load))
	return rootCmd
}

// app is everything a command needs: configuration, a logger and the
// billing service backed by the billing API.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *telemetry.Provider
	svc     *billing.Service
}

type loader func(cmd *cobra.Command) (*app, error)

func newApp(envFile string, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := newLogger(cfg, logOut)
	metrics := telemetry.NewProvider()

	client := billingapi.New(cfg.APIBaseURL, cfg.APITimeout,
		billingapi.WithToken(cfg.APIToken),
		billingapi.WithLogger(logger),
		billingapi.WithObserver(metrics),
	)
	desk := billing.NewDesk(client, cfg.ReconcileDelay, logger)
	svc := billing.NewService(client, desk, logger)
	return &app{cfg: cfg, logger: logger, metrics: metrics, svc: svc}, nil
}

func (a *app) close() {
	a.svc.Desk().Close()
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	if cfg.IsDev() {
		out = zerolog.ConsoleWriter{Out: out}
	}
	return zerolog.New(out).With().Timestamp().Logger().Level(cfg.Level())
}

func serveCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the billing desk API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), a)
		},
	}
}

// newServer builds the echo instance with the desk API mounted under
// /api/v1.
func newServer(a *app) *echo.Echo {
	cfg, logger := a.cfg, a.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(a.metrics.MetricsMiddleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:  []string{"Content-Type", middleware.RequestIDHeader, middleware.IdempotencyKeyHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader, "Idempotent-Replayed"},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/metrics", a.metrics.PrometheusHandler())

	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 || rateLimitCfg.BurstSize <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	// Handlers run on the timeout goroutine; recover there too.
	apiV1.Use(middleware.Recovery(logger))
	apiV1.Use(middleware.Idempotency(middleware.NewIdempotencyStore(24 * time.Hour)))

	billingHandler := billing.NewHandler(a.svc, cfg.Clinic(), cfg.DefaultServiceRate)
	billingHandler.RegisterRoutes(apiV1)

	return e
}

func runServer(ctx context.Context, a *app) error {
	logger := a.logger
	e := newServer(a)
	defer a.close()

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + a.cfg.Port
		logger.Info().Str("addr", addr).Str("billing_api", a.cfg.APIBaseURL).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
