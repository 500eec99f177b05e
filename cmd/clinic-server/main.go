package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinic/records/internal/config"
	"github.com/clinic/records/internal/domain/patient"
	"github.com/clinic/records/internal/platform/db"
	"github.com/clinic/records/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinic-server",
		Short: "Clinic patient records API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(storeCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the patient records API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every patient record to a CSV or XLSX file",
		RunE: func(cmd *cobra.Command, args []string) error {
			formatFlag, _ := cmd.Flags().GetString("format")
			out, _ := cmd.Flags().GetString("out")

			format, err := patient.ParseFormat(formatFlag)
			if err != nil {
				return err
			}
			if out == "" {
				out = format.FileName()
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.IsDev(), os.Stderr)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			store, svc, err := openService(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore(store, logger)

			var w io.Writer = os.Stdout
			if out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}

			n, err := patient.NewExporter(svc, cfg.ExportDir).Write(ctx, w, format)
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}
			logger.Info().Int("records", n).Str("format", string(format)).Str("out", out).Msg("export written")
			return nil
		},
	}
	cmd.Flags().String("format", string(patient.FormatCSV), "Export format: csv or xlsx")
	cmd.Flags().String("out", "", "Output file, or - for stdout (default patients.<format>)")
	return cmd
}

func storeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Manage the patient record store",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create the patient collection or table with its constraints and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.IsDev(), os.Stderr)

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			store, svc, err := openService(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore(store, logger)

			if err := svc.InitStore(ctx); err != nil {
				return fmt.Errorf("store init failed: %w", err)
			}
			fmt.Printf("Patient store ready (driver %s).\n", store.Driver)
			return nil
		},
	}
	cmd.AddCommand(initCmd)

	return cmd
}

// newLogger writes JSON lines to out, or human-readable lines in development.
func newLogger(dev bool, out io.Writer) zerolog.Logger {
	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// openService connects to the configured store and builds the patient service
// on top of it.
func openService(ctx context.Context, cfg *config.Config) (*db.Store, *patient.Service, error) {
	store, err := db.Open(ctx, db.OptionsFromConfig(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	repo, err := patient.NewRepository(store)
	if err != nil {
		_ = store.Close(context.Background())
		return nil, nil, err
	}
	return store, patient.NewService(repo), nil
}

func closeStore(store *db.Store, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Close(ctx); err != nil {
		logger.Error().Err(err).Msg("close store")
	}
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		bootLog := newLogger(false, os.Stdout)
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	logger := newLogger(cfg.IsDev(), os.Stdout)

	// Store
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, svc, err := openService(ctx, cfg)
	if err != nil {
		cancel()
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to connect to store")
	}
	defer closeStore(store, logger)
	logger.Info().Str("driver", store.Driver).Msg("connected to store")

	if err := svc.InitStore(ctx); err != nil {
		cancel()
		logger.Fatal().Err(err).Msg("failed to prepare patient store")
	}
	cancel()

	exporter := patient.NewExporter(svc, cfg.ExportDir)
	handler := patient.NewHandler(svc, exporter, logger)
	e := newServer(cfg, logger, store, handler)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer wires middleware, health checks, the patient API and static
// delivery of the client onto a new echo instance.
func newServer(cfg *config.Config, logger zerolog.Logger, store *db.Store, h *patient.Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	// Global middleware. Recovery sits inside Logger so recovered panics are
	// logged with their final status.
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.Sanitize(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:  []string{echo.HeaderContentType, middleware.RequestIDHeader},
		ExposeHeaders: []string{echo.HeaderContentDisposition, middleware.RequestIDHeader, "Warning"},
	}))
	e.Use(middleware.SecurityHeaders("/api"))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	// Static client
	if info, err := os.Stat(cfg.StaticDir); err == nil && info.IsDir() {
		e.Use(echomw.StaticWithConfig(echomw.StaticConfig{
			Root:  cfg.StaticDir,
			HTML5: true,
			Skipper: func(c echo.Context) bool {
				p := c.Request().URL.Path
				return strings.HasPrefix(p, "/api") || strings.HasPrefix(p, "/health")
			},
		}))
	} else {
		logger.Warn().Str("dir", cfg.StaticDir).Msg("static client directory not found; serving API only")
	}

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(store.Driver, store))

	// API
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 || rateLimitCfg.BurstSize <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	api := e.Group("/api",
		middleware.RateLimit(rateLimitCfg),
		middleware.RequestTimeout(cfg.RequestTimeout),
	)
	h.RegisterRoutes(api)

	return e
}
