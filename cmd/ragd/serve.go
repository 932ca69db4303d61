package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/telemetry"
)

type serveOptions struct {
	configPath string
	envFile    string
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the ragd HTTP server.

Configuration is read from ~/.config/ragd/config.yaml unless --config is
given, then overridden by RAGD_* environment variables. --env-file loads
variables from a dotenv file first; existing variables win.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "", "path to config.yaml")
	cmd.Flags().StringVar(&opts.envFile, "env-file", "", "dotenv file to load before reading the environment")
	return cmd
}

func loadConfig(opts *serveOptions) (*config.Config, error) {
	if opts.envFile != "" {
		if err := godotenv.Load(opts.envFile); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("loading env file %s: %w", opts.envFile, err)
			}
			return nil, fmt.Errorf("env file %s not found", opts.envFile)
		}
	}
	return config.LoadWithFile(opts.configPath)
}

func newLogger(cfg config.ObservabilityConfig, tel *telemetry.Telemetry) (*logging.Logger, error) {
	lc, err := logging.FromObservability(cfg, version, tel.LoggerProvider() != nil)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(lc, tel.LoggerProvider())
}

// runServe blocks until ctx is cancelled, then shuts down in reverse order
// of construction.
func runServe(ctx context.Context, opts *serveOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	tel, err := telemetry.New(ctx, cfg.Observability, version)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Observability, tel)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if h := tel.Health(); h.Degraded {
		logger.Warn(ctx, "telemetry degraded", zap.Strings("reasons", h.Reasons))
	}

	app, err := buildApp(ctx, cfg, tel, logger)
	if err != nil {
		return err
	}

	logger.Info(ctx, "starting ragd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("telemetry", tel.IsEnabled()),
		zap.Bool("runs", cfg.Runs.Enabled))

	errCh := make(chan error, 1)
	go func() { errCh <- app.server.Start() }()

	select {
	case err = <-errCh:
		if err != nil {
			logger.Error(ctx, "http server stopped", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if shutdownErr := app.shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn(shutdownCtx, "shutdown incomplete", zap.Error(shutdownErr))
	}
	if telErr := tel.Shutdown(shutdownCtx); telErr != nil {
		logger.Warn(shutdownCtx, "telemetry shutdown failed", zap.Error(telErr))
	}

	logger.Info(shutdownCtx, "ragd stopped", zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))
	return err
}
