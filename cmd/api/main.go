package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"remember2.co/relay/internal/config"
	"remember2.co/relay/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "none"
)

func main() {
	if err := newRootCmd(config.New()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:           "relay-api",
		Short:         "Serve the assistant relay HTTP API.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "Config file (TOML, YAML or JSON).")
	flags.Bool("debug", false, "Enable debug logging.")
	flags.String("log-format", "json", "Log format: json|text.")
	flags.String("host", "", "Listen host.")
	flags.Int("port", 8080, "Listen port.")
	flags.String("tls-cert", "", "TLS certificate file.")
	flags.String("tls-key", "", "TLS private key file.")
	flags.String("directory", "postgres", "Caller directory: postgres|mongodb|memory.")
	flags.Bool("run-db-migrations", false, "Apply migrations and seeds before serving (postgres only).")
	flags.String("webhook-verify-mode", "secret", "Webhook handshake check: secret|directory.")
	flags.String("inference", "openai", "Inference backend: openai|grpc|echo.")
	flags.String("inference-endpoint", "", "Inference backend endpoint.")

	bindFlags(v, cmd, map[string]string{
		"debug":                    "debug",
		"log.format":               "log-format",
		"http.host":                "host",
		"http.port":                "port",
		"http.tls_cert":            "tls-cert",
		"http.tls_key":             "tls-key",
		"directory.type":           "directory",
		"directory.run_migrations": "run-db-migrations",
		"webhook.verify_mode":      "webhook-verify-mode",
		"inference.type":           "inference",
		"inference.endpoint":       "inference-endpoint",
	})
	return cmd
}

// bindFlags lets explicitly set flags override file and environment values.
func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for key, flag := range keys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logger := obs.NewLogger(os.Stdout, cfg.Log.Format, cfg.Debug)
	slog.SetDefault(logger)

	obs.Init()
	obs.InitBuildInfo(version, commit)
	logger.Info("starting assistant relay", slog.String("version", version), slog.Any("config", cfg))

	app, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.close()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           app.api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", srv.Addr), slog.Bool("tls", cfg.HTTP.TLS()))
		var err error
		if cfg.HTTP.TLS() {
			err = srv.ListenAndServeTLS(cfg.HTTP.TLSCert, cfg.HTTP.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("stopped")
	return nil
}
