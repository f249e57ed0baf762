// Command inferd serves an inference backend over gRPC so the relay can use
// inference.type=grpc against a model host it does not talk to directly.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"remember2.co/relay/internal/inference"
	"remember2.co/relay/internal/obs"
)

type options struct {
	listen    string
	backend   string
	endpoint  string
	apiKey    string
	model     string
	maxTokens int
	timeout   time.Duration
	debug     bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var o options
	cmd := &cobra.Command{
		Use:           "inferd",
		Short:         "Serve an inference backend over gRPC.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.listen, "listen", ":9091", "gRPC listen address.")
	f.StringVar(&o.backend, "backend", "echo", "Backend: echo|openai.")
	f.StringVar(&o.endpoint, "endpoint", os.Getenv("OPENAI_BASE_URL"), "OpenAI-compatible API base URL.")
	f.StringVar(&o.apiKey, "api-key", os.Getenv("OPENAI_API_KEY"), "API key for the upstream backend.")
	f.StringVar(&o.model, "model", inference.DefaultModel, "Model name.")
	f.IntVar(&o.maxTokens, "max-tokens", inference.DefaultMaxTokens, "Upper bound on generated tokens; callers may request fewer.")
	f.DurationVar(&o.timeout, "timeout", 60*time.Second, "Upstream request timeout.")
	f.BoolVar(&o.debug, "debug", false, "Enable debug logging.")
	return cmd
}

func backendFor(o options) (inference.Backend, error) {
	switch o.backend {
	case "echo":
		return inference.Echo{}, nil
	case "openai":
		return inference.NewOpenAI(inference.OpenAIConfig{
			Endpoint:  o.endpoint,
			APIKey:    o.apiKey,
			Model:     o.model,
			MaxTokens: o.maxTokens,
			Timeout:   o.timeout,
		}, nil)
	default:
		return nil, fmt.Errorf("unknown backend %q", o.backend)
	}
}

func serve(ctx context.Context, o options) error {
	logger := obs.NewLogger(os.Stdout, "json", o.debug)

	backend, err := backendFor(o)
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", o.listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", o.listen, err)
	}

	srv := grpc.NewServer()
	inference.RegisterServer(srv, backend)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("inferd listening", slog.String("addr", lis.Addr().String()), slog.String("backend", o.backend))
		errCh <- srv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("inferd shutting down")
	hs.Shutdown()
	srv.GracefulStop()
	return nil
}
