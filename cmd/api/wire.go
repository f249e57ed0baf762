package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"remember2.co/relay/internal/auth"
	"remember2.co/relay/internal/config"
	"remember2.co/relay/internal/httpapi"
	"remember2.co/relay/internal/inference"
	"remember2.co/relay/internal/messaging/whatsapp"
	"remember2.co/relay/internal/migrate"
	"remember2.co/relay/internal/relay"
	"remember2.co/relay/internal/webhook"
	"remember2.co/relay/ops/migrations"
)

// app owns everything that must be released on shutdown.
type app struct {
	api     *httpapi.API
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}
	fail := func(err error) (*app, error) {
		a.close()
		return nil, err
	}

	dir, closeDir, err := buildDirectory(ctx, cfg.Directory, logger)
	if err != nil {
		return fail(err)
	}
	a.closers = append(a.closers, closeDir)

	pem, err := cfg.Auth.PublicKeyPEM()
	if err != nil {
		return fail(err)
	}
	authn, err := auth.NewAuthenticator(dir,
		auth.WithPublicKeyPEM(pem),
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAudience(cfg.Auth.Audience),
		auth.WithRequiredPermission(cfg.Auth.RequiredPermission),
		auth.WithLogger(logger),
	)
	if err != nil {
		return fail(err)
	}

	verifier, err := buildVerifier(cfg.Webhook, dir, logger)
	if err != nil {
		return fail(err)
	}

	provider, err := whatsapp.New(whatsapp.Config{
		APIToken:   cfg.Messaging.WhatsApp.APIToken,
		BaseURL:    cfg.Messaging.WhatsApp.BaseURL,
		APIVersion: cfg.Messaging.WhatsApp.APIVersion,
		Timeout:    cfg.Messaging.WhatsApp.Timeout,
	}, whatsapp.WithLogger(logger))
	if err != nil {
		return fail(err)
	}

	backend, closeBackend, err := buildBackend(cfg.Inference)
	if err != nil {
		return fail(err)
	}
	a.closers = append(a.closers, closeBackend)

	gw, err := inference.NewGateway(cfg.Inference.Type, backend, logger)
	if err != nil {
		return fail(err)
	}
	svc, err := relay.NewService(provider, gw, verifier, logger)
	if err != nil {
		return fail(err)
	}

	a.api = httpapi.New(svc, authn, version,
		httpapi.WithLogger(logger),
		httpapi.WithReadiness(httpapi.ReadyProbe{Directory: dir}),
	)
	return a, nil
}

func buildDirectory(ctx context.Context, cfg config.DirectoryConfig, logger *slog.Logger) (auth.Directory, func(), error) {
	switch cfg.Type {
	case "postgres":
		db, err := auth.OpenPG(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.RunMigrations {
			mgr := migrate.NewManager(db, migrations.SQL(), migrations.Seeds(), migrate.WithLogger(logger))
			if _, err := mgr.Up(ctx); err != nil {
				_ = db.Close()
				return nil, nil, err
			}
			if _, err := mgr.Seed(ctx); err != nil {
				_ = db.Close()
				return nil, nil, err
			}
		}
		dir := auth.NewPGDirectory(db, logger)
		return dir, func() { _ = dir.Close() }, nil
	case "mongodb":
		dir, err := auth.ConnectMongo(cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			return nil, nil, err
		}
		return dir, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = dir.Close(ctx)
		}, nil
	case "memory":
		logger.Warn("using in-memory caller directory with development callers")
		return auth.NewMemoryDirectory(devCallers()...), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown directory type %q", cfg.Type)
	}
}

// devCallers mirrors ops/migrations/seeds for the memory directory.
func devCallers() []auth.Caller {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []auth.Caller{
		{
			ID:         "00000000-0000-0000-0000-000000000000",
			ExternalID: "whatsapp-business-account",
			Name:       "WhatsApp for Business",
			Email:      "whatsapp",
			CreatedAt:  created,
			UpdatedAt:  created,
		},
		{
			ID:         "00000000-0000-0000-0000-000000000001",
			ExternalID: "google-oauth2|000000000000000000001",
			Name:       "Development Caller",
			Email:      "dev@example.com",
			CreatedAt:  created,
			UpdatedAt:  created,
		},
	}
}

func buildVerifier(cfg config.WebhookConfig, dir auth.Directory, logger *slog.Logger) (*webhook.Verifier, error) {
	var checker webhook.TokenChecker
	switch cfg.VerifyMode {
	case "secret":
		sc, err := webhook.NewSecretChecker(cfg.VerifySecret)
		if err != nil {
			return nil, err
		}
		checker = sc
	case "directory":
		logger.Warn("webhook handshake tokens are checked against the caller directory")
		checker = webhook.NewDirectoryChecker(dir)
	default:
		return nil, fmt.Errorf("unknown webhook verify mode %q", cfg.VerifyMode)
	}
	return webhook.NewVerifier(checker, logger)
}

func buildBackend(cfg config.InferenceConfig) (inference.Backend, func(), error) {
	switch cfg.Type {
	case "openai":
		b, err := inference.NewOpenAI(inference.OpenAIConfig{
			Endpoint:  cfg.Endpoint,
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Timeout:   cfg.Timeout,
		}, nil)
		if err != nil {
			return nil, nil, err
		}
		return b, func() {}, nil
	case "grpc":
		b, err := inference.DialGRPC(cfg.Endpoint, cfg.MaxTokens)
		if err != nil {
			return nil, nil, err
		}
		return timeoutBackend(b, cfg.Timeout), func() { _ = b.Close() }, nil
	case "echo":
		return inference.Echo{}, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown inference type %q", cfg.Type)
	}
}

// timeoutBackend bounds each call when the transport has no timeout of its own.
func timeoutBackend(b inference.Backend, d time.Duration) inference.Backend {
	if d <= 0 {
		return b
	}
	return inference.BackendFunc(func(ctx context.Context, prompt string) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return b.Generate(ctx, prompt)
	})
}
