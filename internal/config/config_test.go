package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("RELAY_AUTH_PUBLIC_KEY", "-----BEGIN PUBLIC KEY-----\nMIIB\n-----END PUBLIC KEY-----")
	t.Setenv("RELAY_AUTH_ISSUER", "https://idp.example.test/")
	t.Setenv("RELAY_AUTH_AUDIENCE", "personal-ai-assistant")
	t.Setenv("RELAY_DIRECTORY_POSTGRES_DSN", "postgres://relay:hunter2@db:5432/relay?sslmode=disable")
	t.Setenv("RELAY_MESSAGING_WHATSAPP_API_TOKEN", "EAAG-secret")
	t.Setenv("RELAY_WEBHOOK_VERIFY_SECRET", "verify-me")
	t.Setenv("RELAY_INFERENCE_ENDPOINT", "http://vllm:8000/v1")
}

func mustLoad(t *testing.T, file string) Config {
	t.Helper()
	cfg, err := Load(New(), file)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func assertContainsAll(t *testing.T, s string, parts ...string) {
	t.Helper()
	for _, p := range parts {
		if !strings.Contains(s, p) {
			t.Errorf("missing %q in %s", p, s)
		}
	}
}

func TestLoadDefaultsAndEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RELAY_HTTP_PORT", "9443")

	cfg := mustLoad(t, "")

	checks := []struct {
		name      string
		got, want any
	}{
		{"addr", cfg.HTTP.Addr(), ":9443"},
		{"shutdown timeout", cfg.HTTP.ShutdownTimeout, 10 * time.Second},
		{"required permission", cfg.Auth.RequiredPermission, "access:chat"},
		{"directory type", cfg.Directory.Type, "postgres"},
		{"messaging type", cfg.Messaging.Type, "whatsapp_business"},
		{"graph base url", cfg.Messaging.WhatsApp.BaseURL, "https://graph.facebook.com"},
		{"graph api version", cfg.Messaging.WhatsApp.APIVersion, "v20.0"},
		{"verify mode", cfg.Webhook.VerifyMode, "secret"},
		{"inference type", cfg.Inference.Type, "openai"},
		{"max tokens", cfg.Inference.MaxTokens, 256},
		{"tls", cfg.HTTP.TLS(), false},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadFileThenEnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RELAY_INFERENCE_MAX_TOKENS", "128")

	path := filepath.Join(t.TempDir(), "relay.toml")
	err := os.WriteFile(path, []byte(`
debug = true

[directory]
type = "mongodb"
mongodb_uri = "mongodb://relay:pw@mongo:27017"
mongodb_database = "remember2"

[inference]
type = "echo"
max_tokens = 512
`), 0o600)
	if err != nil {
		t.Fatal(err)
	}

	cfg := mustLoad(t, path)
	if !cfg.Debug {
		t.Error("debug not read from file")
	}
	if cfg.Directory.Type != "mongodb" || cfg.Directory.MongoDatabase != "remember2" {
		t.Errorf("directory = %+v", cfg.Directory)
	}
	if cfg.Inference.Type != "echo" {
		t.Errorf("inference type = %q", cfg.Inference.Type)
	}
	if cfg.Inference.MaxTokens != 128 {
		t.Errorf("environment must override the file: max tokens = %d", cfg.Inference.MaxTokens)
	}
}

func TestLoadMissingFile(t *testing.T) {
	setRequiredEnv(t)
	if _, err := Load(New(), filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RELAY_DIRECTORY_TYPE", "sqlite")
	t.Setenv("RELAY_INFERENCE_TYPE", "magic")
	t.Setenv("RELAY_WEBHOOK_VERIFY_MODE", "directory")
	t.Setenv("RELAY_HTTP_TLS_CERT", "/etc/relay/cert.pem")

	_, err := Load(New(), "")
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	assertContainsAll(t, msg, "Config.Directory.Type", "Config.Inference.Type", "Config.HTTP.TLSKey")
	if strings.Contains(msg, "VerifySecret") {
		t.Errorf("verify secret is not required in directory mode: %s", msg)
	}
}

func TestValidateConditionalRequirements(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RELAY_DIRECTORY_TYPE", "mongodb")
	t.Setenv("RELAY_WEBHOOK_VERIFY_SECRET", "")

	_, err := Load(New(), "")
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContainsAll(t, err.Error(),
		"Config.Directory.MongoURI", "Config.Directory.MongoDatabase", "Config.Webhook.VerifySecret")
}

func TestPublicKeyFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idp.pem")
	if err := os.WriteFile(path, []byte("pem-bytes"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := AuthConfig{PublicKeyFile: path}.PublicKeyPEM()
	if err != nil || got != "pem-bytes" {
		t.Fatalf("PublicKeyPEM = %q, %v", got, err)
	}

	got, err = AuthConfig{PublicKey: "inline", PublicKeyFile: path}.PublicKeyPEM()
	if err != nil || got != "inline" {
		t.Fatalf("inline key must win: %q, %v", got, err)
	}
}

func TestLogValueMasksSecrets(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RELAY_INFERENCE_API_KEY", "sk-live-abc")
	cfg := mustLoad(t, "")

	var buf bytes.Buffer
	slog.New(slog.NewJSONHandler(&buf, nil)).Info("effective configuration", slog.Any("config", cfg))
	out := buf.String()

	for _, secret := range []string{"hunter2", "EAAG-secret", "verify-me", "sk-live-abc"} {
		if strings.Contains(out, secret) {
			t.Errorf("secret %q leaked: %s", secret, out)
		}
	}
	assertContainsAll(t, out,
		`"directory_postgres_dsn":"postgres://****@db:5432/relay?sslmode=disable"`,
		`"whatsapp_api_token":"****"`)
}
