package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remember2.co/relay/internal/config"
	"remember2.co/relay/internal/inference"
	"remember2.co/relay/internal/obs"
)

func publicKeyPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func devConfig(t *testing.T) config.Config {
	return config.Config{
		Log:  config.LogConfig{Format: "json"},
		HTTP: config.HTTPConfig{Port: 8080, ShutdownTimeout: time.Second},
		Auth: config.AuthConfig{
			PublicKey:          publicKeyPEM(t),
			Issuer:             "https://idp.example.test/",
			Audience:           "personal-ai-assistant",
			RequiredPermission: "access:chat",
		},
		Directory: config.DirectoryConfig{Type: "memory"},
		Messaging: config.MessagingConfig{
			Type:     "whatsapp_business",
			WhatsApp: config.WhatsAppConfig{APIToken: "token", BaseURL: "http://graph.invalid", APIVersion: "v20.0"},
		},
		Webhook:   config.WebhookConfig{VerifyMode: "secret", VerifySecret: "verify-me"},
		Inference: config.InferenceConfig{Type: "echo", MaxTokens: 16},
	}
}

func TestBuildServesHealthAndHandshake(t *testing.T) {
	a, err := build(context.Background(), devConfig(t), obs.Discard())
	require.NoError(t, err)
	defer a.close()

	srv := httptest.NewServer(a.api.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=42")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBuildRejectsBadKey(t *testing.T) {
	cfg := devConfig(t)
	cfg.Auth.PublicKey = "not a key"
	_, err := build(context.Background(), cfg, obs.Discard())
	require.Error(t, err)
}

func TestBuildDirectoryMemory(t *testing.T) {
	dir, closeDir, err := buildDirectory(context.Background(), config.DirectoryConfig{Type: "memory"}, obs.Discard())
	require.NoError(t, err)
	defer closeDir()

	c, err := dir.Lookup(context.Background(), "whatsapp-business-account")
	require.NoError(t, err)
	assert.Equal(t, "whatsapp", c.Email)

	_, _, err = buildDirectory(context.Background(), config.DirectoryConfig{Type: "redis"}, obs.Discard())
	require.Error(t, err)
}

func TestBuildVerifier(t *testing.T) {
	_, err := buildVerifier(config.WebhookConfig{VerifyMode: "secret"}, nil, obs.Discard())
	require.Error(t, err, "empty secret")

	_, err = buildVerifier(config.WebhookConfig{VerifyMode: "carrier-pigeon"}, nil, obs.Discard())
	require.Error(t, err)
}

func TestBuildBackend(t *testing.T) {
	b, closeFn, err := buildBackend(config.InferenceConfig{Type: "echo"})
	require.NoError(t, err)
	defer closeFn()
	out, err := b.Generate(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "Echo: hi", out)

	_, _, err = buildBackend(config.InferenceConfig{Type: "openai"})
	require.Error(t, err, "openai needs an endpoint")

	_, _, err = buildBackend(config.InferenceConfig{Type: "tea-leaves"})
	require.Error(t, err)
}

func TestTimeoutBackend(t *testing.T) {
	slow := inference.BackendFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	_, err := timeoutBackend(slow, 10*time.Millisecond).Generate(context.Background(), "hi")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	fast := inference.Echo{}
	assert.Equal(t, inference.Backend(fast), timeoutBackend(fast, 0))
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("RELAY_HTTP_PORT", "9000")
	t.Setenv("RELAY_INFERENCE_TYPE", "echo")

	v := config.New()
	cmd := newRootCmd(v)
	require.NoError(t, cmd.ParseFlags([]string{"--port=9443", "--directory=memory"}))

	assert.Equal(t, 9443, v.GetInt("http.port"))
	assert.Equal(t, "memory", v.GetString("directory.type"))
	assert.Equal(t, "echo", v.GetString("inference.type"), "unset flag must not shadow the environment")
}
