// Package config assembles the relay's runtime configuration from defaults, an optional
// config file, RELAY_* environment variables and command-line flags, in that order.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const EnvPrefix = "RELAY"

type Config struct {
	Debug     bool            `mapstructure:"debug"`
	Log       LogConfig       `mapstructure:"log"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Messaging MessagingConfig `mapstructure:"messaging"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Inference InferenceConfig `mapstructure:"inference"`
}

type LogConfig struct {
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

type HTTPConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	TLSCert         string        `mapstructure:"tls_cert" validate:"required_with=TLSKey"`
	TLSKey          string        `mapstructure:"tls_key" validate:"required_with=TLSCert"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`
}

// Addr is the listen address.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}

// TLS reports whether the server should terminate TLS itself.
func (h HTTPConfig) TLS() bool { return h.TLSCert != "" && h.TLSKey != "" }

type AuthConfig struct {
	PublicKey          string `mapstructure:"public_key" validate:"required_without=PublicKeyFile"`
	PublicKeyFile      string `mapstructure:"public_key_file"`
	Issuer             string `mapstructure:"issuer" validate:"required,url"`
	Audience           string `mapstructure:"audience" validate:"required"`
	RequiredPermission string `mapstructure:"required_permission" validate:"required"`
}

// PublicKeyPEM returns the inline key, or the contents of PublicKeyFile.
func (a AuthConfig) PublicKeyPEM() (string, error) {
	if a.PublicKey != "" {
		return a.PublicKey, nil
	}
	raw, err := os.ReadFile(a.PublicKeyFile)
	if err != nil {
		return "", fmt.Errorf("config: read auth public key: %w", err)
	}
	return string(raw), nil
}

type DirectoryConfig struct {
	Type          string `mapstructure:"type" validate:"oneof=postgres mongodb memory"`
	PostgresDSN   string `mapstructure:"postgres_dsn" validate:"required_if=Type postgres"`
	MongoURI      string `mapstructure:"mongodb_uri" validate:"required_if=Type mongodb"`
	MongoDatabase string `mapstructure:"mongodb_database" validate:"required_if=Type mongodb"`
	RunMigrations bool   `mapstructure:"run_migrations"`
}

type MessagingConfig struct {
	Type     string         `mapstructure:"type" validate:"oneof=whatsapp_business"`
	WhatsApp WhatsAppConfig `mapstructure:"whatsapp"`
}

type WhatsAppConfig struct {
	APIToken   string        `mapstructure:"api_token" validate:"required"`
	BaseURL    string        `mapstructure:"base_url" validate:"required,url"`
	APIVersion string        `mapstructure:"api_version" validate:"required"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type WebhookConfig struct {
	VerifyMode   string `mapstructure:"verify_mode" validate:"oneof=secret directory"`
	VerifySecret string `mapstructure:"verify_secret" validate:"required_if=VerifyMode secret"`
}

type InferenceConfig struct {
	Type      string        `mapstructure:"type" validate:"oneof=openai grpc echo"`
	Endpoint  string        `mapstructure:"endpoint" validate:"required_unless=Type echo"`
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	MaxTokens int           `mapstructure:"max_tokens" validate:"min=1"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"min=0"`
}

var defaults = map[string]any{
	"debug":                          false,
	"log.format":                     "json",
	"http.host":                      "",
	"http.port":                      8080,
	"http.tls_cert":                  "",
	"http.tls_key":                   "",
	"http.shutdown_timeout":          "10s",
	"auth.public_key":                "",
	"auth.public_key_file":           "",
	"auth.issuer":                    "",
	"auth.audience":                  "",
	"auth.required_permission":       "access:chat",
	"directory.type":                 "postgres",
	"directory.postgres_dsn":         "",
	"directory.mongodb_uri":          "",
	"directory.mongodb_database":     "",
	"directory.run_migrations":       false,
	"messaging.type":                 "whatsapp_business",
	"messaging.whatsapp.api_token":   "",
	"messaging.whatsapp.base_url":    "https://graph.facebook.com",
	"messaging.whatsapp.api_version": "v20.0",
	"messaging.whatsapp.timeout":     "10s",
	"webhook.verify_mode":            "secret",
	"webhook.verify_secret":          "",
	"inference.type":                 "openai",
	"inference.endpoint":             "",
	"inference.api_key":              "",
	"inference.model":                "meta-llama/Meta-Llama-3.1-8B-Instruct",
	"inference.max_tokens":           256,
	"inference.timeout":              "60s",
}

// New returns a viper instance with defaults registered and RELAY_* environment lookups
// enabled, e.g. RELAY_AUTH_PUBLIC_KEY for auth.public_key.
func New() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads file (TOML, YAML or JSON by extension) when given, then decodes and validates.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", file, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("config: %w", err)
	}
	problems := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, fmt.Errorf("config: %s fails %q", fe.Namespace(), fe.Tag()))
	}
	return errors.Join(problems...)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

func maskDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return mask(dsn)
	}
	return dsn[:scheme+3] + "****" + dsn[at:]
}

// LogValue renders the effective configuration with secrets masked.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("debug", c.Debug),
		slog.String("log_format", c.Log.Format),
		slog.String("http_addr", c.HTTP.Addr()),
		slog.Bool("tls", c.HTTP.TLS()),
		slog.String("auth_issuer", c.Auth.Issuer),
		slog.String("auth_audience", c.Auth.Audience),
		slog.String("auth_required_permission", c.Auth.RequiredPermission),
		slog.String("directory_type", c.Directory.Type),
		slog.String("directory_postgres_dsn", maskDSN(c.Directory.PostgresDSN)),
		slog.String("directory_mongodb_uri", maskDSN(c.Directory.MongoURI)),
		slog.String("directory_mongodb_database", c.Directory.MongoDatabase),
		slog.Bool("run_migrations", c.Directory.RunMigrations),
		slog.String("messaging_type", c.Messaging.Type),
		slog.String("whatsapp_api_token", mask(c.Messaging.WhatsApp.APIToken)),
		slog.String("whatsapp_base_url", c.Messaging.WhatsApp.BaseURL),
		slog.String("whatsapp_api_version", c.Messaging.WhatsApp.APIVersion),
		slog.String("webhook_verify_mode", c.Webhook.VerifyMode),
		slog.String("webhook_verify_secret", mask(c.Webhook.VerifySecret)),
		slog.String("inference_type", c.Inference.Type),
		slog.String("inference_endpoint", c.Inference.Endpoint),
		slog.String("inference_api_key", mask(c.Inference.APIKey)),
		slog.String("inference_model", c.Inference.Model),
		slog.Int("inference_max_tokens", c.Inference.MaxTokens),
	)
}
