// Package interpret ties the provider adapters together: configuration
// loading, the client factory, and credential checks.
package interpret

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/harunnryd/interpret/pkg/session"
)

// Config is the file-level configuration for one translation client.
type Config struct {
	Provider  string `mapstructure:"provider"`
	Transport string `mapstructure:"transport"`

	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`

	SubjectID string `mapstructure:"subject_id"`

	Credentials CredentialsConfig `mapstructure:"credentials"`
	Billing     BillingConfig     `mapstructure:"billing"`

	// Session is the free-form provider session block, decoded into the
	// provider's typed config at build time.
	Session map[string]any `mapstructure:"session"`
}

type CredentialsConfig struct {
	OpenAI     OpenAICredentials     `mapstructure:"openai"`
	Volcengine VolcengineCredentials `mapstructure:"volcengine"`
	Palabra    PalabraCredentials    `mapstructure:"palabra"`
}

type OpenAICredentials struct {
	APIKey string `mapstructure:"api_key"`
	Host   string `mapstructure:"host"`
}

type VolcengineCredentials struct {
	// ST uses the signed-request key pair.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// AST uses the app key pair plus a resource id.
	AppKey     string `mapstructure:"app_key"`
	AccessKey  string `mapstructure:"access_key"`
	ResourceID string `mapstructure:"resource_id"`
	UID        string `mapstructure:"uid"`
	Platform   string `mapstructure:"platform"`
}

type PalabraCredentials struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	APIHost      string `mapstructure:"api_host"`
}

type BillingConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Token    string `mapstructure:"token"`
}

// Transport names for the OpenAI provider, which is the only one with a
// choice.
const (
	TransportWebSocket = "websocket"
	TransportWebRTC    = "webrtc"
)

// LoadConfig reads a config file, applies defaults, and expands ${ENV}
// references in string values.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("transport", TransportWebSocket)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Provider) == "" {
		return fmt.Errorf("provider is required")
	}
	if !session.IsValidProvider(c.Provider) {
		return fmt.Errorf("unknown provider: %s", c.Provider)
	}
	switch c.Transport {
	case "", TransportWebSocket, TransportWebRTC:
	default:
		return fmt.Errorf("unknown transport: %s", c.Transport)
	}
	return nil
}

// LogLevelValue maps the configured level name onto slog.
func (c *Config) LogLevelValue() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func expandEnvStrings(cfg *Config) {
	cfg.Credentials.OpenAI.APIKey = os.ExpandEnv(cfg.Credentials.OpenAI.APIKey)
	cfg.Credentials.OpenAI.Host = os.ExpandEnv(cfg.Credentials.OpenAI.Host)
	cfg.Credentials.Volcengine.AccessKeyID = os.ExpandEnv(cfg.Credentials.Volcengine.AccessKeyID)
	cfg.Credentials.Volcengine.SecretAccessKey = os.ExpandEnv(cfg.Credentials.Volcengine.SecretAccessKey)
	cfg.Credentials.Volcengine.AppKey = os.ExpandEnv(cfg.Credentials.Volcengine.AppKey)
	cfg.Credentials.Volcengine.AccessKey = os.ExpandEnv(cfg.Credentials.Volcengine.AccessKey)
	cfg.Credentials.Palabra.ClientID = os.ExpandEnv(cfg.Credentials.Palabra.ClientID)
	cfg.Credentials.Palabra.ClientSecret = os.ExpandEnv(cfg.Credentials.Palabra.ClientSecret)
	cfg.Billing.Endpoint = os.ExpandEnv(cfg.Billing.Endpoint)
	cfg.Billing.Token = os.ExpandEnv(cfg.Billing.Token)
	cfg.Session = expandSettings(cfg.Session)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, val := range settings {
		settings[k] = expandAny(val)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, item := range val {
			val[k] = expandAny(item)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(item)
		}
		return out
	default:
		return v
	}
}
