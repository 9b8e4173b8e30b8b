// Package config loads service configuration from a YAML file with
// environment-variable overrides for secrets and deploy-time knobs.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	// EnvConfigFile points at the YAML config file.
	EnvConfigFile = "AUTHGW_CONFIG"

	defaultListenAddr   = ":8080"
	defaultDatabasePath = "authgw.db"
	defaultEmailDomain  = "ridely.uz"
	defaultSMSProvider  = "log"
)

// GoTrue holds the external identity backend connection settings.
type GoTrue struct {
	BaseURL        string `yaml:"base_url"`
	ServiceRoleKey string `yaml:"service_role_key"`
}

// Eskiz holds the SMS gateway credentials.
type Eskiz struct {
	BaseURL  string `yaml:"base_url"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// SMS selects the notification sender implementation at process start.
type SMS struct {
	Provider string `yaml:"provider"` // "eskiz" or "log"
	Eskiz    Eskiz  `yaml:"eskiz"`
}

// Secrets holds the per-domain derivation secrets. Phone and Telegram use
// distinct secrets so placeholder credentials can never collide across
// identity domains.
type Secrets struct {
	Phone    string `yaml:"phone"`
	Telegram string `yaml:"telegram"`
}

// Config is the root service configuration.
type Config struct {
	ListenAddr       string  `yaml:"listen_addr"`
	DatabasePath     string  `yaml:"database_path"`
	EmailDomain      string  `yaml:"email_domain"`
	JWTSecret        string  `yaml:"jwt_secret"`
	TelegramBotToken string  `yaml:"telegram_bot_token"`
	GoTrue           GoTrue  `yaml:"gotrue"`
	SMS              SMS     `yaml:"sms"`
	Secrets          Secrets `yaml:"secrets"`
}

// Load reads the YAML file named by AUTHGW_CONFIG (if set), applies env
// overrides and defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	if path := os.Getenv(EnvConfigFile); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ListenAddr, "AUTHGW_LISTEN_ADDR")
	overrideString(&cfg.DatabasePath, "AUTHGW_DB_PATH")
	overrideString(&cfg.EmailDomain, "AUTHGW_EMAIL_DOMAIN")
	overrideString(&cfg.JWTSecret, "AUTHGW_JWT_SECRET")
	overrideString(&cfg.TelegramBotToken, "AUTHGW_TELEGRAM_BOT_TOKEN")
	overrideString(&cfg.GoTrue.BaseURL, "AUTHGW_GOTRUE_URL")
	overrideString(&cfg.GoTrue.ServiceRoleKey, "AUTHGW_GOTRUE_SERVICE_KEY")
	overrideString(&cfg.SMS.Provider, "AUTHGW_SMS_PROVIDER")
	overrideString(&cfg.SMS.Eskiz.BaseURL, "AUTHGW_ESKIZ_URL")
	overrideString(&cfg.SMS.Eskiz.Email, "AUTHGW_ESKIZ_EMAIL")
	overrideString(&cfg.SMS.Eskiz.Password, "AUTHGW_ESKIZ_PASSWORD")
	overrideString(&cfg.SMS.Eskiz.From, "AUTHGW_ESKIZ_FROM")
	overrideString(&cfg.Secrets.Phone, "AUTHGW_PHONE_SECRET")
	overrideString(&cfg.Secrets.Telegram, "AUTHGW_TELEGRAM_SECRET")
}

func overrideString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = defaultDatabasePath
	}
	if cfg.EmailDomain == "" {
		cfg.EmailDomain = defaultEmailDomain
	}
	if cfg.SMS.Provider == "" {
		cfg.SMS.Provider = defaultSMSProvider
	}
}

func (cfg *Config) validate() error {
	if cfg.GoTrue.BaseURL == "" {
		return fmt.Errorf("gotrue base_url is required")
	}
	if cfg.GoTrue.ServiceRoleKey == "" {
		return fmt.Errorf("gotrue service_role_key is required")
	}
	if cfg.Secrets.Phone == "" || cfg.Secrets.Telegram == "" {
		return fmt.Errorf("phone and telegram derivation secrets are required")
	}
	// An empty HS256 key would let anyone mint accepted session tokens.
	if cfg.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	switch cfg.SMS.Provider {
	case "log":
	case "eskiz":
		if cfg.SMS.Eskiz.BaseURL == "" || cfg.SMS.Eskiz.Email == "" || cfg.SMS.Eskiz.Password == "" {
			return fmt.Errorf("eskiz provider requires base_url, email and password")
		}
	default:
		return fmt.Errorf("unknown sms provider: %s", cfg.SMS.Provider)
	}
	return nil
}
