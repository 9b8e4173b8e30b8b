package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "authgw.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

// clearEnv blanks every override so ambient environment cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		EnvConfigFile,
		"AUTHGW_LISTEN_ADDR", "AUTHGW_DB_PATH", "AUTHGW_EMAIL_DOMAIN",
		"AUTHGW_JWT_SECRET", "AUTHGW_TELEGRAM_BOT_TOKEN",
		"AUTHGW_GOTRUE_URL", "AUTHGW_GOTRUE_SERVICE_KEY",
		"AUTHGW_SMS_PROVIDER", "AUTHGW_ESKIZ_URL", "AUTHGW_ESKIZ_EMAIL",
		"AUTHGW_ESKIZ_PASSWORD", "AUTHGW_ESKIZ_FROM",
		"AUTHGW_PHONE_SECRET", "AUTHGW_TELEGRAM_SECRET",
	} {
		t.Setenv(key, "")
	}
}

const minimalYAML = `
jwt_secret: test-jwt-secret
gotrue:
  base_url: http://localhost:9999
  service_role_key: service-key
secrets:
  phone: phone-secret
  telegram: telegram-secret
`

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvConfigFile, writeConfigFile(t, minimalYAML))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("listen addr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.DatabasePath != "authgw.db" {
		t.Errorf("database path = %q, want authgw.db", cfg.DatabasePath)
	}
	if cfg.EmailDomain != "ridely.uz" {
		t.Errorf("email domain = %q, want ridely.uz", cfg.EmailDomain)
	}
	if cfg.SMS.Provider != "log" {
		t.Errorf("sms provider = %q, want log", cfg.SMS.Provider)
	}
}

func TestLoadReadsYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvConfigFile, writeConfigFile(t, `
listen_addr: ":9090"
database_path: /var/lib/authgw/state.db
jwt_secret: file-jwt
gotrue:
  base_url: http://gotrue:9999
  service_role_key: service-key
sms:
  provider: eskiz
  eskiz:
    base_url: https://notify.eskiz.uz/api
    email: gw@ridely.uz
    password: gw-password
    from: "4546"
secrets:
  phone: phone-secret
  telegram: telegram-secret
`))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("listen addr = %q", cfg.ListenAddr)
	}
	if cfg.SMS.Provider != "eskiz" || cfg.SMS.Eskiz.From != "4546" {
		t.Errorf("sms config not read: %+v", cfg.SMS)
	}
	if cfg.GoTrue.BaseURL != "http://gotrue:9999" {
		t.Errorf("gotrue base url = %q", cfg.GoTrue.BaseURL)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvConfigFile, writeConfigFile(t, minimalYAML))
	t.Setenv("AUTHGW_LISTEN_ADDR", ":7070")
	t.Setenv("AUTHGW_GOTRUE_SERVICE_KEY", "env-service-key")
	t.Setenv("AUTHGW_PHONE_SECRET", "env-phone-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.ListenAddr != ":7070" {
		t.Errorf("listen addr = %q, want env override :7070", cfg.ListenAddr)
	}
	if cfg.GoTrue.ServiceRoleKey != "env-service-key" {
		t.Errorf("service key = %q, want env override", cfg.GoTrue.ServiceRoleKey)
	}
	if cfg.Secrets.Phone != "env-phone-secret" {
		t.Errorf("phone secret = %q, want env override", cfg.Secrets.Phone)
	}
}

func TestLoadWorksWithoutFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTHGW_GOTRUE_URL", "http://gotrue:9999")
	t.Setenv("AUTHGW_GOTRUE_SERVICE_KEY", "service-key")
	t.Setenv("AUTHGW_JWT_SECRET", "env-jwt-secret")
	t.Setenv("AUTHGW_PHONE_SECRET", "phone-secret")
	t.Setenv("AUTHGW_TELEGRAM_SECRET", "telegram-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("env-only load failed: %v", err)
	}
	if cfg.GoTrue.BaseURL != "http://gotrue:9999" {
		t.Errorf("gotrue base url = %q", cfg.GoTrue.BaseURL)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing gotrue url",
			yaml: `
gotrue:
  service_role_key: service-key
secrets:
  phone: a
  telegram: b
`,
			want: "base_url",
		},
		{
			name: "missing secrets",
			yaml: `
gotrue:
  base_url: http://gotrue:9999
  service_role_key: service-key
`,
			want: "secrets",
		},
		{
			name: "missing jwt secret",
			yaml: `
gotrue:
  base_url: http://gotrue:9999
  service_role_key: service-key
secrets:
  phone: a
  telegram: b
`,
			want: "jwt_secret",
		},
		{
			name: "eskiz without credentials",
			yaml: minimalYAML + `
sms:
  provider: eskiz
`,
			want: "eskiz",
		},
		{
			name: "unknown provider",
			yaml: minimalYAML + `
sms:
  provider: twilio
`,
			want: "unknown sms provider",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(EnvConfigFile, writeConfigFile(t, tc.yaml))
			_, err := Load()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
