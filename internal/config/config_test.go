package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var envVars = []string{
	"SENDER_EMAIL", "SENDER_LOGIN", "SENDER_PASSWORD",
	"SMTP_SERVER", "SMTP_PORT", "SMTP_TIMEOUT", "TURNSTILE_SECRET",
	"HTTP_LISTEN", "PROVIDER",
	"SES_REGION", "SES_ACCESS_KEY_ID", "SES_SECRET_ACCESS_KEY",
	"GRAPH_TENANT_ID", "GRAPH_CLIENT_ID", "GRAPH_CLIENT_SECRET",
	"TLS_CERT_FILE", "TLS_KEY_FILE", "METRICS_LISTEN", "LOG_LEVEL", "LOG_FORMAT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range envVars {
		t.Setenv(env, "")
	}
}

const sampleYAML = `
sender_email: "forms@example.com"
sender_login: "forms"
sender_password: "hunter2"
smtp_server: "smtp.example.com"
smtp_port: 2587
turnstile_secret: "0x4AAA"
submission_points:
  - submission_url: "/contact"
    success_url: "https://example.com/thanks"
    error_url: "https://example.com/oops"
    subject: "Contact form"
    to_email: "owner@example.com"
  - submission_url: "/quote"
    success_url: "https://example.com/quote/thanks"
    error_url: "https://example.com/quote/oops"
    subject: "Quote request"
    to_email: "sales@example.com"
http:
  listen: ":9090"
logging:
  level: "warn"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromFile(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.SenderEmail != "forms@example.com" {
		t.Errorf("SenderEmail: got %q, want %q", cfg.SenderEmail, "forms@example.com")
	}
	if cfg.SMTPPort != 2587 {
		t.Errorf("SMTPPort: got %d, want %d", cfg.SMTPPort, 2587)
	}
	if cfg.SMTPAddr() != "smtp.example.com:2587" {
		t.Errorf("SMTPAddr(): got %q", cfg.SMTPAddr())
	}
	if len(cfg.Endpoints) != 2 {
		t.Fatalf("Endpoints: got %d, want 2", len(cfg.Endpoints))
	}
	first := cfg.Endpoints[0]
	if first.Path != "/contact" || first.Recipient != "owner@example.com" || first.Subject != "Contact form" {
		t.Errorf("Endpoints[0]: got %+v", first)
	}
	if cfg.Endpoints[1].Path != "/quote" {
		t.Errorf("Endpoints order not preserved: got %q second", cfg.Endpoints[1].Path)
	}
	if cfg.HTTP.Listen != ":9090" {
		t.Errorf("HTTP.Listen: got %q, want %q", cfg.HTTP.Listen, ":9090")
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "warn")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate(): unexpected error: %v", err)
	}
}

func TestLoadFromFile_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromFile(writeConfig(t, "sender_email: a@example.com\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.SMTPPort != 587 {
		t.Errorf("SMTPPort: got %d, want 587", cfg.SMTPPort)
	}
	if cfg.SMTPTimeout != 30*time.Second {
		t.Errorf("SMTPTimeout: got %v, want 30s", cfg.SMTPTimeout)
	}
	if cfg.Provider != ProviderSMTP {
		t.Errorf("Provider: got %q, want %q", cfg.Provider, ProviderSMTP)
	}
	if cfg.Turnstile.VerifyURL != DefaultVerifyURL {
		t.Errorf("Turnstile.VerifyURL: got %q", cfg.Turnstile.VerifyURL)
	}
	if cfg.Turnstile.Timeout != 10*time.Second {
		t.Errorf("Turnstile.Timeout: got %v, want 10s", cfg.Turnstile.Timeout)
	}
	if cfg.HTTP.Listen != ":8080" {
		t.Errorf("HTTP.Listen: got %q, want %q", cfg.HTTP.Listen, ":8080")
	}
	if cfg.HTTP.ClientIPHeader != "CF-Connecting-IP" {
		t.Errorf("HTTP.ClientIPHeader: got %q", cfg.HTTP.ClientIPHeader)
	}
	if cfg.HTTP.MaxBodyBytes != 1<<20 {
		t.Errorf("HTTP.MaxBodyBytes: got %d", cfg.HTTP.MaxBodyBytes)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging: got %+v", cfg.Logging)
	}
	if cfg.Metrics.Listen != "" {
		t.Errorf("Metrics.Listen: got %q, want empty", cfg.Metrics.Listen)
	}
}

func TestLoadFromFile_DurationsFromYAML(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromFile(writeConfig(t, "smtp_timeout: 5s\nturnstile:\n  timeout: 2500ms\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SMTPTimeout != 5*time.Second {
		t.Errorf("SMTPTimeout: got %v, want 5s", cfg.SMTPTimeout)
	}
	if cfg.Turnstile.Timeout != 2500*time.Millisecond {
		t.Errorf("Turnstile.Timeout: got %v, want 2.5s", cfg.Turnstile.Timeout)
	}
}

func TestLoadFromFile_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv("SMTP_SERVER", "relay.internal")
	t.Setenv("SMTP_PORT", "25")
	t.Setenv("SENDER_PASSWORD", "from-env")
	t.Setenv("TURNSTILE_SECRET", "env-secret")
	t.Setenv("PROVIDER", "STDOUT")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LOG_FORMAT", "Text")
	t.Setenv("METRICS_LISTEN", ":9100")

	cfg, err := LoadFromFile(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.SMTPServer != "relay.internal" {
		t.Errorf("SMTPServer: got %q, want %q (env should override YAML)", cfg.SMTPServer, "relay.internal")
	}
	if cfg.SMTPPort != 25 {
		t.Errorf("SMTPPort: got %d, want 25", cfg.SMTPPort)
	}
	if cfg.SenderPassword != "from-env" {
		t.Errorf("SenderPassword: got %q, want %q", cfg.SenderPassword, "from-env")
	}
	if cfg.TurnstileSecret != "env-secret" {
		t.Errorf("TurnstileSecret: got %q, want %q", cfg.TurnstileSecret, "env-secret")
	}
	if cfg.Provider != ProviderStdout {
		t.Errorf("Provider: got %q, want %q", cfg.Provider, ProviderStdout)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging: got %+v", cfg.Logging)
	}
	if cfg.Metrics.Listen != ":9100" {
		t.Errorf("Metrics.Listen: got %q", cfg.Metrics.Listen)
	}
	// Empty env var should NOT override YAML value
	if cfg.SenderLogin != "forms" {
		t.Errorf("SenderLogin: got %q, want %q (empty env should not override YAML)", cfg.SenderLogin, "forms")
	}
}

func TestLoadFromFile_InvalidPortEnvIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("SMTP_PORT", "not-a-number")

	cfg, err := LoadFromFile(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SMTPPort != 2587 {
		t.Errorf("SMTPPort: got %d, want 2587 (invalid env should be ignored)", cfg.SMTPPort)
	}
}

func TestLoadFromFile_FileNotFound(t *testing.T) {
	t.Parallel()

	_, err := LoadFromFile("/nonexistent/path/config.yml")
	if err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	t.Parallel()

	_, err := LoadFromFile(writeConfig(t, "{{invalid yaml"))
	if err == nil {
		t.Error("expected error for invalid YAML, got nil")
	}
}

func validConfig() *Config {
	cfg := Defaults()
	cfg.SenderEmail = "forms@example.com"
	cfg.SenderLogin = "forms"
	cfg.SenderPassword = "hunter2"
	cfg.SMTPServer = "smtp.example.com"
	cfg.TurnstileSecret = "secret"
	cfg.Endpoints = []Endpoint{{
		Path:       "/contact",
		SuccessURL: "https://example.com/ok",
		ErrorURL:   "https://example.com/err",
		Subject:    "Contact",
		Recipient:  "owner@example.com",
	}}
	return &cfg
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing sender",
			mutate:  func(c *Config) { c.SenderEmail = "" },
			wantErr: "sender_email is required",
		},
		{
			name:    "missing smtp server",
			mutate:  func(c *Config) { c.SMTPServer = "" },
			wantErr: "smtp_server is required",
		},
		{
			name:    "missing smtp login",
			mutate:  func(c *Config) { c.SenderLogin = "" },
			wantErr: "sender_login is required for the smtp provider",
		},
		{
			name:    "missing smtp password",
			mutate:  func(c *Config) { c.SenderPassword = "" },
			wantErr: "sender_password is required for the smtp provider",
		},
		{
			name:   "stdout provider needs no smtp server",
			mutate: func(c *Config) { c.SMTPServer = ""; c.Provider = ProviderStdout },
		},
		{
			name: "stdout provider needs no smtp credentials",
			mutate: func(c *Config) {
				c.SenderLogin, c.SenderPassword = "", ""
				c.Provider = ProviderStdout
			},
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.SMTPPort = 70000 },
			wantErr: "smtp_port 70000 is out of range",
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Provider = "pigeon" },
			wantErr: `unknown provider "pigeon"`,
		},
		{
			name:    "ses without region",
			mutate:  func(c *Config) { c.Provider = ProviderSES },
			wantErr: "ses.region is required",
		},
		{
			name:    "graph without credentials",
			mutate:  func(c *Config) { c.Provider = ProviderGraph; c.Graph.TenantID = "t" },
			wantErr: "graph.tenant_id",
		},
		{
			name:    "no secret without explicit opt-out",
			mutate:  func(c *Config) { c.TurnstileSecret = "" },
			wantErr: "turnstile_secret is empty",
		},
		{
			name:   "no secret with explicit opt-out",
			mutate: func(c *Config) { c.TurnstileSecret = ""; c.Turnstile.Disabled = true },
		},
		{
			name:    "secret and opt-out conflict",
			mutate:  func(c *Config) { c.Turnstile.Disabled = true },
			wantErr: "turnstile.disabled is true",
		},
		{
			name:    "no endpoints",
			mutate:  func(c *Config) { c.Endpoints = nil },
			wantErr: "at least one entry in submission_points",
		},
		{
			name: "endpoint missing fields",
			mutate: func(c *Config) {
				c.Endpoints = append(c.Endpoints, Endpoint{Path: "/other"})
			},
			wantErr: "submission_points[1]: missing success_url, error_url, subject, to_email",
		},
		{
			name: "endpoint path without slash",
			mutate: func(c *Config) {
				c.Endpoints[0].Path = "contact"
			},
			wantErr: "must start with /",
		},
		{
			name: "duplicate endpoint path",
			mutate: func(c *Config) {
				dup := c.Endpoints[0]
				dup.Recipient = "someone-else@example.com"
				c.Endpoints = append(c.Endpoints, dup)
			},
			wantErr: `submission_points[1]: submission_url "/contact" duplicates submission_points[0]`,
		},
		{
			name:    "unknown log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: `unknown logging.format "xml"`,
		},
		{
			name:    "tls key without cert",
			mutate:  func(c *Config) { c.TLS.Enabled = true; c.TLS.KeyFile = "/k.pem" },
			wantErr: "tls.cert_file and tls.key_file",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate(): unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate(): expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate(): got %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.SenderEmail = ""
	cfg.Endpoints = nil

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	msg := err.Error()
	if !strings.Contains(msg, "sender_email") || !strings.Contains(msg, "submission_points") {
		t.Errorf("Validate(): expected both problems reported, got %q", msg)
	}
}

func TestTurnstileEnabled(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		secret   string
		disabled bool
		expect   bool
	}{
		{name: "secret set", secret: "s", expect: true},
		{name: "no secret", secret: "", expect: false},
		{name: "explicitly disabled", secret: "", disabled: true, expect: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{TurnstileSecret: tt.secret, Turnstile: TurnstileConfig{Disabled: tt.disabled}}
			if got := cfg.TurnstileEnabled(); got != tt.expect {
				t.Errorf("TurnstileEnabled(): got %v, want %v", got, tt.expect)
			}
		})
	}
}

func TestGraphConfigured(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		graph  GraphConfig
		expect bool
	}{
		{name: "all set", graph: GraphConfig{TenantID: "t", ClientID: "c", ClientSecret: "s"}, expect: true},
		{name: "missing tenant_id", graph: GraphConfig{ClientID: "c", ClientSecret: "s"}, expect: false},
		{name: "missing client_id", graph: GraphConfig{TenantID: "t", ClientSecret: "s"}, expect: false},
		{name: "missing client_secret", graph: GraphConfig{TenantID: "t", ClientID: "c"}, expect: false},
		{name: "none set", graph: GraphConfig{}, expect: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{Graph: tt.graph}
			if got := cfg.GraphConfigured(); got != tt.expect {
				t.Errorf("GraphConfigured(): got %v, want %v", got, tt.expect)
			}
		})
	}
}
