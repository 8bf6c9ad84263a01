// Package config loads the relay configuration from a YAML file with
// environment-variable overrides. The resulting Config is built once at
// startup and treated as read-only afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Provider names accepted in the provider field.
const (
	ProviderSMTP   = "smtp"
	ProviderSES    = "ses"
	ProviderGraph  = "graph"
	ProviderStdout = "stdout"
)

// DefaultVerifyURL is the Cloudflare Turnstile siteverify endpoint.
const DefaultVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

// defaultMaxBodyBytes is 1 MB.
const defaultMaxBodyBytes = 1 << 20

// Config holds the complete application configuration.
type Config struct {
	SenderEmail     string        `yaml:"sender_email"`
	SenderLogin     string        `yaml:"sender_login"`
	SenderPassword  string        `yaml:"sender_password"`
	SMTPServer      string        `yaml:"smtp_server"`
	SMTPPort        int           `yaml:"smtp_port"`
	SMTPTimeout     time.Duration `yaml:"smtp_timeout"`
	TurnstileSecret string        `yaml:"turnstile_secret"`
	Endpoints       []Endpoint    `yaml:"submission_points"`

	Provider  string          `yaml:"provider"`
	Turnstile TurnstileConfig `yaml:"turnstile"`
	HTTP      HTTPConfig      `yaml:"http"`
	TLS       TLSConfig       `yaml:"tls"`
	SES       SESConfig       `yaml:"ses"`
	Graph     GraphConfig     `yaml:"graph"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Endpoint describes one form target.
type Endpoint struct {
	Path       string `yaml:"submission_url"`
	SuccessURL string `yaml:"success_url"`
	ErrorURL   string `yaml:"error_url"`
	Subject    string `yaml:"subject"`
	Recipient  string `yaml:"to_email"`
}

// TurnstileConfig holds bot-challenge settings other than the secret.
//
// Disabled must be set explicitly when no secret is configured. Running
// without verification leaves every endpoint open to automated submissions.
type TurnstileConfig struct {
	Disabled  bool          `yaml:"disabled"`
	VerifyURL string        `yaml:"verify_url"`
	Timeout   time.Duration `yaml:"timeout"`
}

// HTTPConfig holds the inbound listener settings.
type HTTPConfig struct {
	Listen         string        `yaml:"listen"`
	ClientIPHeader string        `yaml:"client_ip_header"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
}

// TLSConfig holds the optional HTTPS settings for the listener.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// SESConfig holds AWS SES v2 settings.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// GraphConfig holds Microsoft Graph API settings.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// MetricsConfig holds the Prometheus listener settings.
// An empty Listen disables the listener.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns the values applied to any field left empty by the file.
func Defaults() Config {
	return Config{
		SMTPPort:    587,
		SMTPTimeout: 30 * time.Second,
		Provider:    ProviderSMTP,
		Turnstile: TurnstileConfig{
			VerifyURL: DefaultVerifyURL,
			Timeout:   10 * time.Second,
		},
		HTTP: HTTPConfig{
			Listen:         ":8080",
			ClientIPHeader: "CF-Connecting-IP",
			MaxBodyBytes:   defaultMaxBodyBytes,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   60 * time.Second,
			IdleTimeout:    60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFromFile reads the YAML file at path, fills unset fields from
// Defaults, then applies environment overrides. It does not validate.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration data the same way LoadFromFile does.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	defaults := Defaults()
	if err := mergo.Merge(cfg, defaults); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// TurnstileEnabled reports whether submissions must pass the bot challenge.
func (c *Config) TurnstileEnabled() bool {
	return c.TurnstileSecret != "" && !c.Turnstile.Disabled
}

// SMTPAddr returns the host:port of the SMTP relay.
func (c *Config) SMTPAddr() string {
	return fmt.Sprintf("%s:%d", c.SMTPServer, c.SMTPPort)
}

// SESConfigured returns true if the SES region is set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != ""
}

// GraphConfigured returns true if all three Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != ""
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.SenderEmail == "" {
		errs = append(errs, errors.New("sender_email is required"))
	}

	switch c.Provider {
	case ProviderSMTP:
		if c.SMTPServer == "" {
			errs = append(errs, errors.New("smtp_server is required for the smtp provider"))
		}
		if c.SenderLogin == "" {
			errs = append(errs, errors.New("sender_login is required for the smtp provider"))
		}
		if c.SenderPassword == "" {
			errs = append(errs, errors.New("sender_password is required for the smtp provider"))
		}
		if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
			errs = append(errs, fmt.Errorf("smtp_port %d is out of range", c.SMTPPort))
		}
	case ProviderSES:
		if !c.SESConfigured() {
			errs = append(errs, errors.New("ses.region is required for the ses provider"))
		}
	case ProviderGraph:
		if !c.GraphConfigured() {
			errs = append(errs, errors.New("graph.tenant_id, graph.client_id and graph.client_secret are required for the graph provider"))
		}
	case ProviderStdout:
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider))
	}

	switch {
	case c.TurnstileSecret == "" && !c.Turnstile.Disabled:
		errs = append(errs, errors.New("turnstile_secret is empty: set it, or set turnstile.disabled to true to accept unverified submissions"))
	case c.TurnstileSecret != "" && c.Turnstile.Disabled:
		errs = append(errs, errors.New("turnstile_secret is set but turnstile.disabled is true"))
	}

	if c.HTTP.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("http.max_body_bytes must be positive"))
	}
	if c.TLS.Enabled && (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("tls.cert_file and tls.key_file must be set together"))
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown logging.format %q", c.Logging.Format))
	}

	if len(c.Endpoints) == 0 {
		errs = append(errs, errors.New("at least one entry in submission_points is required"))
	}
	seen := make(map[string]int, len(c.Endpoints))
	for i, ep := range c.Endpoints {
		if err := ep.validate(); err != nil {
			errs = append(errs, fmt.Errorf("submission_points[%d]: %w", i, err))
		}
		if first, ok := seen[ep.Path]; ok {
			errs = append(errs, fmt.Errorf("submission_points[%d]: submission_url %q duplicates submission_points[%d]", i, ep.Path, first))
			continue
		}
		seen[ep.Path] = i
	}

	return errors.Join(errs...)
}

func (e Endpoint) validate() error {
	var missing []string
	if e.Path == "" {
		missing = append(missing, "submission_url")
	}
	if e.SuccessURL == "" {
		missing = append(missing, "success_url")
	}
	if e.ErrorURL == "" {
		missing = append(missing, "error_url")
	}
	if e.Subject == "" {
		missing = append(missing, "subject")
	}
	if e.Recipient == "" {
		missing = append(missing, "to_email")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}
	if !strings.HasPrefix(e.Path, "/") {
		return fmt.Errorf("submission_url %q must start with /", e.Path)
	}
	return nil
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	setString(&c.SenderEmail, "SENDER_EMAIL")
	setString(&c.SenderLogin, "SENDER_LOGIN")
	setString(&c.SenderPassword, "SENDER_PASSWORD")
	setString(&c.SMTPServer, "SMTP_SERVER")
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.SMTPPort = port
		}
	}
	if v := os.Getenv("SMTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SMTPTimeout = d
		}
	}
	setString(&c.TurnstileSecret, "TURNSTILE_SECRET")

	setString(&c.HTTP.Listen, "HTTP_LISTEN")
	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	setString(&c.SES.Region, "SES_REGION")
	setString(&c.SES.AccessKeyID, "SES_ACCESS_KEY_ID")
	setString(&c.SES.SecretAccessKey, "SES_SECRET_ACCESS_KEY")

	setString(&c.Graph.TenantID, "GRAPH_TENANT_ID")
	setString(&c.Graph.ClientID, "GRAPH_CLIENT_ID")
	setString(&c.Graph.ClientSecret, "GRAPH_CLIENT_SECRET")

	setString(&c.TLS.CertFile, "TLS_CERT_FILE")
	setString(&c.TLS.KeyFile, "TLS_KEY_FILE")

	setString(&c.Metrics.Listen, "METRICS_LISTEN")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
