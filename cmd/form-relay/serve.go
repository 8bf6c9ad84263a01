package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/shineum/form-relay/internal/config"
	"github.com/shineum/form-relay/internal/mailer"
	"github.com/shineum/form-relay/internal/provider"
	"github.com/shineum/form-relay/internal/provider/graph"
	"github.com/shineum/form-relay/internal/provider/ses"
	"github.com/shineum/form-relay/internal/provider/smtp"
	"github.com/shineum/form-relay/internal/provider/stdout"
	"github.com/shineum/form-relay/internal/relay"
	"github.com/shineum/form-relay/internal/server"
	relaytls "github.com/shineum/form-relay/internal/tls"
	"github.com/shineum/form-relay/internal/turnstile"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the form relay HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cfgFile)
		if err != nil {
			return err
		}
		setupLogger(cfg.Logging)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigCh)

		go func() {
			select {
			case sig := <-sigCh:
				slog.Info("received signal, initiating shutdown", "signal", sig)
				cancel()
			case <-ctx.Done():
			}
		}()

		if err := serve(ctx, cfg); err != nil {
			slog.Error("server error", "error", err)
			return err
		}
		slog.Info("form-relay stopped")
		return nil
	},
}

// serve wires the pipeline from cfg and blocks until ctx is cancelled or a
// listener fails.
func serve(ctx context.Context, cfg *config.Config) error {
	prov, err := selectProvider(ctx, cfg)
	if err != nil {
		return err
	}

	var verifier relay.Verifier
	if cfg.TurnstileEnabled() {
		verifier = turnstile.New(turnstile.Config{
			Secret:    cfg.TurnstileSecret,
			VerifyURL: cfg.Turnstile.VerifyURL,
			Timeout:   cfg.Turnstile.Timeout,
		})
	} else {
		slog.Warn("bot challenge disabled, submissions are accepted without verification")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	handler := relay.NewHandlerFromConfig(cfg,
		verifier,
		mailer.New(cfg.SenderEmail, prov, cfg.SMTPTimeout),
		relay.NewMetrics(reg),
	)

	var tlsConfig *tls.Config
	if cfg.TLS.Enabled {
		tlsConfig, err = relaytls.LoadOrGenerateTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			return fmt.Errorf("failed to setup TLS: %w", err)
		}
	}

	servers := []*server.Server{server.New(server.Config{
		Name:         "forms",
		Addr:         cfg.HTTP.Listen,
		Handler:      handler,
		TLSConfig:    tlsConfig,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	})}
	if cfg.Metrics.Listen != "" {
		servers = append(servers, server.New(server.Config{
			Name:        "metrics",
			Addr:        cfg.Metrics.Listen,
			Handler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
			ReadTimeout: cfg.HTTP.ReadTimeout,
			IdleTimeout: cfg.HTTP.IdleTimeout,
		}))
	}

	slog.Info("starting form-relay",
		"listen", cfg.HTTP.Listen,
		"provider", prov.Name(),
		"endpoints", len(cfg.Endpoints),
		"turnstile_enabled", verifier != nil,
		"tls_enabled", tlsConfig != nil,
		"metrics_listen", cfg.Metrics.Listen,
	)

	return runAll(ctx, servers)
}

// runAll runs every server and stops them all when the first one fails.
func runAll(ctx context.Context, servers []*server.Server) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(servers))
	for _, s := range servers {
		go func(s *server.Server) {
			errCh <- s.ListenAndServe(ctx)
		}(s)
	}

	var firstErr error
	for range servers {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	return firstErr
}

// selectProvider builds the delivery backend named by cfg.Provider.
func selectProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	switch cfg.Provider {
	case config.ProviderSES:
		slog.Info("using AWS SES provider", "region", cfg.SES.Region)
		p, err := ses.New(ctx, ses.SESProviderConfig{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES provider: %w", err)
		}
		return p, nil

	case config.ProviderGraph:
		slog.Info("using Microsoft Graph provider", "tenant_id", cfg.Graph.TenantID)
		return graph.New(graph.GraphProviderConfig{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
		}), nil

	case config.ProviderStdout:
		slog.Info("using stdout provider")
		return stdout.New(), nil

	case config.ProviderSMTP:
		slog.Info("using SMTP provider", "server", cfg.SMTPAddr(), "login", cfg.SenderLogin)
		return smtp.New(smtp.SMTPProviderConfig{
			Host:     cfg.SMTPServer,
			Port:     cfg.SMTPPort,
			Username: cfg.SenderLogin,
			Password: cfg.SenderPassword,
			Timeout:  cfg.SMTPTimeout,
		}), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
