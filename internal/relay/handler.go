// Package relay implements the HTTP side of the form relay: it resolves the
// submission endpoint, runs the bot check, validates and formats the form,
// dispatches the email, and redirects the browser.
package relay

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/form-relay/internal/config"
	"github.com/shineum/form-relay/internal/form"
	"github.com/shineum/form-relay/internal/mailer"
	"github.com/shineum/form-relay/internal/turnstile"
)

// tokenLogPrefix is how much of a challenge token is logged.
const tokenLogPrefix = 5

// Verifier checks a bot-challenge token.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) turnstile.Result
}

// Dispatcher delivers one formatted submission.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg mailer.Message) mailer.Result
}

// Options configures a Handler.
type Options struct {
	Endpoints []config.Endpoint
	// ClientIPHeader names the header holding the client address set by a
	// fronting proxy. Empty means only the connection address is used.
	ClientIPHeader string
	MaxBodyBytes   int64
	// Verifier may be nil, which disables the bot check.
	Verifier   Verifier
	Dispatcher Dispatcher
	Metrics    *Metrics
}

// Handler is the submission pipeline. It is safe for concurrent use.
type Handler struct {
	router     *Router
	ipHeader   string
	maxBody    int64
	verifier   Verifier
	dispatcher Dispatcher
	metrics    *Metrics
}

// NewHandler creates a Handler from opts.
func NewHandler(opts Options) *Handler {
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Handler{
		router:     NewRouter(opts.Endpoints),
		ipHeader:   opts.ClientIPHeader,
		maxBody:    maxBody,
		verifier:   opts.Verifier,
		dispatcher: opts.Dispatcher,
		metrics:    opts.Metrics,
	}
}

// NewHandlerFromConfig wires a Handler from the loaded configuration.
func NewHandlerFromConfig(cfg *config.Config, v Verifier, d Dispatcher, m *Metrics) *Handler {
	return NewHandler(Options{
		Endpoints:      cfg.Endpoints,
		ClientIPHeader: cfg.HTTP.ClientIPHeader,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		Verifier:       v,
		Dispatcher:     d,
		Metrics:        m,
	})
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.router.Resolve(r.URL.Path)
	if !ok || r.Method != http.MethodPost {
		slog.Debug("no submission endpoint", "method", r.Method, "path", r.URL.Path)
		h.metrics.submission(noEndpoint, RouteNotFound)
		notFound(w)
		return
	}

	outcome := h.process(r, ep)
	h.metrics.submission(ep.Path, outcome)

	target := ep.ErrorURL
	if outcome == Delivered {
		target = ep.SuccessURL
	}
	w.Header().Set("Location", target)
	w.WriteHeader(http.StatusFound)
}

// process runs the pipeline for a resolved endpoint and returns its outcome.
func (h *Handler) process(r *http.Request, ep config.Endpoint) Outcome {
	ip := h.clientIP(r)
	log := slog.With("submission_id", uuid.NewString(), "endpoint", ep.Path, "client_ip", ip)

	sub, err := form.ParseRequest(r, h.maxBody)
	if err != nil {
		log.Warn("submission rejected", "outcome", ValidationFailed.String(), "reason", "parse", "error", err)
		return ValidationFailed
	}
	sub.RemoteIP = ip

	log.Info("submission received", "token_prefix", prefix(sub.Token, tokenLogPrefix), "fields", len(sub.Fields))

	if h.verifier != nil {
		res := h.verifier.Verify(r.Context(), sub.Token, ip)
		if !res.Success {
			h.metrics.botCheckFailed(res.Reason)
			log.Warn("submission rejected",
				"outcome", BotCheckFailed.String(),
				"reason", res.Reason,
				"error_codes", res.ErrorCodes,
				"error", res.Err,
			)
			return BotCheckFailed
		}
	}

	replyTo := sub.Email()
	body := form.Format(sub.Fields)
	switch {
	case !form.ValidEmail(replyTo):
		log.Warn("submission rejected", "outcome", ValidationFailed.String(), "reason", "email")
		return ValidationFailed
	case !form.ValidBody(body):
		log.Warn("submission rejected", "outcome", ValidationFailed.String(), "reason", "empty_body")
		return ValidationFailed
	}

	// Dispatch outlives a client that disconnects; the dispatcher bounds it.
	start := time.Now()
	res := h.dispatcher.Dispatch(context.WithoutCancel(r.Context()), mailer.Message{
		To:      ep.Recipient,
		Subject: ep.Subject,
		Body:    body,
		ReplyTo: replyTo,
	})
	h.metrics.dispatched(ep.Path, time.Since(start), res.Reason)
	if !res.OK {
		log.Warn("submission rejected", "outcome", DispatchFailed.String(), "reason", res.Reason, "message_id", res.MessageID)
		return DispatchFailed
	}

	log.Info("submission delivered", "message_id", res.MessageID)
	return Delivered
}

// clientIP prefers the configured proxy header and falls back to the
// connection's remote host.
func (h *Handler) clientIP(r *http.Request) string {
	if h.ipHeader != "" {
		if v := strings.TrimSpace(r.Header.Get(h.ipHeader)); v != "" {
			return v
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func notFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte("404 Not Found"))
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
