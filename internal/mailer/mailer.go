// Package mailer turns a formatted submission into an outbound email and
// hands it to the configured delivery provider. Every failure is returned
// as a categorized Result; Dispatch never returns an error value.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/form-relay/internal/email"
	"github.com/shineum/form-relay/internal/provider"
)

// Failure reasons reported in Result.Reason.
const (
	ReasonConnect = provider.OpConnect
	ReasonTLS     = provider.OpTLS
	ReasonAuth    = provider.OpAuth
	ReasonSend    = provider.OpSend
	ReasonCompose = provider.OpCompose
	ReasonAPI     = provider.OpAPI
	ReasonTimeout = "timeout"
	ReasonUnknown = "unknown"
)

const defaultTimeout = 30 * time.Second

// Message is one notification to deliver.
type Message struct {
	To      string
	Subject string
	Body    string
	// ReplyTo is omitted from the email when empty.
	ReplyTo string
}

// Result is the outcome of a single Dispatch.
type Result struct {
	OK        bool
	Reason    string
	MessageID string
	Err       error
}

// Dispatcher sends Messages from a fixed sender through one provider.
type Dispatcher struct {
	sender   string
	domain   string
	provider provider.Provider
	timeout  time.Duration
}

// New creates a Dispatcher. A zero timeout means 30 seconds.
func New(sender string, p provider.Provider, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	domain := "localhost"
	if i := strings.LastIndexByte(sender, '@'); i >= 0 && i < len(sender)-1 {
		domain = sender[i+1:]
	}
	return &Dispatcher{
		sender:   sender,
		domain:   domain,
		provider: p,
		timeout:  timeout,
	}
}

// Dispatch delivers msg once. No retries are attempted.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) Result {
	e := &email.Email{
		From:      d.sender,
		To:        []string{msg.To},
		Subject:   msg.Subject,
		TextBody:  msg.Body,
		MessageID: fmt.Sprintf("<%s@%s>", uuid.NewString(), d.domain),
	}
	if msg.ReplyTo != "" {
		e.ReplyTo = []string{msg.ReplyTo}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	err := d.provider.Send(ctx, e)
	if err == nil {
		slog.Info("email dispatched",
			"provider", d.provider.Name(),
			"to", msg.To,
			"message_id", e.MessageID,
			"duration", time.Since(start),
		)
		return Result{OK: true, MessageID: e.MessageID}
	}

	reason := classify(ctx, err)
	slog.Error("email dispatch failed",
		"provider", d.provider.Name(),
		"to", msg.To,
		"message_id", e.MessageID,
		"reason", reason,
		"duration", time.Since(start),
		"error", err,
	)
	return Result{Reason: reason, MessageID: e.MessageID, Err: err}
}

func classify(ctx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ReasonTimeout
	}
	var de *provider.DeliveryError
	if errors.As(err, &de) && de.Op != "" {
		return de.Op
	}
	return ReasonUnknown
}
