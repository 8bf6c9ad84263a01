// Package provider defines the interface for email delivery backends.
package provider

import (
	"context"
	"fmt"

	"github.com/shineum/form-relay/internal/email"
)

// Delivery stages reported in DeliveryError.Op.
const (
	OpCompose = "compose"
	OpConnect = "connect"
	OpTLS     = "tls"
	OpAuth    = "auth"
	OpSend    = "send"
	OpAPI     = "api"
)

// Provider is the interface that email delivery backends must implement.
// Each provider transmits one composed message to its service (an SMTP
// relay, AWS SES, Microsoft Graph, or stdout).
type Provider interface {
	// Send delivers an email message through this provider.
	// It returns an error if the delivery fails.
	Send(ctx context.Context, msg *email.Email) error

	// Name returns the human-readable name of this provider.
	Name() string
}

// DeliveryError records the stage at which a delivery failed.
type DeliveryError struct {
	Op  string
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Fail wraps err as a DeliveryError for stage op.
func Fail(op string, err error) error {
	return &DeliveryError{Op: op, Err: err}
}
