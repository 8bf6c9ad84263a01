// Package smtp implements a Provider that submits mail to an SMTP relay
// over STARTTLS with SASL PLAIN authentication.
package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"gopkg.in/gomail.v2"

	"github.com/shineum/form-relay/internal/email"
	"github.com/shineum/form-relay/internal/provider"
)

// defaultTimeout bounds the whole SMTP session when none is configured.
const defaultTimeout = 30 * time.Second

// helloName is the EHLO identity, matching go-smtp's default.
const helloName = "localhost"

// SMTPProviderConfig holds the configuration for creating an SMTPProvider.
type SMTPProviderConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration

	// TLSConfig overrides the client TLS settings. ServerName defaults to Host.
	TLSConfig *tls.Config
}

// SMTPProvider delivers messages through an authenticated SMTP relay.
type SMTPProvider struct {
	addr      string
	username  string
	password  string
	timeout   time.Duration
	tlsConfig *tls.Config
}

// New creates a new SMTPProvider with the given configuration.
func New(cfg SMTPProviderConfig) *SMTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	var tlsConfig *tls.Config
	if cfg.TLSConfig != nil {
		tlsConfig = cfg.TLSConfig.Clone()
	} else {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = cfg.Host
	}

	return &SMTPProvider{
		addr:      net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		username:  cfg.Username,
		password:  cfg.Password,
		timeout:   timeout,
		tlsConfig: tlsConfig,
	}
}

// Send connects to the relay, upgrades with STARTTLS, authenticates when
// credentials are configured, and submits msg. The session is bounded by
// the provider timeout and by ctx.
func (p *SMTPProvider) Send(ctx context.Context, msg *email.Email) error {
	raw, err := buildMessage(msg)
	if err != nil {
		return provider.Fail(provider.OpCompose, err)
	}

	deadline := time.Now().Add(p.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	dialer := &net.Dialer{Deadline: deadline}
	rawConn, err := dialer.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return provider.Fail(provider.OpConnect, fmt.Errorf("dial %s: %w", p.addr, err))
	}
	// go-smtp moves the conn deadline per command; the wrapper keeps every
	// deadline it sets within the session deadline.
	conn := &boundedConn{Conn: rawConn, limit: deadline}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return provider.Fail(provider.OpConnect, err)
	}

	// Closing the connection unblocks any pending read when ctx ends first.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	client, err := gosmtp.NewClientStartTLS(conn, p.tlsConfig)
	if err != nil {
		conn.Close()
		return provider.Fail(provider.OpTLS, err)
	}
	defer client.Close()

	// The TLS handshake is lazy. EHLO over the upgraded conn runs it here so
	// certificate errors are reported as tls, not as the first later command.
	if err := client.Hello(helloName); err != nil {
		return provider.Fail(provider.OpTLS, err)
	}

	if p.username != "" {
		auth := sasl.NewPlainClient("", p.username, p.password)
		if err := client.Auth(auth); err != nil {
			return provider.Fail(provider.OpAuth, err)
		}
	}

	if err := client.SendMail(msg.From, msg.To, bytes.NewReader(raw)); err != nil {
		return provider.Fail(provider.OpSend, err)
	}

	// The relay has accepted the message; a failed QUIT does not undo that.
	if err := client.Quit(); err != nil && !errors.Is(err, net.ErrClosed) {
		slog.Warn("smtp quit failed after message was accepted", "addr", p.addr, "error", err)
	}

	return nil
}

// Name returns the provider name.
func (p *SMTPProvider) Name() string {
	return "smtp"
}

// buildMessage renders msg as a text/plain MIME message.
func buildMessage(msg *email.Email) ([]byte, error) {
	if len(msg.To) == 0 {
		return nil, errors.New("message has no recipients")
	}

	m := gomail.NewMessage(gomail.SetCharset("UTF-8"))
	m.SetHeader("From", msg.From)
	m.SetHeader("To", msg.To...)
	if len(msg.ReplyTo) > 0 {
		m.SetHeader("Reply-To", msg.ReplyTo...)
	}
	m.SetHeader("Subject", msg.Subject)
	if msg.MessageID != "" {
		m.SetHeader("Message-ID", msg.MessageID)
	}
	m.SetDateHeader("Date", time.Now())
	m.SetBody("text/plain", msg.TextBody)

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to render message: %w", err)
	}
	return buf.Bytes(), nil
}

// boundedConn clamps every deadline to limit. A zero deadline, which
// go-smtp uses to clear its per-command timeout, also becomes limit.
type boundedConn struct {
	net.Conn
	limit time.Time
}

func (c *boundedConn) clamp(t time.Time) time.Time {
	if t.IsZero() || t.After(c.limit) {
		return c.limit
	}
	return t
}

func (c *boundedConn) SetDeadline(t time.Time) error {
	return c.Conn.SetDeadline(c.clamp(t))
}

func (c *boundedConn) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(c.clamp(t))
}

func (c *boundedConn) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(c.clamp(t))
}
