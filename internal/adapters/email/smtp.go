package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	netmail "net/mail"
	"net/smtp"
	"os"
	"strconv"
	"strings"
	"time"

	gomail "gopkg.in/mail.v2"

	"gogetit/internal/domain/mail"
)

// DefaultTimeout bounds the connect and every read and write of one send.
const DefaultTimeout = 20 * time.Second

// DialFunc opens the TCP connection to the SMTP server.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// SMTPNotifier delivers plain-text notifications over SMTP. It holds no
// per-send state: configuration is read from the environment on every call
// and each call owns its connection.
type SMTPNotifier struct {
	getenv    func(string) string
	dial      DialFunc
	tlsConfig *tls.Config
	timeout   time.Duration
	localName string
}

// Option configures an SMTPNotifier.
type Option func(*SMTPNotifier)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(n *SMTPNotifier) { n.timeout = d }
}

// WithTLSConfig sets the TLS configuration used for implicit TLS and
// STARTTLS. ServerName defaults to SMTP_HOST when left empty.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(n *SMTPNotifier) { n.tlsConfig = cfg }
}

// WithDialer replaces the TCP dialer.
func WithDialer(d DialFunc) Option {
	return func(n *SMTPNotifier) { n.dial = d }
}

// WithGetenv replaces os.Getenv as the configuration source.
func WithGetenv(fn func(string) string) Option {
	return func(n *SMTPNotifier) { n.getenv = fn }
}

// WithLocalName sets the name sent with EHLO.
func WithLocalName(name string) Option {
	return func(n *SMTPNotifier) { n.localName = name }
}

// NewSMTPNotifier creates a notifier with production defaults.
// POST: Reads os.Getenv, dials with net.Dialer, verifies certificates
// against the system roots, times out after DefaultTimeout
func NewSMTPNotifier(opts ...Option) *SMTPNotifier {
	var d net.Dialer
	n := &SMTPNotifier{
		getenv:    os.Getenv,
		dial:      d.DialContext,
		timeout:   DefaultTimeout,
		localName: "localhost",
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Send implements Sender.
func (n *SMTPNotifier) Send(ctx context.Context, req SendRequest) mail.Outcome {
	return n.Notify(ctx, req.Subject, req.Body, req.To)
}

// Notify sends one email to recipient, or to ALERT_TO_EMAIL when recipient
// is empty.
// PRE: none; missing settings are reported, not assumed
// POST: Skipped without any connection when SMTP_HOST, SMTP_USER, SMTP_PASS
// or the resolved recipient is missing; Sent after the server accepted the
// message; Failed otherwise. Exactly one transaction per call, never retried.
// The connection is closed before Notify returns.
func (n *SMTPNotifier) Notify(ctx context.Context, subject, body, recipient string) mail.Outcome {
	cfg, err := mail.LoadConfig(n.getenv)
	if err != nil {
		slog.Error("notify_failed", "kind", mail.KindInvalidConfig, "error", err, "subject", subject)
		return mail.Failed(mail.KindInvalidConfig, "", err)
	}

	to := cfg.ResolveRecipient(recipient)
	if missing := cfg.Missing(to); len(missing) > 0 {
		slog.Info("notify_skipped", "reason", mail.ErrConfigIncomplete.Error(), "missing", missing, "subject", subject)
		return mail.Skipped(mail.ErrConfigIncomplete.Error())
	}

	msg := mail.NewMessage(cfg, subject, body, to)
	if err := msg.Validate(); err != nil {
		slog.Error("notify_failed", "kind", mail.KindInvalidMessage, "error", err, "to", to)
		return mail.Failed(mail.KindInvalidMessage, "", err)
	}

	start := time.Now()
	out := n.deliver(ctx, cfg, msg)
	elapsed := time.Since(start).Milliseconds()

	if out.IsSent() {
		slog.Info("notify_sent",
			"to", msg.To,
			"subject", msg.Subject,
			"transport", out.Transport,
			"duration_ms", elapsed,
		)
	} else {
		slog.Error("notify_failed",
			"kind", out.Kind,
			"error", out.Err,
			"host", cfg.Host,
			"port", cfg.Port,
			"transport", out.Transport,
			"to", msg.To,
			"subject", msg.Subject,
			"duration_ms", elapsed,
		)
	}
	return out
}

// deliver runs one SMTP session: connect, secure, authenticate, send, quit.
func (n *SMTPNotifier) deliver(ctx context.Context, cfg mail.Config, msg mail.Message) mail.Outcome {
	transport := mail.SelectTransport(cfg.Port)
	fail := func(kind mail.FailureKind, step string, err error) mail.Outcome {
		if isTimeout(err) {
			kind = mail.KindTransport
		}
		return mail.Failed(kind, transport, fmt.Errorf("%s: %w", step, err))
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	raw, err := n.dial(ctx, "tcp", addr)
	if err != nil {
		return fail(mail.KindTransport, "connect "+addr, err)
	}
	defer raw.Close()

	deadline, _ := ctx.Deadline()
	if err := raw.SetDeadline(deadline); err != nil {
		return fail(mail.KindTransport, "set deadline", err)
	}
	// Caller cancellation unblocks any pending read or write.
	stop := context.AfterFunc(ctx, func() { _ = raw.SetDeadline(time.Now()) })
	defer stop()

	tlsCfg := n.tlsConfigFor(cfg.Host)

	conn := raw
	if transport == mail.TransportImplicitTLS {
		tlsConn := tls.Client(raw, tlsCfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return fail(mail.KindTransport, "tls handshake", err)
		}
		conn = tlsConn
	}

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		return fail(mail.KindTransport, "greeting", err)
	}
	defer client.Close()

	if err := client.Hello(n.localName); err != nil {
		return fail(mail.KindTransport, "ehlo", err)
	}

	if transport == mail.TransportStartTLS {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			return fail(mail.KindTransport, "starttls", mail.ErrStartTLSUnsupported)
		}
		// StartTLS repeats EHLO on the secured channel.
		if err := client.StartTLS(tlsCfg); err != nil {
			return fail(mail.KindTransport, "starttls", err)
		}
	}

	if err := client.Auth(n.auth(client, cfg)); err != nil {
		return fail(mail.KindAuth, "auth", err)
	}

	if err := client.Mail(envelopeAddress(msg.From)); err != nil {
		return fail(mail.KindSend, "mail from", err)
	}
	if err := client.Rcpt(envelopeAddress(msg.To)); err != nil {
		return fail(mail.KindSend, "rcpt to", err)
	}
	w, err := client.Data()
	if err != nil {
		return fail(mail.KindSend, "data", err)
	}
	if _, err := compose(msg).WriteTo(w); err != nil {
		_ = w.Close()
		return fail(mail.KindSend, "write message", err)
	}
	if err := w.Close(); err != nil {
		return fail(mail.KindSend, "data", err)
	}

	// The message is accepted at this point; a failed QUIT does not undo it.
	if err := client.Quit(); err != nil {
		slog.Warn("notify_quit_failed", "host", cfg.Host, "error", err)
	}
	return mail.Sent(transport)
}

func (n *SMTPNotifier) tlsConfigFor(host string) *tls.Config {
	if n.tlsConfig == nil {
		return &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
	}
	cfg := n.tlsConfig.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	return cfg
}

// auth picks a mechanism the server advertises, preferring PLAIN.
func (n *SMTPNotifier) auth(client *smtp.Client, cfg mail.Config) smtp.Auth {
	_, mechs := client.Extension("AUTH")
	advertised := strings.Fields(strings.ToUpper(mechs))
	has := func(name string) bool {
		for _, m := range advertised {
			if m == name {
				return true
			}
		}
		return false
	}

	switch {
	case has("PLAIN") || len(advertised) == 0:
		return smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	case has("LOGIN"):
		return &loginAuth{username: cfg.Username, password: cfg.Password, host: cfg.Host}
	case has("CRAM-MD5"):
		return smtp.CRAMMD5Auth(cfg.Username, cfg.Password)
	default:
		return smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
}

// compose renders the RFC 5322 message.
func compose(msg mail.Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", msg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	if msg.ReplyTo != "" {
		m.SetHeader("Reply-To", msg.ReplyTo)
	}
	m.SetBody("text/plain", msg.Body)
	return m
}

// envelopeAddress strips a display name ("Site <a@b.com>" -> "a@b.com").
func envelopeAddress(s string) string {
	if a, err := netmail.ParseAddress(s); err == nil {
		return a.Address
	}
	return s
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// loginAuth implements the LOGIN mechanism, which net/smtp lacks and some
// providers (Office 365) still require.
type loginAuth struct {
	username string
	password string
	host     string
}

func (a *loginAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if !server.TLS {
		return "", nil, errors.New("unencrypted connection")
	}
	if server.Name != a.host {
		return "", nil, errors.New("wrong host name")
	}
	return "LOGIN", nil, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	switch strings.ToLower(strings.TrimSpace(string(fromServer))) {
	case "username:":
		return []byte(a.username), nil
	case "password:":
		return []byte(a.password), nil
	default:
		return nil, fmt.Errorf("unexpected server challenge: %s", fromServer)
	}
}
