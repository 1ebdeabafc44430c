package mail

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Environment keys read by LoadConfig.
const (
	EnvHost      = "SMTP_HOST"
	EnvPort      = "SMTP_PORT"
	EnvUser      = "SMTP_USER"
	EnvPass      = "SMTP_PASS"
	EnvAlertTo   = "ALERT_TO_EMAIL"
	EnvFromEmail = "FROM_EMAIL"
	EnvReplyTo   = "REPLY_TO"
)

// DefaultPort is used when SMTP_PORT is unset.
const DefaultPort = 587

// ImplicitTLSPort is the SMTPS port; every other port negotiates STARTTLS.
const ImplicitTLSPort = 465

// Domain errors
var (
	ErrConfigIncomplete    = errors.New("incomplete configuration")
	ErrInvalidPort         = errors.New("invalid SMTP port")
	ErrEmptySubject        = errors.New("subject is required")
	ErrEmptyBody           = errors.New("body is required")
	ErrStartTLSUnsupported = errors.New("server does not support STARTTLS")
)

// Config is the notifier configuration resolved from the environment for a
// single call. It is a value; nothing holds on to it after the call.
type Config struct {
	Host      string
	Port      int
	Username  string
	Password  string
	Recipient string // ALERT_TO_EMAIL; the default recipient
	From      string
	ReplyTo   string
}

// LoadConfig reads the notifier settings through getenv.
// PRE: getenv is non-nil (os.Getenv in production)
// POST: Returns a Config with From defaulted to Username and Port defaulted
// to 587; returns ErrInvalidPort if SMTP_PORT is set but not a valid port.
func LoadConfig(getenv func(string) string) (Config, error) {
	cfg := Config{
		Host:      strings.TrimSpace(getenv(EnvHost)),
		Port:      DefaultPort,
		Username:  strings.TrimSpace(getenv(EnvUser)),
		Password:  getenv(EnvPass),
		Recipient: strings.TrimSpace(getenv(EnvAlertTo)),
		From:      strings.TrimSpace(getenv(EnvFromEmail)),
		ReplyTo:   strings.TrimSpace(getenv(EnvReplyTo)),
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}

	if raw := strings.TrimSpace(getenv(EnvPort)); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return cfg, fmt.Errorf("%w: %q", ErrInvalidPort, raw)
		}
		cfg.Port = port
	}
	return cfg, nil
}

// ResolveRecipient returns the explicit recipient if given, else the default.
func (c Config) ResolveRecipient(explicit string) string {
	if r := strings.TrimSpace(explicit); r != "" {
		return r
	}
	return c.Recipient
}

// Missing lists the environment keys whose values are required but absent
// for a send to the given resolved recipient.
// INVARIANT: Config is not mutated
func (c Config) Missing(recipient string) []string {
	var missing []string
	if c.Host == "" {
		missing = append(missing, EnvHost)
	}
	if c.Username == "" {
		missing = append(missing, EnvUser)
	}
	if c.Password == "" {
		missing = append(missing, EnvPass)
	}
	if recipient == "" {
		missing = append(missing, EnvAlertTo)
	}
	return missing
}

// Complete reports whether a send to recipient has every required value.
func (c Config) Complete(recipient string) bool {
	return len(c.Missing(recipient)) == 0
}

// Transport is the connection security mode used to reach the SMTP server.
type Transport string

const (
	TransportImplicitTLS Transport = "implicit_tls"
	TransportStartTLS    Transport = "starttls"
)

// SelectTransport picks the transport for a port: 465 is implicit TLS,
// everything else upgrades a plaintext session with STARTTLS.
func SelectTransport(port int) Transport {
	if port == ImplicitTLSPort {
		return TransportImplicitTLS
	}
	return TransportStartTLS
}

// Message is a single plain-text email.
type Message struct {
	Subject string
	Body    string
	From    string
	To      string
	ReplyTo string // optional
}

// NewMessage builds the message for one send from the resolved config.
// PRE: cfg has passed Missing(recipient) with no entries
// POST: From is cfg.From; ReplyTo is set only when cfg.ReplyTo is
func NewMessage(cfg Config, subject, body, recipient string) Message {
	return Message{
		Subject: subject,
		Body:    body,
		From:    cfg.From,
		To:      recipient,
		ReplyTo: cfg.ReplyTo,
	}
}

// Validate checks the caller-supplied content.
func (m Message) Validate() error {
	if strings.TrimSpace(m.Subject) == "" {
		return ErrEmptySubject
	}
	if strings.TrimSpace(m.Body) == "" {
		return ErrEmptyBody
	}
	return nil
}
