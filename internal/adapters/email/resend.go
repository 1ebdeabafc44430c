package email

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/url"
	"os"

	"github.com/resend/resend-go/v2"
	"github.com/yuin/goldmark"
	goldmarkHTML "github.com/yuin/goldmark/renderer/html"

	"gogetit/internal/domain/mail"
)

// bodyRenderer turns the plain-text body into the HTML alternative. Raw HTML
// typed into a form is dropped, not passed through.
var bodyRenderer = goldmark.New(
	goldmark.WithRendererOptions(
		goldmarkHTML.WithHardWraps(),
	),
)

// ResendSender sends notifications via the Resend API instead of SMTP.
// Sender, reply-to and default recipient still come from FROM_EMAIL,
// REPLY_TO and ALERT_TO_EMAIL, re-read on every call.
type ResendSender struct {
	client *resend.Client
	getenv func(string) string
}

// NewResendSender creates a new ResendSender with the given API key.
// PRE: apiKey is a valid Resend API key
// POST: Returns a ready-to-use sender reading addresses from os.Getenv
func NewResendSender(apiKey string) *ResendSender {
	return &ResendSender{
		client: resend.NewClient(apiKey),
		getenv: os.Getenv,
	}
}

// Send delivers req through Resend.
// PRE: none; incomplete settings yield Skipped
// POST: Returns Sent with the provider message ID, Skipped when FROM_EMAIL
// (or SMTP_USER) and the recipient are unknown, Failed otherwise
func (s *ResendSender) Send(ctx context.Context, req SendRequest) mail.Outcome {
	from := s.getenv(mail.EnvFromEmail)
	if from == "" {
		from = s.getenv(mail.EnvUser)
	}
	to := req.To
	if to == "" {
		to = s.getenv(mail.EnvAlertTo)
	}
	if from == "" || to == "" {
		slog.Info("notify_skipped", "sender", "resend", "reason", "incomplete configuration", "subject", req.Subject)
		return mail.Skipped("incomplete configuration")
	}

	msg := mail.Message{Subject: req.Subject, Body: req.Body, From: from, To: to, ReplyTo: s.getenv(mail.EnvReplyTo)}
	if err := msg.Validate(); err != nil {
		slog.Error("notify_failed", "sender", "resend", "kind", mail.KindInvalidMessage, "error", err)
		return mail.Failed(mail.KindInvalidMessage, "", err)
	}

	params := &resend.SendEmailRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Text:    msg.Body,
	}
	if html, err := renderHTML(msg.Body); err == nil {
		params.Html = html
	} else {
		slog.Warn("notify_html_render_failed", "error", err)
	}
	if msg.ReplyTo != "" {
		params.ReplyTo = msg.ReplyTo
	}

	sent, err := s.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		kind := resendFailureKind(err)
		slog.Error("notify_failed", "sender", "resend", "kind", kind, "error", err, "to", msg.To, "subject", msg.Subject)
		return mail.Failed(kind, "", err)
	}

	slog.Info("notify_sent", "sender", "resend", "message_id", sent.Id, "to", msg.To, "subject", msg.Subject)
	out := mail.Sent("")
	out.MessageID = sent.Id
	return out
}

// resendFailureKind separates network problems from API rejections.
func resendFailureKind(err error) mail.FailureKind {
	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return mail.KindTransport
	}
	return mail.KindSend
}

func renderHTML(body string) (string, error) {
	var buf bytes.Buffer
	if err := bodyRenderer.Convert([]byte(body), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
