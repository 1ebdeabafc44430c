package email

import "strings"

// Provider names reported by SelectSender.
const (
	ProviderSMTP   = "smtp"
	ProviderResend = "resend"
	ProviderNoop   = "noop"
)

// SelectSender picks the notification provider: Resend when RESEND_API_KEY
// is set, no delivery when APP_EMAIL_DRIVER=noop, SMTP otherwise.
// APP_EMAIL_DRIVER=smtp forces SMTP even with a Resend key present.
// POST: Returns the sender and its provider name
func SelectSender(getenv func(string) string) (Sender, string) {
	driver := strings.ToLower(strings.TrimSpace(getenv("APP_EMAIL_DRIVER")))
	switch {
	case driver == ProviderNoop:
		return NewNoopSender(), ProviderNoop
	case driver != ProviderSMTP && getenv("RESEND_API_KEY") != "":
		return NewResendSender(getenv("RESEND_API_KEY")), ProviderResend
	default:
		return NewSMTPNotifier(WithGetenv(getenv)), ProviderSMTP
	}
}
