package mail

import "fmt"

// Status is the terminal state of one notify call.
type Status string

const (
	StatusSent    = Status("sent")
	StatusSkipped = Status("skipped")
	StatusFailed  = Status("failed")
)

// FailureKind classifies why a call did not end in Sent.
type FailureKind string

const (
	KindNone             = FailureKind("")
	KindConfigIncomplete = FailureKind("config_incomplete")
	KindInvalidConfig    = FailureKind("invalid_config")
	KindInvalidMessage   = FailureKind("invalid_message")
	KindTransport        = FailureKind("transport")
	KindAuth             = FailureKind("auth")
	KindSend             = FailureKind("send")
)

// Outcome is the tagged result of a notify call: Sent, Skipped{Reason} or
// Failed{Kind, Err}. Err carries the underlying cause and is never re-raised.
type Outcome struct {
	Status    Status
	Kind      FailureKind
	Reason    string
	Err       error
	Transport Transport // set once a connection attempt was made
	MessageID string    // provider message ID when the provider returns one
}

// Sent returns a successful outcome.
func Sent(t Transport) Outcome {
	return Outcome{Status: StatusSent, Transport: t}
}

// Skipped returns a no-op outcome; no connection was opened.
func Skipped(reason string) Outcome {
	return Outcome{Status: StatusSkipped, Kind: KindConfigIncomplete, Reason: reason}
}

// Failed returns a failed outcome wrapping cause.
func Failed(kind FailureKind, t Transport, cause error) Outcome {
	return Outcome{Status: StatusFailed, Kind: kind, Transport: t, Err: cause}
}

// IsSent reports whether the message was accepted by the server.
func (o Outcome) IsSent() bool { return o.Status == StatusSent }

// IsSkipped reports whether the call was a configuration no-op.
func (o Outcome) IsSkipped() bool { return o.Status == StatusSkipped }

// IsFailed reports whether a network step or validation failed.
func (o Outcome) IsFailed() bool { return o.Status == StatusFailed }

// Unwrap exposes the cause so errors.Is/As work on an Outcome used as error.
func (o Outcome) Unwrap() error { return o.Err }

// Error describes the outcome; useful for logs and the diagnostic endpoint.
func (o Outcome) Error() string {
	switch o.Status {
	case StatusSent:
		return "sent"
	case StatusSkipped:
		return "skipped: " + o.Reason
	default:
		if o.Err == nil {
			return fmt.Sprintf("%s failure", o.Kind)
		}
		return fmt.Sprintf("%s failure: %v", o.Kind, o.Err)
	}
}
