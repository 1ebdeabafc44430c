package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/gorilla/csrf"

	"gogetit/internal/adapters/validation"
	"gogetit/internal/application/orchestrators"
	"gogetit/internal/domain/submission"
)

// maxFormBytes caps a submission body.
const maxFormBytes = 64 << 10

// server carries the dependencies shared by handlers.
type server struct {
	deps Deps
}

// internalError logs the real error and returns a generic message to the client.
// This prevents leaking internal details per OWASP A05.
func internalError(w http.ResponseWriter, err error) {
	slog.Error("internal_error", "error", err.Error())
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

// strictDecode decodes JSON from the request body, rejecting unknown fields.
func strictDecode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func isJSONRequest(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleHealthz handles GET /healthz.
func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

// handleCSRFToken handles GET /csrf-token for static pages that post forms.
// The token is empty when CSRF protection is disabled.
func handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]string{
		"token": csrf.Token(r),
		"field": "gorilla.csrf.Token",
	})
}

// handleEmailTest handles GET /email-test.
// Sends the diagnostic message to ALERT_TO_EMAIL and reports the outcome.
// POST: 200 "Sent" or "Skipped: <reason>"; 500 "Failed: <cause>"
func (s *server) handleEmailTest(w http.ResponseWriter, r *http.Request) {
	out := orchestrators.ExecuteEmailTest(r.Context(), orchestrators.SendNotificationCommand{},
		orchestrators.EmailTestDeps{Sender: s.deps.Sender})

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	switch {
	case out.IsSent():
		w.Write([]byte("Sent"))
	case out.IsSkipped():
		w.Write([]byte("Skipped: " + out.Reason))
	default:
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Failed: " + out.Error()))
	}
}

// handleContact handles POST /contact.
// Accepts form-encoded or JSON fields: name, email, message.
// PRE: CSRF token present for form posts when protection is enabled
// POST: Notification attempted; 303 or JSON on success, 400 for bad input
func (s *server) handleContact(w http.ResponseWriter, r *http.Request) {
	var form submission.Contact
	if !s.decodeForm(w, r, &form, func(get func(string) string) {
		form = submission.Contact{Name: get("name"), Email: get("email"), Message: get("message")}
	}) {
		return
	}
	s.submit(w, r, &form, "/contact.html?status=received")
}

// handleArtistSubmit handles POST /submit.
// Accepts form-encoded or JSON fields: name, email, artist_name, link, genre, message.
func (s *server) handleArtistSubmit(w http.ResponseWriter, r *http.Request) {
	var form submission.Artist
	if !s.decodeForm(w, r, &form, func(get func(string) string) {
		form = submission.Artist{
			Name:       get("name"),
			Email:      get("email"),
			ArtistName: get("artist_name"),
			Link:       get("link"),
			Genre:      get("genre"),
			Message:    get("message"),
		}
	}) {
		return
	}
	s.submit(w, r, &form, "/submit.html?status=received")
}

// decodeForm reads a JSON body into dst, or parses url-encoded fields and
// hands a getter to fill. It writes a 400 and returns false on bad input.
func (s *server) decodeForm(w http.ResponseWriter, r *http.Request, dst any, fill func(get func(string) string)) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if isJSONRequest(r) {
		if err := strictDecode(r, dst); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return false
		}
		return true
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "request too large or malformed", http.StatusBadRequest)
		return false
	}
	fill(r.PostForm.Get)
	return true
}

// submit runs the submission and renders the result for JSON or form clients.
func (s *server) submit(w http.ResponseWriter, r *http.Request, form submission.Form, redirectTo string) {
	res, err := orchestrators.ExecuteSubmitForm(r.Context(), form, orchestrators.SubmitFormDeps{
		Sender:      s.deps.Sender,
		OutboxStore: s.deps.OutboxStore,
		Validator:   s.deps.Validator,
	})
	if err != nil {
		if !errors.Is(err, orchestrators.ErrInvalidSubmission) {
			internalError(w, err)
			return
		}
		var fields validation.FieldErrors
		errors.As(err, &fields)
		if isJSONRequest(r) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid submission", "fields": fields})
			return
		}
		http.Error(w, invalidMessage(fields), http.StatusBadRequest)
		return
	}

	slog.Info("form_submitted", "form", form.Kind(), "delivery", res.Delivery)
	if isJSONRequest(r) {
		body := map[string]string{"status": "received", "delivery": string(res.Delivery)}
		writeJSON(w, http.StatusOK, body)
		return
	}
	http.Redirect(w, r, redirectTo, http.StatusSeeOther)
}

// invalidMessage joins field messages into one line per field.
func invalidMessage(fields validation.FieldErrors) string {
	if len(fields) == 0 {
		return "invalid submission"
	}
	lines := make([]string, 0, len(fields))
	for _, msg := range fields {
		lines = append(lines, msg)
	}
	slices.Sort(lines)
	return strings.Join(lines, "\n")
}
