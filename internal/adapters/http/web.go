package web

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"gogetit/internal/adapters/email"
	"gogetit/internal/adapters/http/middleware"
	outboxStore "gogetit/internal/adapters/storage/outbox"
	"gogetit/internal/application/orchestrators"
)

// Deps holds the collaborators the handlers call.
type Deps struct {
	Sender      email.Sender
	OutboxStore outboxStore.Store // nil disables queueing of failed notifications
	Validator   orchestrators.Validator
}

// Options configures NewMux.
type Options struct {
	StaticDir          string
	CSRFKey            []byte // nil disables CSRF protection
	CSRF               middleware.CSRFOptions
	RateLimitPerSecond int
	SlowRequest        time.Duration
}

// ErrInvalidCSRFKey is returned when APP_CSRF_KEY is not 64 hex characters.
var ErrInvalidCSRFKey = errors.New("APP_CSRF_KEY must be 64 hex characters (32 bytes)")

// LoadCSRFKey reads the CSRF secret from APP_CSRF_KEY (hex-encoded, 32 bytes).
// Production requires the key; elsewhere a missing key yields a random one,
// so tokens do not survive a restart.
// POST: Returns a 32-byte key or an error
func LoadCSRFKey(getenv func(string) string) ([]byte, error) {
	if keyHex := getenv("APP_CSRF_KEY"); keyHex != "" {
		key, err := hex.DecodeString(keyHex)
		if err != nil || len(key) != 32 {
			return nil, ErrInvalidCSRFKey
		}
		return key, nil
	}
	if getenv("APP_ENV") == "production" {
		return nil, errors.New("APP_CSRF_KEY is required in production")
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	slog.Warn("csrf_key_random", "hint", "set APP_CSRF_KEY so tokens survive restarts")
	return key, nil
}

// NewMux wires HTTP handlers for the app.
func NewMux(deps Deps, opts Options) http.Handler {
	s := &server{deps: deps}

	mux := http.NewServeMux()
	if opts.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(opts.StaticDir)))
	}
	s.registerRoutes(mux)

	rate := opts.RateLimitPerSecond
	if rate <= 0 {
		rate = 10
	}
	limiter := middleware.NewRateLimiter(rate, time.Second)

	mws := []func(http.Handler) http.Handler{middleware.SecurityHeaders}
	if opts.CSRFKey != nil {
		mws = append(mws, middleware.CSRF(opts.CSRFKey, opts.CSRF))
	}
	// Request flow: Timing -> RateLimit -> CSRF -> SecurityHeaders -> mux
	mws = append(mws, middleware.RateLimit(limiter), middleware.Timing(opts.SlowRequest))
	return middleware.Chain(mux, mws...)
}

func (s *server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /email-test", s.handleEmailTest)
	mux.HandleFunc("GET /csrf-token", handleCSRFToken)
	mux.HandleFunc("POST /contact", s.handleContact)
	mux.HandleFunc("POST /submit", s.handleArtistSubmit)
}
