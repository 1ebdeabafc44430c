package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	emailPkg "gogetit/internal/adapters/email"
	web "gogetit/internal/adapters/http"
	"gogetit/internal/adapters/http/middleware"
	"gogetit/internal/adapters/storage"
	outboxStorePkg "gogetit/internal/adapters/storage/outbox"
	"gogetit/internal/adapters/validation"
	"gogetit/internal/application/orchestrators"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Initialize database with WAL mode and busy timeout
	dbPath := envOrDefault("APP_DB_PATH", "gogetit.db")
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	// Connection pool settings for WAL mode
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)

	if err := db.Ping(); err != nil {
		log.Fatalf("database unreachable: %v", err)
	}
	if err := storage.InitDB(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}
	log.Println("Database initialized successfully!")

	timedDB := storage.NewTimedDB(db)
	outboxStore := outboxStorePkg.NewSQLiteStore(timedDB)

	sender, provider := emailPkg.SelectSender(os.Getenv)
	log.Printf("Email sender configured (%s)", provider)

	validator, err := validation.New()
	if err != nil {
		log.Fatalf("failed to build validator: %v", err)
	}

	csrfKey, err := web.LoadCSRFKey(os.Getenv)
	if err != nil {
		log.Fatalf("csrf: %v", err)
	}

	// Retry notifications that failed when their form was submitted
	outboxStopCh := make(chan struct{})
	outboxProcessor := orchestrators.NewNotificationProcessor(outboxStore, sender)
	outboxDone := orchestrators.StartBackgroundWorker(outboxProcessor, 1*time.Minute, outboxStopCh)

	production := os.Getenv("APP_ENV") == "production"
	handler := web.NewMux(
		web.Deps{Sender: sender, OutboxStore: outboxStore, Validator: validator},
		web.Options{
			StaticDir: envOrDefault("APP_STATIC_DIR", "static"),
			CSRFKey:   csrfKey,
			CSRF: middleware.CSRFOptions{
				Secure:         production,
				TrustedOrigins: splitList(os.Getenv("APP_TRUSTED_ORIGINS")),
			},
			RateLimitPerSecond: envInt("RATE_LIMIT_PER_SECOND", 10),
			SlowRequest:        middleware.SlowRequestThreshold(),
		},
	)

	addr := ":" + envOrDefault("PORT", "5000")
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// /email-test can hold a request for the full SMTP timeout.
		WriteTimeout: emailPkg.DefaultTimeout + 10*time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("gogetit %s starting on %s (env=%s, schema=%d)", version, addr, envOrDefault("APP_ENV", "development"), storage.LatestSchemaVersion())
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}

	// The database closes on return; let an in-flight retry save first.
	close(outboxStopCh)
	<-outboxDone
	log.Println("Server stopped")
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
