package main

import (
	"context"
	"database/sql"
	"encoding/base64"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/A1anMc/MOVEMBER-sub002/internal/audit"
	"github.com/A1anMc/MOVEMBER-sub002/internal/auth"
	"github.com/A1anMc/MOVEMBER-sub002/internal/httpapi"
	"github.com/A1anMc/MOVEMBER-sub002/internal/obs"
	"github.com/A1anMc/MOVEMBER-sub002/internal/store"
	"github.com/A1anMc/MOVEMBER-sub002/internal/store/pg"
)

var version = "0.3.0"

const cleanupInterval = 5 * time.Minute

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("IMPACT_BUILD_COMMIT"))

	// Optional durability collaborator.
	var db *sql.DB
	if dsn := os.Getenv("IMPACT_PG_DSN"); dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	// Signing key: externally persisted via env, otherwise generated for
	// this process only. Either way its absence is fatal, never degraded.
	key, err := signingKey()
	if err != nil {
		log.Fatalf("signing key: %v", err)
	}
	keys, err := auth.NewKeyring(key)
	if err != nil {
		log.Fatalf("keyring: %v", err)
	}

	var auditOpts []audit.Option
	var userOpts []store.MemoryOption
	if db != nil {
		pgStore, err := pg.New(db)
		if err != nil {
			log.Fatalf("pg store: %v", err)
		}
		auditOpts = append(auditOpts, audit.WithSink(pgStore))
		userOpts = append(userOpts, store.WithProjection(pgStore))
	}
	auditLog := audit.NewLog(envInt("IMPACT_AUDIT_RETENTION", audit.DefaultRetention), auditOpts...)
	users := store.NewMemory(userOpts...)

	// TTL and lockout options ignore non-positive values, so unset env vars
	// leave the package defaults in place.
	sessions, err := auth.NewSessionManager(keys, auditLog,
		auth.WithAccessTTL(envDuration("IMPACT_ACCESS_TTL")),
		auth.WithRefreshTTL(envDuration("IMPACT_REFRESH_TTL")),
	)
	if err != nil {
		log.Fatalf("session manager: %v", err)
	}
	engine, err := auth.NewEngine(users, sessions, auditLog,
		auth.WithMaxFailedAttempts(envInt("IMPACT_MAX_FAILED_ATTEMPTS", 0)),
		auth.WithLockoutDuration(envDuration("IMPACT_LOCKOUT_DURATION")),
	)
	if err != nil {
		log.Fatalf("engine: %v", err)
	}

	if err := bootstrapAdmin(context.Background(), users, auditLog); err != nil {
		log.Fatalf("bootstrap admin: %v", err)
	}

	api := httpapi.New(engine, httpapi.ReadyProbe{DB: db}, version)

	addr := os.Getenv("IMPACT_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go cleanupLoop(ctx, sessions)

	log.Printf("Starting identity-api %s on %s", version, srv.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

func signingKey() ([]byte, error) {
	if raw := os.Getenv("IMPACT_SIGNING_KEY"); raw != "" {
		return base64.StdEncoding.DecodeString(raw)
	}
	log.Println("IMPACT_SIGNING_KEY not set; generating ephemeral key (restart invalidates all sessions)")
	return auth.GenerateSigningKey()
}

// bootstrapAdmin seeds the first superadmin directly through the store: the
// permission-gated path needs an actor, and none can exist yet.
func bootstrapAdmin(ctx context.Context, users *store.Memory, auditLog *audit.Log) error {
	password := os.Getenv("IMPACT_BOOTSTRAP_PASSWORD")
	if password == "" {
		return nil
	}
	username := os.Getenv("IMPACT_BOOTSTRAP_USERNAME")
	if username == "" {
		username = "admin"
	}
	if _, err := users.FindByUsername(ctx, username); err == nil {
		return nil
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	user := auth.User{
		Username:     username,
		Email:        username + "@localhost",
		FullName:     "Bootstrap Administrator",
		Role:         auth.RoleSuperAdmin,
		Permissions:  auth.PermissionsFor(auth.RoleSuperAdmin),
		Active:       true,
		Verified:     true,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := users.Create(ctx, &user); err != nil {
		return err
	}
	auditLog.Append(ctx, audit.Event{
		Actor:    audit.SystemActor,
		Action:   "create_user",
		Resource: "user",
		Success:  true,
		Details:  map[string]any{"user_id": user.ID, "username": username, "role": user.Role.String()},
	})
	return nil
}

func cleanupLoop(ctx context.Context, sessions *auth.SessionManager) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed, err := sessions.CleanupExpired(ctx); err == nil && removed > 0 {
				log.Printf("session cleanup removed %d entries", removed)
			}
		}
	}
}

// envDuration returns zero when the variable is unset or malformed; callers
// treat zero as "use the default".
func envDuration(name string) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Printf("ignoring %s=%q: %v", name, raw, err)
		return 0
	}
	return d
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return fallback
	}
	return val
}
