// Package main is the CLI entrypoint for fedcore. It provides subcommands
// for running the engine (serve), managing database migrations (migrate),
// and printing version information (version). The serve command loads
// configuration, wires the kvstore/mqueue backends it selects, connects to
// PostgreSQL when any backend needs it, runs pending migrations, builds
// the federation facade and its background workers, mounts Fetch on an
// HTTP router, and handles graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/fedcore/fedcore/internal/config"
	"github.com/fedcore/fedcore/internal/database"
	"github.com/fedcore/fedcore/internal/docloader"
	"github.com/fedcore/fedcore/internal/federation"
	"github.com/fedcore/fedcore/internal/httpsig"
	"github.com/fedcore/fedcore/internal/kvstore"
	"github.com/fedcore/fedcore/internal/middleware"
	"github.com/fedcore/fedcore/internal/mqueue"
	"github.com/fedcore/fedcore/internal/uritemplate"
)

// Build-time variables set via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "migrate":
		if err := runMigrate(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "version":
		runVersion()
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("fedcore — federation engine")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  fedcore <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve     Start the federation engine")
	fmt.Println("  migrate   Run database migrations")
	fmt.Println("  version   Print version information")
	fmt.Println("  help      Show this help message")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println("  Config file:  fedcore.toml (or set FEDCORE_CONFIG_PATH)")
	fmt.Println("  Env prefix:   FEDCORE_ (e.g. FEDCORE_INSTANCE_DOMAIN)")
}

// runServe starts the full fedcore engine: loads config, wires the
// selected kvstore and mqueue backends, runs migrations against
// PostgreSQL when any backend needs it, builds the federation facade,
// starts its background workers, mounts Fetch on an HTTP router, and
// handles graceful shutdown on SIGINT/SIGTERM.
func runServe() error {
	logger := setupLogger("info", "json")
	logger.Info("starting fedcore", slog.String("version", version), slog.String("commit", commit))

	cfgPath := configPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger = setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("configuration loaded", slog.String("path", cfgPath))

	ctx := context.Background()

	var db *database.DB
	needsDatabase := cfg.KVStore.Backend == "postgres" || cfg.Queue.Backend == "postgres"
	if needsDatabase {
		db, err = database.New(ctx, cfg.Database.URL, cfg.Database.MaxConnections, logger)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer db.Close()

		if err := database.MigrateUp(cfg.Database.URL, logger); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	store, err := buildKVStore(cfg, db, logger)
	if err != nil {
		return fmt.Errorf("building kvstore: %w", err)
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	queue, err := buildQueue(cfg, db, logger)
	if err != nil {
		return fmt.Errorf("building queue: %w", err)
	}
	if closer, ok := queue.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	loader := docloader.New(store, logger, docloader.Options{
		UserAgent:             cfg.Instance.UserAgent,
		AllowPrivateAddresses: cfg.Instance.AllowPrivateAddresses,
		CacheTTL:              5 * time.Minute,
	})

	signingKey, err := loadOrCreateSigningKey(ctx, store, cfg.Instance.Domain, logger)
	if err != nil {
		return fmt.Errorf("loading signing key: %w", err)
	}

	router := uritemplate.New(true)
	if err := federation.RegisterDefaultRoutes(router); err != nil {
		return fmt.Errorf("registering routes: %w", err)
	}

	timeWindow, err := cfg.HTTPSig.TimeWindowParsed()
	if err != nil {
		return fmt.Errorf("parsing httpsig time window: %w", err)
	}
	signProfile, err := cfg.HTTPSig.ProfileParsed()
	if err != nil {
		return fmt.Errorf("parsing httpsig profile: %w", err)
	}
	inboxPolicy, err := cfg.Retry.InboxPolicy()
	if err != nil {
		return fmt.Errorf("parsing inbox retry schedule: %w", err)
	}
	outboxPolicy, err := cfg.Retry.OutboxPolicy()
	if err != nil {
		return fmt.Errorf("parsing outbox retry schedule: %w", err)
	}
	dedupTTL, err := cfg.Inbox.DedupTTLParsed()
	if err != nil {
		return fmt.Errorf("parsing inbox dedup ttl: %w", err)
	}

	facade := federation.New(federation.Config{
		Origin:      "https://" + cfg.Instance.Domain,
		Router:      router,
		KV:          store,
		Queue:       queue,
		Loader:      loader,
		SigningKeys: httpsig.KeySet{signingKey},
		KeyResolver: federation.NewActorKeyResolver(loader),
		Logger:      logger,
		Options: federation.Options{
			PreferSharedInbox:         cfg.Outbox.PreferSharedInbox,
			ExcludeBaseURIs:           cfg.Outbox.ExcludeBaseURIs,
			SkipSignatureVerification: cfg.HTTPSig.SkipSignatureVerification,
			TimeWindow:                timeWindow,
			InboxRetryPolicy:          inboxPolicy,
			OutboxRetryPolicy:         outboxPolicy,
			SignProfile:               signProfile,
			DedupTTL:                  dedupTTL,
		},
	})

	// Dispatchers are registered by the host application via the
	// facade's Set*Dispatcher methods before routes start serving real
	// traffic; none are wired here since this binary has no object
	// model of its own.

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.TracingLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/*", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		facade.Fetch(w, r, federation.FetchOptions{})
	}))

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Listen,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	queueCtx, queueCancel := context.WithCancel(ctx)
	defer queueCancel()
	queueStopped := make(chan struct{})
	if cfg.Queue.ManuallyStart {
		logger.Info("queue workers disabled by configuration, host must call ProcessQueuedTask or StartQueue")
		close(queueStopped)
	} else {
		go func() {
			defer close(queueStopped)
			if err := facade.StartQueue(queueCtx); err != nil && queueCtx.Err() == nil {
				logger.Error("queue workers exited with error", slog.String("error", err.Error()))
			}
		}()
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.HTTP.Listen))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case sig := <-shutdownCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}
	queueCancel()
	select {
	case <-queueStopped:
	case <-time.After(15 * time.Second):
		logger.Warn("queue workers did not stop within shutdown timeout")
	}

	logger.Info("fedcore stopped")
	return nil
}

func buildKVStore(cfg *config.Config, db *database.DB, logger *slog.Logger) (kvstore.Store, error) {
	switch cfg.KVStore.Backend {
	case "memory":
		return kvstore.NewMemory(), nil
	case "redis":
		return kvstore.NewRedis(cfg.KVStore.RedisURL, logger)
	case "postgres":
		return kvstore.NewPostgres(db.Pool), nil
	default:
		return nil, fmt.Errorf("unknown kvstore backend %q", cfg.KVStore.Backend)
	}
}

func buildQueue(cfg *config.Config, db *database.DB, logger *slog.Logger) (mqueue.Queue, error) {
	switch cfg.Queue.Backend {
	case "memory":
		return mqueue.NewMemory(), nil
	case "nats":
		return mqueue.NewNATS(cfg.Queue.NATSURL, "fedcore", logger)
	case "postgres":
		return mqueue.NewPostgres(db.Pool, logger), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}

// signingKeyCacheKey is the kvstore key the instance's own Ed25519 signing
// key is persisted under, so restarts reuse the same key instead of
// invalidating every peer's cached verification.
const signingKeyCacheKey = "fedcore/instance-signing-key"

// loadOrCreateSigningKey reads the instance's persisted Ed25519 signing
// key from store, generating and persisting a new one on first run.
func loadOrCreateSigningKey(ctx context.Context, store kvstore.Store, domain string, logger *slog.Logger) (httpsig.PrivateKey, error) {
	keyID := "https://" + domain + "/users/instance#main-key"

	if pemBytes, ok, err := store.Get(ctx, signingKeyCacheKey); err != nil {
		return httpsig.PrivateKey{}, fmt.Errorf("reading signing key: %w", err)
	} else if ok {
		return httpsig.ParseEd25519PrivateKeyPEM(keyID, pemBytes)
	}

	logger.Info("no signing key found, generating a new Ed25519 key pair", slog.String("key_id", keyID))
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return httpsig.PrivateKey{}, fmt.Errorf("generating ed25519 key pair: %w", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return httpsig.PrivateKey{}, fmt.Errorf("marshaling private key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	if err := store.Set(ctx, signingKeyCacheKey, pemBytes, 0); err != nil {
		return httpsig.PrivateKey{}, fmt.Errorf("persisting signing key: %w", err)
	}

	return httpsig.ParseEd25519PrivateKeyPEM(keyID, pemBytes)
}

// runMigrate handles the migrate subcommand with up/down/status operations.
func runMigrate() error {
	logger := setupLogger("info", "text")

	cfgPath := configPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	action := "up"
	if len(os.Args) >= 3 {
		action = os.Args[2]
	}

	switch action {
	case "up":
		return database.MigrateUp(cfg.Database.URL, logger)
	case "down":
		return database.MigrateDown(cfg.Database.URL, logger)
	case "status":
		v, dirty, err := database.MigrateStatus(cfg.Database.URL)
		if err != nil {
			return err
		}
		fmt.Printf("Migration version: %d\n", v)
		fmt.Printf("Dirty: %v\n", dirty)
		return nil
	default:
		return fmt.Errorf("unknown migrate action: %s (use: up, down, status)", action)
	}
}

func runVersion() {
	fmt.Printf("fedcore %s\n", version)
	fmt.Printf("  commit:     %s\n", commit)
	fmt.Printf("  built:      %s\n", buildDate)
}

// configPath returns the config file path from FEDCORE_CONFIG_PATH env var
// or the default "fedcore.toml".
func configPath() string {
	if p := os.Getenv("FEDCORE_CONFIG_PATH"); p != "" {
		return p
	}
	return "fedcore.toml"
}

// setupLogger creates a slog.Logger with the given level and format.
func setupLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
