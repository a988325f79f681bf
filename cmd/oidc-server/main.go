// Command oidc-server runs the OpenID Connect engine with a static client
// and user registry, a login page and a configurable pending request store.
//
// Usage:
//
//	oidc-server -config config.yaml
//	oidc-server -hash-secret 's3cret'   # print a bcrypt hash for the config file
//	oidc-server -generate-key           # print a random base64 32-byte key
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	oidc "github.com/giantswarm/oidc-engine"
	"github.com/giantswarm/oidc-engine/codec"
	"github.com/giantswarm/oidc-engine/instrumentation"
	"github.com/giantswarm/oidc-engine/internal/clients"
	"github.com/giantswarm/oidc-engine/internal/config"
	"github.com/giantswarm/oidc-engine/security"
	"github.com/giantswarm/oidc-engine/storage"
	"github.com/giantswarm/oidc-engine/storage/memory"
	"github.com/giantswarm/oidc-engine/storage/redis"
	"github.com/giantswarm/oidc-engine/storage/valkey"
)

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("OIDC_CONFIG_FILE"), "path to the YAML configuration file")
	hashSecret := flag.String("hash-secret", "", "print the bcrypt hash of the given secret and exit")
	generateKey := flag.Bool("generate-key", false, "print a random base64-encoded 32-byte key and exit")
	flag.Parse()

	switch {
	case *hashSecret != "":
		hash, err := clients.HashSecret(*hashSecret)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return

	case *generateKey:
		key, err := security.GenerateKey()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(security.KeyToBase64(key))
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// run wires the components and serves until ctx is done.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: serviceVersion(cfg),
		Enabled:        cfg.Telemetry.Enabled,
		LogClientIPs:   cfg.Telemetry.LogClientIPs,
	})
	if err != nil {
		return fmt.Errorf("failed to create instrumentation: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := inst.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Failed to shut down instrumentation", "error", err)
		}
	}()

	store, closeStore, err := openStore(cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	codecOptions, err := cfg.CodecOptions()
	if err != nil {
		return err
	}
	jwtCodec, err := codec.New(codecOptions, logger)
	if err != nil {
		return fmt.Errorf("failed to create token codec: %w", err)
	}

	registry, err := clients.NewRegistry(cfg.Clients, cfg.Users, logger)
	if err != nil {
		return fmt.Errorf("failed to load clients: %w", err)
	}
	if len(cfg.Clients) == 0 {
		logger.Warn("No clients configured: every authorization request will be rejected")
	}

	encryptionKey, err := cfg.EncryptionKey()
	if err != nil {
		return fmt.Errorf("invalid encryption key: %w", err)
	}

	login := newLoginHandler(registry, cfg.Server.Issuer, logger)
	handlerConfig := &oidc.Config{
		Interaction: login,
		RateLimit: oidc.RateLimitConfig{
			Rate:       cfg.RateLimit.Rate,
			Burst:      cfg.RateLimit.Burst,
			MaxEntries: cfg.RateLimit.MaxEntries,
		},
		Security: oidc.SecurityConfig{
			EncryptionKey:      encryptionKey,
			EnableAuditLogging: cfg.Security.AuditLogging,
		},
		Logger: logger,
	}

	srv, err := oidc.NewServer(registry.Provider(), jwtCodec, store, cfg.EngineConfig(), handlerConfig)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	srv.SetInstrumentation(inst)
	srv.Auditor.SetInstrumentation(inst)

	handler, err := oidc.NewHandler(srv, handlerConfig)
	if err != nil {
		return fmt.Errorf("failed to create handler: %w", err)
	}
	defer handler.Close()
	login.handler = handler

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.HandleFunc("/healthz", healthHandler)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           security.CorrelationIDMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting OpenID Connect server",
			"addr", httpServer.Addr,
			"issuer", cfg.Server.Issuer,
			"storage", cfg.Storage.Type,
			"signing_method", jwtCodec.SigningMethod(),
			"clients", len(cfg.Clients),
			"rate_limiting", cfg.RateLimit.Rate > 0)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return nil
}

// openStore creates the configured pending request store and the function
// releasing it. The server attaches instrumentation to stores that support it.
func openStore(cfg config.StorageConfig, logger *slog.Logger) (storage.PendingRequestStore, func(), error) {
	switch cfg.Type {
	case config.StorageRedis:
		store, err := redis.New(redis.Config{
			Address:   cfg.Address,
			Username:  cfg.Username,
			Password:  cfg.Password,
			Namespace: cfg.Namespace,
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return store, func() { _ = store.Close() }, nil

	case config.StorageValkey:
		store, err := valkey.New(valkey.Config{
			Address:   cfg.Address,
			Password:  cfg.Password,
			DB:        cfg.DB,
			Namespace: cfg.Namespace,
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to valkey: %w", err)
		}
		return store, store.Close, nil

	default:
		logger.Warn("Using the in-memory pending request store: run a single instance only")
		store := memory.New()
		store.SetLogger(logger)
		return store, store.Stop, nil
	}
}

func serviceVersion(cfg *config.Config) string {
	if cfg.Telemetry.ServiceVersion != "" {
		return cfg.Telemetry.ServiceVersion
	}
	return version
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
