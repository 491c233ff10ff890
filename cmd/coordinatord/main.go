// Package main is the coordinator daemon entry point.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/r3e-network/rebuildverify/internal/api"
	"github.com/r3e-network/rebuildverify/internal/attestation"
	"github.com/r3e-network/rebuildverify/internal/auth"
	"github.com/r3e-network/rebuildverify/internal/config"
	"github.com/r3e-network/rebuildverify/internal/dashboard"
	"github.com/r3e-network/rebuildverify/internal/ingest"
	"github.com/r3e-network/rebuildverify/internal/logging"
	"github.com/r3e-network/rebuildverify/internal/metrics"
	"github.com/r3e-network/rebuildverify/internal/queue"
	"github.com/r3e-network/rebuildverify/internal/reconcile"
	"github.com/r3e-network/rebuildverify/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to coordinator.toml")
	signingKey := flag.String("signing-key", "", "override the configured attestation signing key path")
	checkConfig := flag.Bool("check-config", false, "validate configuration and exit")
	keygen := flag.Bool("keygen", false, "generate a signing key at the configured path (if absent) and exit")
	derivePubkey := flag.Bool("derive-pubkey", false, "print the PEM public key for the configured signing key and exit")
	var verboseCount int
	flag.Func("v", "increase log verbosity (repeatable)", func(string) error {
		verboseCount++
		return nil
	})
	flag.Parse()

	if err := run(*configPath, *signingKey, *checkConfig, *keygen, *derivePubkey, verboseCount); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(configPath, signingKey string, checkConfig, keygen, derivePubkey bool, verboseCount int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if signingKey != "" {
		cfg.SigningKeyPath = signingKey
	}
	applyVerbosity(cfg, verboseCount)

	if checkConfig {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		fmt.Println("configuration OK")
		return nil
	}

	if keygen {
		kp, err := attestation.LoadOrGenerateKey(cfg.SigningKeyPath)
		if err != nil {
			return fmt.Errorf("generate signing key: %w", err)
		}
		fmt.Printf("signing key ready at %s\n", cfg.SigningKeyPath)
		fmt.Print(attestation.PubkeyToPEM(kp.Public))
		return nil
	}

	if derivePubkey {
		kp, err := attestation.LoadOrGenerateKey(cfg.SigningKeyPath)
		if err != nil {
			return fmt.Errorf("load signing key: %w", err)
		}
		fmt.Print(attestation.PubkeyToPEM(kp.Public))
		return nil
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.New(cfg.Logging)
	logger.Info("starting coordinatord")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.Config{
		Path:           cfg.Database.Path,
		MaxOpenConns:   cfg.Database.MaxOpenConns,
		MigrateOnStart: cfg.Database.MigrateOnStart,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	key, err := attestation.LoadOrGenerateKey(cfg.SigningKeyPath)
	if err != nil {
		return fmt.Errorf("load signing key: %w", err)
	}

	cookie, err := loadOrGenerateCookie(cfg.Auth.CookiePath)
	if err != nil {
		return fmt.Errorf("load auth cookie: %w", err)
	}
	cfg.Auth.Cookie = cookie

	authenticator := auth.New(auth.Config{
		Cookie:            cfg.Auth.Cookie,
		AuthorizedWorkers: cfg.Worker.AuthorizedWorkers,
		SignupSecret:      cfg.Worker.SignupSecret,
	}, st)

	dispatcher := queue.New(st, cfg.Schedule.MaxRetries)
	reconciler := reconcile.New(st)
	ingester := ingest.New(st, cfg.Schedule.RetryDelayBase)
	m := metrics.New()

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	}
	dash := dashboard.New(st, rdb)

	srv := api.New(st, authenticator, dispatcher, reconciler, ingester, key, m, logger, dash, api.Config{
		TransparentlySignAttestations: cfg.HTTP.TransparentlySignAttestations,
		PostBodySizeLimit:             cfg.HTTP.PostBodySizeLimit,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTP.BindAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(map[string]interface{}{"addr": cfg.HTTP.BindAddr}).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func applyVerbosity(cfg *config.Config, count int) {
	switch {
	case count >= 2:
		cfg.Logging.Level = "trace"
	case count == 1:
		cfg.Logging.Level = "debug"
	}
}

// loadOrGenerateCookie reads the admin auth cookie from path, generating and
// persisting (mode 0o640) a random 32-byte hex secret on first boot, the way
// attestation.LoadOrGenerateKey bootstraps the signing key.
func loadOrGenerateCookie(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return string(data), nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("read cookie %s: %w", path, err)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate cookie: %w", err)
	}
	cookie := hex.EncodeToString(raw)
	if err := os.WriteFile(path, []byte(cookie), 0o640); err != nil {
		return "", fmt.Errorf("persist cookie %s: %w", path, err)
	}
	return cookie, nil
}
