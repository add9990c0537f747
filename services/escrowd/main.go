package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"p2pescrow/config"
	"p2pescrow/core/events"
	"p2pescrow/core/state"
	"p2pescrow/native/custody"
	"p2pescrow/native/escrow"
	"p2pescrow/observability"
	"p2pescrow/observability/logging"
	telemetry "p2pescrow/observability/otel"
	"p2pescrow/services/escrowd/auth"
	"p2pescrow/services/escrowd/index"
	"p2pescrow/services/escrowd/journal"
	"p2pescrow/services/escrowd/server"
	"p2pescrow/storage"
)

const pruneInterval = time.Hour

func main() {
	if err := run(); err != nil {
		log.Fatalf("escrowd: %v", err)
	}
}

func run() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/escrowd/config.toml", "path to escrowd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	opts := logging.Options{Level: logging.ParseLevel(cfg.Log.Level)}
	if cfg.Log.File != "" {
		opts.File = &logging.FileOptions{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		}
	}
	logger := logging.Setup("escrowd", cfg.Environment, opts)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "escrowd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.Open(cfg.StorageBackend, cfg.StoragePath())
	if err != nil {
		return err
	}
	defer db.Close()

	owner, err := cfg.OwnerAddress()
	if err != nil {
		return err
	}
	mgr := state.NewManager(db)
	vault := custody.NewVault(mgr)
	engine, err := escrow.NewEngine(mgr, vault, escrow.Config{Owner: owner, FeeBps: cfg.LPFeeBps})
	if err != nil {
		return fmt.Errorf("open escrow: %w", err)
	}

	j, err := journal.Open(cfg.JournalPath, logger)
	if err != nil {
		return err
	}
	defer func() { _ = j.Close() }()

	idx, err := index.Open(cfg.IndexDSN, engine, logger)
	if err != nil {
		return err
	}
	defer func() { _ = idx.Close() }()
	if err := idx.Rebuild(context.Background(), engine.LastOrderID()); err != nil {
		return err
	}

	engine.SetEmitter(events.NewFanout(
		j,
		idx,
		observability.NewEventCounter(),
		observability.NewEventLogger(logger),
	))
	balance, _ := new(big.Float).SetInt(engine.Balance().ToBig()).Float64()
	observability.Escrow().SetCustodyBalance(balance)

	var verifier *auth.Verifier
	if secret := cfg.JWTSecret(); len(secret) > 0 {
		if verifier, err = auth.NewVerifier(secret, 30*time.Second); err != nil {
			return err
		}
	} else {
		logger.Warn("no token secret configured, trusting caller header", "header", server.HeaderCaller)
	}
	if cfg.DevFaucet {
		logger.Warn("dev faucet enabled")
	}

	srv := server.New(server.Config{
		Engine:   engine,
		Accounts: vault,
		Index:    idx,
		Journal:  j,
		Verifier: verifier,
		RateLimit: server.RateLimit{
			RequestsPerMinute: float64(cfg.RateLimit.RequestsPerMinute),
			Burst:             cfg.RateLimit.Burst,
		},
		IdempotencyTTL: cfg.IdempotencyTTL.Duration,
		DevFaucet:      cfg.DevFaucet,
		Logger:         logger,
	})

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      otelhttp.NewHandler(srv.Handler(), "escrowd"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go pruneIdempotency(stopCtx, j, logger)

	errs := make(chan error, 1)
	go func() {
		logger.Info("escrowd listening",
			"addr", cfg.ListenAddress,
			"owner", cfg.Owner,
			"feeBps", engine.FeeBps(),
			"paused", engine.IsPaused(),
			"lastOrderId", engine.LastOrderID())
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func pruneIdempotency(ctx context.Context, j *journal.Journal, logger *slog.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := j.PruneIdempotency()
			if err != nil {
				logger.Warn("idempotency prune failed", "error", err)
				continue
			}
			if removed > 0 {
				logger.Debug("idempotency records pruned", "removed", removed)
			}
		}
	}
}
