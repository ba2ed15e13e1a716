// suretyd runs the flight-delay settlement core: the HTTP surface, the
// settlement engine, and whichever backing services the environment
// configures (SQLite persistence, Redis watermarks, NATS notification
// mirroring, Postgres custody, OTLP telemetry).
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/volant-labs/surety/pkg/api"
	"github.com/volant-labs/surety/pkg/archive"
	"github.com/volant-labs/surety/pkg/authz"
	"github.com/volant-labs/surety/pkg/config"
	"github.com/volant-labs/surety/pkg/contracts"
	"github.com/volant-labs/surety/pkg/events"
	"github.com/volant-labs/surety/pkg/ledger"
	"github.com/volant-labs/surety/pkg/observability"
	"github.com/volant-labs/surety/pkg/payout"
	"github.com/volant-labs/surety/pkg/policy"
	"github.com/volant-labs/surety/pkg/settlement"
	"github.com/volant-labs/surety/pkg/store"
)

const settlementComponent = contracts.Account("component:settlement")

// custodyTransfer completes withdrawals by releasing funds from the pool
// custody account in Postgres.
type custodyTransfer struct {
	custody *payout.PostgresCustody
	pool    string
}

func (t custodyTransfer) Transfer(ctx context.Context, to contracts.Account, amount contracts.Amount) error {
	if err := t.custody.Withdraw(ctx, t.pool, amount); err != nil {
		return err
	}
	return t.custody.Deposit(ctx, string(to), amount)
}

func main() {
	if err := run(); err != nil {
		slog.Error("suretyd exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	if name := os.Getenv("SURETY_PROFILE"); name != "" {
		dir := os.Getenv("SURETY_PROFILE_DIR")
		if dir == "" {
			dir = "."
		}
		profile, err := config.LoadProfile(dir, name)
		if err != nil {
			return fmt.Errorf("load profile %q: %w", name, err)
		}
		profile.Apply(cfg)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = cfg.OTLPEndpoint != ""
	if cfg.OTLPEndpoint != "" {
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	owner := contracts.Account(cfg.Owner)
	allowlist := authz.New(owner)
	if err := allowlist.Grant(owner, settlementComponent); err != nil {
		return fmt.Errorf("authorize settlement component: %w", err)
	}

	var (
		backing store.Store
		log     ledger.Log
	)
	switch cfg.StoreBackend {
	case "memory":
		backing = store.NewMemStore(allowlist)
		log = ledger.NewMemLog()
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		defer func() { _ = db.Close() }()
		sqlStore := store.NewSQLStore(db, allowlist)
		if err := sqlStore.Init(ctx); err != nil {
			return fmt.Errorf("init sqlite store: %w", err)
		}
		sqlLog := ledger.NewSQLLog(db)
		if err := sqlLog.Init(ctx); err != nil {
			return fmt.Errorf("init commit log: %w", err)
		}
		backing, log = sqlStore, sqlLog
	default:
		return fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	logger.Info("store ready", "backend", cfg.StoreBackend)

	watermarks := payout.WatermarkStore(payout.NewMemWatermarks())
	if cfg.RedisURL != "" {
		rw, err := payout.NewRedisWatermarksURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis watermarks: %w", err)
		}
		watermarks = rw
		logger.Info("withdrawal watermarks on redis")
	}

	bus := events.NewMemBus()
	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL, "surety")
		if err != nil {
			return fmt.Errorf("nats publisher: %w", err)
		}
		defer func() { _ = pub.Close() }()
		pub.Attach(bus)
		logger.Info("notifications mirrored to nats")
	}

	var transfer settlement.Transferrer
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open custody db: %w", err)
		}
		defer func() { _ = db.Close() }()
		custody := payout.NewPostgresCustody(db)
		if err := custody.Init(ctx); err != nil {
			return fmt.Errorf("init custody schema: %w", err)
		}
		transfer = custodyTransfer{custody: custody, pool: "pool"}
		logger.Info("custody tracking on postgres")
	}

	evaluator, err := policy.NewEvaluator(cfg.PolicyRule)
	if err != nil {
		return fmt.Errorf("compile payout rule: %w", err)
	}

	engine, err := settlement.New(settlement.Config{
		Owner:     owner,
		Component: settlementComponent,
		Store:     backing,
		Allowlist: allowlist,
		Log:       log,
		Bus:       bus,
		Logger:    logger,
		Evaluator: evaluator,
		Limiter:   payout.NewRateLimiter(watermarks, cfg.WithdrawEvery),
		Transfer:  transfer,
	})
	if err != nil {
		return fmt.Errorf("assemble engine: %w", err)
	}

	archiveStore := archive.Store(archive.NewMemStore())
	if bucket := os.Getenv("SURETY_ARCHIVE_BUCKET"); bucket != "" {
		s3Store, err := archive.NewS3Store(ctx, archive.S3StoreConfig{
			Bucket:   bucket,
			Region:   os.Getenv("SURETY_ARCHIVE_REGION"),
			Endpoint: os.Getenv("SURETY_ARCHIVE_ENDPOINT"),
			Prefix:   "commit-log/",
		})
		if err != nil {
			return fmt.Errorf("archive store: %w", err)
		}
		archiveStore = s3Store
		logger.Info("ledger exports to s3", "bucket", bucket)
	}

	apiServer := api.NewServer(engine, obs, logger).
		WithLedger(log, archive.NewExporter(log, archiveStore))

	srv := &http.Server{
		Addr:              listenAddr(cfg.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// listenAddr normalizes a bare port into a listen address.
func listenAddr(port string) string {
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
