package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/tenere/internal/api"
	"github.com/MikeSquared-Agency/tenere/internal/backfill"
	"github.com/MikeSquared-Agency/tenere/internal/clock"
	"github.com/MikeSquared-Agency/tenere/internal/config"
	"github.com/MikeSquared-Agency/tenere/internal/conversation"
	"github.com/MikeSquared-Agency/tenere/internal/dedup"
	"github.com/MikeSquared-Agency/tenere/internal/dispatcher"
	"github.com/MikeSquared-Agency/tenere/internal/hermes"
	"github.com/MikeSquared-Agency/tenere/internal/ledger"
	"github.com/MikeSquared-Agency/tenere/internal/mongostore"
	"github.com/MikeSquared-Agency/tenere/internal/processor"
	"github.com/MikeSquared-Agency/tenere/internal/session"
	"github.com/MikeSquared-Agency/tenere/internal/store"
	"github.com/MikeSquared-Agency/tenere/internal/telegram"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("tenere failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) > 1 && os.Args[1] == "backfill" {
		return runBackfill(os.Args[2:])
	}

	var configPath, logLevel string
	var port int

	flagSet := pflag.NewFlagSet("tenere", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to a YAML config file (default: $CONFIG_FILE)")
	flagSet.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error (overrides LOG_LEVEL)")
	flagSet.IntVar(&port, "port", 0, "HTTP port (overrides TENERE_PORT)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if flagSet.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flagSet.Changed("port") {
		cfg.Port = port
	}
	setupLogging(cfg.LogLevel)

	slog.Info("tenere starting", "port", cfg.Port, "store", cfg.StoreBackend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Ledger
	backend, closeBackend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend()
	l := ledger.New(backend, ledger.Options{Timeout: cfg.StoreTimeout, PageSize: cfg.LedgerPageSize}, slog.Default())

	// Conversations
	reg := session.NewRegistry(cfg.SessionIdleTimeout, clock.Real(), slog.Default())
	disp := dispatcher.New(reg, conversation.NewMachine(l, slog.Default()), l, slog.Default())

	// Dedup
	var guard dedup.Guard
	if cfg.RedisAddr != "" {
		rdb, err := dedup.NewRedisClient(ctx, dedup.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer rdb.Close()
		guard = dedup.NewRedis(rdb, cfg.DedupTTL)
		slog.Info("redis dedup ready", "addr", cfg.RedisAddr)
	} else {
		guard = dedup.NewMemory(cfg.DedupTTL, clock.Real())
		slog.Warn("redis not configured, dedup is local to this process")
	}

	// NATS/Hermes (optional)
	var hermesClient *hermes.Client
	var pub processor.Publisher
	if cfg.NatsURL != "" {
		hermesClient, err = hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer hermesClient.Close()
		pub = hermesClient
		slog.Info("NATS connected", "url", cfg.NatsURL)
	}

	// Replies
	outbox := processor.NewOutbox(processor.DefaultShards, processor.DefaultDepth, slog.Default())
	if cfg.TelegramToken != "" {
		tg := telegram.NewClient(cfg.TelegramToken, slog.Default())
		outbox.Route(dispatcher.ChannelTelegram, tg.Reply)
		slog.Info("telegram client ready")
	} else {
		slog.Warn("telegram not configured, webhook updates get no replies")
	}
	if pub != nil {
		outbox.Route(dispatcher.ChannelNATS, processor.NATSSink(pub))
	}

	// Processor, the main pipeline
	proc := processor.New(disp, guard, outbox, pub, slog.Default())

	if hermesClient != nil {
		if err := hermesClient.QueueSubscribe(hermes.SubjectInbound, "tenere", proc.HandleInbound); err != nil {
			return err
		}
	}

	srv := api.NewServer(cfg.Port, cfg.APIToken, proc, l, reg, slog.Default())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return outbox.Run(gctx)
	})
	g.Go(func() error {
		if err := srv.Start(); err != nil {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.SessionSweepInterval > 0 {
		g.Go(func() error {
			sweep(gctx, reg, cfg.SessionSweepInterval)
			return nil
		})
	}

	slog.Info("tenere ready", "port", cfg.Port)
	err = g.Wait()
	slog.Info("tenere stopped")
	return err
}

// runBackfill imports a fill-history export into the configured store.
func runBackfill(args []string) error {
	var configPath, since, until string
	var bcfg backfill.Config

	flagSet := pflag.NewFlagSet("tenere backfill", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to a YAML config file (default: $CONFIG_FILE)")
	flagSet.StringVar(&bcfg.File, "file", "", "mongoexport JSONL file with the fill history")
	flagSet.StringVar(&bcfg.Owner, "owner", "", "owner the entries are imported for")
	flagSet.StringVar(&since, "since", "", "only import fills on or after this date (YYYY-MM-DD)")
	flagSet.StringVar(&until, "until", "", "only import fills on or before this date (YYYY-MM-DD)")
	flagSet.BoolVar(&bcfg.DryRun, "dry-run", false, "validate without writing")
	flagSet.BoolVar(&bcfg.AssumeFullTank, "assume-full-tank", false, "treat records without full_tank as full fills")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if bcfg.File == "" || bcfg.Owner == "" {
		return errors.New("backfill: --file and --owner are required")
	}

	var err error
	if since != "" {
		if bcfg.Since, err = time.Parse(time.DateOnly, since); err != nil {
			return fmt.Errorf("invalid --since: %w", err)
		}
	}
	if until != "" {
		if bcfg.Until, err = time.Parse(time.DateOnly, until); err != nil {
			return fmt.Errorf("invalid --until: %w", err)
		}
		bcfg.Until = bcfg.Until.Add(24*time.Hour - time.Nanosecond)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend()
	if cfg.StoreBackend == config.BackendMemory && !bcfg.DryRun {
		slog.Warn("backfilling into the in-memory ledger, nothing will persist")
	}
	l := ledger.New(backend, ledger.Options{Timeout: cfg.StoreTimeout, PageSize: cfg.LedgerPageSize}, slog.Default())

	sum, err := backfill.NewRunner(bcfg, l, slog.Default()).Run(ctx)
	backfill.PrintSummary(os.Stdout, sum, bcfg.DryRun)
	return err
}

// openBackend connects the configured store and returns its close func.
func openBackend(ctx context.Context, cfg config.Config) (ledger.Backend, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		slog.Info("database connected")
		return db, db.Close, nil

	case config.BackendMongo:
		db, err := mongostore.New(ctx, cfg.MongoURL, cfg.MongoDatabase, cfg.MongoCollection)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close(ctx)
			return nil, nil, err
		}
		slog.Info("mongo connected", "database", cfg.MongoDatabase, "collection", cfg.MongoCollection)
		return db, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := db.Close(closeCtx); err != nil {
				slog.Warn("mongo disconnect failed", "error", err)
			}
		}, nil
	}

	slog.Warn("using in-memory ledger, entries are lost on restart")
	return ledger.NewMemoryBackend(), func() {}, nil
}

// sweep drops expired conversations of idle owners until ctx is done.
func sweep(ctx context.Context, reg *session.Registry, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reg.Sweep()
		}
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
