package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/VladislavGnom/QuestBot/internal/config"
	"github.com/VladislavGnom/QuestBot/internal/database"
	"github.com/VladislavGnom/QuestBot/internal/handler/health"
	"github.com/VladislavGnom/QuestBot/internal/metrics"
	"github.com/VladislavGnom/QuestBot/internal/migrations"
	"github.com/VladislavGnom/QuestBot/internal/notify"
	"github.com/VladislavGnom/QuestBot/internal/quest"
	"github.com/VladislavGnom/QuestBot/internal/server"
	"github.com/VladislavGnom/QuestBot/internal/store"
	"github.com/VladislavGnom/QuestBot/internal/timer"
	"github.com/VladislavGnom/QuestBot/internal/transfer"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// --- SQLite ---
	db, err := database.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("connecting to sqlite: %w", err)
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("connected to sqlite", "path", cfg.DBPath)

	st := store.New(db)
	if cfg.FixturesPath != "" {
		if err := st.LoadFixturesFile(ctx, cfg.FixturesPath); err != nil {
			return fmt.Errorf("loading fixtures: %w", err)
		}
		logger.Info("loaded fixtures", "path", cfg.FixturesPath)
	}

	checks := map[string]health.Checker{"sqlite": health.PingChecker(st)}

	// --- Redis (optional) ---
	var records transfer.Store = transfer.NewSQLiteStore(db)
	if cfg.RedisURL != "" {
		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer rdb.Close()
		logger.Info("connected to redis")

		records = transfer.NewRedisStore(rdb, "quest:")
		checks["redis"] = health.RedisChecker(rdb)
	}

	// --- Notifications ---
	hubOpts := []notify.HubOption{notify.WithMediaDir(cfg.MediaDir)}
	if cfg.AMQPURL != "" {
		mirror, err := notify.DialAMQP(cfg.AMQPURL, cfg.AMQPQueue)
		if err != nil {
			return fmt.Errorf("connecting to amqp: %w", err)
		}
		defer mirror.Close()
		logger.Info("mirroring notifications to amqp", "queue", cfg.AMQPQueue)
		hubOpts = append(hubOpts, notify.WithMirror(mirror))
	}
	hub := notify.NewHub(logger, st, hubOpts...)

	// --- Quest engine ---
	m := metrics.New()
	timers := timer.New(hub, logger, timer.WithTick(cfg.CountdownTick), timer.WithRecorder(m))
	defer timers.Close()
	m.WatchPendingTimers(timers.Len)

	sched := quest.NewScheduler(st, st, hub, timers, quest.Settings{
		QuestionTimeLimit: cfg.QuestionTimeLimit(),
		HintOffsets:       cfg.HintOffsets,
		ConflictRetries:   cfg.ConflictRetries,
	}, logger, quest.WithRecorder(m))

	transfers := transfer.NewService(records, cfg.TransferTTL, logger)

	// --- HTTP Server ---
	srv := server.New(cfg.HTTPAddr, logger, server.Deps{
		Store:     st,
		Quest:     sched,
		Transfers: transfers,
		Inbox:     hub,
		Metrics:   m,
		Passwords: server.Passwords{
			CaptainHash: cfg.CaptainPasswordHash,
			AdminHash:   cfg.AdminPasswordHash,
		},
	}, func(r chi.Router) {
		r.Mount("/healthz", health.NewHandler(logger, checks).Routes())
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		return transfers.Run(gctx, cfg.TransferSweepInterval)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}

func openRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}
