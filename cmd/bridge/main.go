// Signal Bridge — a trading-signal event pipeline.
//
// Architecture:
//
//	main.go              — entry point: loads config, wires the pipeline, waits for SIGINT/SIGTERM
//	signal/              — lifecycle engine: normalizer, text parser, validator, state machine, outcomes
//	price/               — quote cache, rate-limited REST adapters, Binance stream, poll scheduler
//	monitor/             — worker loop: due-signal scan, hit detection, transitions, rescheduling
//	notify/              — HMAC-signed idempotent webhook delivery with retries and a circuit breaker
//	api/                 — chi HTTP frontend: ingress, providers, webhooks, signal queries
//	store/               — Postgres (sqlx) and in-memory persistence behind one interface
//
// Signals arrive as TradingView webhooks or text alerts, are normalized and
// validated into PENDING signals, walked through their lifecycle as live
// prices cross entry/TP/SL levels, and every transition fans out to the
// owning provider's webhook subscriptions.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"signal-bridge/internal/api"
	"signal-bridge/internal/config"
	"signal-bridge/internal/monitor"
	"signal-bridge/internal/notify"
	"signal-bridge/internal/price"
	sig "signal-bridge/internal/signal"
	"signal-bridge/internal/store"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("BRIDGE_CONFIG"); p != "" {
		cfgPath = p
	}

	var cfg *config.Config
	if _, err := os.Stat(cfgPath); err == nil {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			slog.Error("failed to load config", "error", err, "path", cfgPath)
			os.Exit(1)
		}
	} else {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence: Postgres when a DSN is configured, otherwise in-memory.
	var st store.Store
	if cfg.Database.DSN != "" {
		pg, err := store.OpenPostgres(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		st = pg
		logger.Info("using postgres store")
	} else {
		st = store.NewMemory()
		logger.Warn("no database DSN configured, state will not survive restarts")
	}

	// Price layer: cache, per-class REST sources, optional crypto stream.
	cache := price.NewCache(cfg.Price.CacheTTL)
	rpm := cfg.Price.RequestsPerMinute
	sources := []price.Source{
		price.NewBinanceSource(rpm["binance"], cfg.Price.FetchTimeout, logger),
		price.NewYahooSource(rpm["yahoo"], cfg.Price.FetchTimeout, logger),
		price.NewForexSource(rpm["forex"], cfg.Price.FetchTimeout, logger),
	}
	prices := price.NewManager(cache, sources, logger)

	var stream *price.BinanceStream
	if cfg.Price.BinanceWSEnabled {
		stream = price.NewBinanceStream(cfg.Price.BinanceWSURL, cache, logger)
		go func() {
			if err := stream.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("binance stream stopped", "error", err)
			}
		}()
	}

	sched := price.NewScheduler(price.SchedulerSettings{
		CloseThreshold: cfg.Scheduler.CloseThreshold,
		MidThreshold:   cfg.Scheduler.MidThreshold,
		CloseInterval:  cfg.Scheduler.CloseInterval,
		MidInterval:    cfg.Scheduler.MidInterval,
		FarInterval:    cfg.Scheduler.FarInterval,
		MinInterval:    cfg.Scheduler.MinInterval,
		MaxInterval:    cfg.Scheduler.MaxInterval,
	})

	// Delivery pipeline.
	sender := notify.NewSender(st, cfg.Delivery.Timeout, cfg.Delivery.RetryOffsets, logger)
	router := notify.NewRouter(st, sender, cfg.Delivery.BreakerThreshold, cfg.Delivery.MaxConcurrent, logger)

	// Monitor worker.
	mon := monitor.New(st, prices, sched, router, monitor.Settings{
		CycleInterval:  cfg.Monitor.CycleInterval,
		BatchSize:      cfg.Monitor.BatchSize,
		HeartbeatEvery: cfg.Monitor.HeartbeatEvery,
		ExpireAfter:    cfg.Monitor.ExpireAfter,
	}, logger)
	if stream != nil {
		mon.AttachFeed(stream)
	}
	go func() {
		if err := mon.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("monitor stopped", "error", err)
		}
	}()

	// HTTP frontend.
	vcfg := sig.ValidatorConfig{
		MinRRRatio:  cfg.Validation.MinRRRatio,
		WarnRRRatio: cfg.Validation.WarnRRRatio,
		MaxLatency:  cfg.Validation.MaxLatency,
		WarnLatency: cfg.Validation.WarnLatency,
	}
	srv := api.NewServer(cfg.Server, st, router, vcfg, cfg.Validation.DuplicateWindow, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("api server failed", "error", err)
		}
	}()

	logger.Info("signal bridge started",
		"addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"cycle_interval", cfg.Monitor.CycleInterval,
		"binance_ws", cfg.Price.BinanceWSEnabled,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	s := <-sigCh
	logger.Info("received shutdown signal", "signal", s.String())

	if err := srv.Stop(); err != nil {
		logger.Error("failed to stop api server", "error", err)
	}
	cancel()
	router.Wait()
	if err := st.Close(); err != nil {
		logger.Error("failed to close store", "error", err)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
