package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/greendelivery/coldchain/processor/internal/alerts"
	"github.com/greendelivery/coldchain/processor/internal/api"
	"github.com/greendelivery/coldchain/processor/internal/auth"
	"github.com/greendelivery/coldchain/processor/internal/config"
	"github.com/greendelivery/coldchain/processor/internal/forwarder"
	"github.com/greendelivery/coldchain/processor/internal/metrics"
	"github.com/greendelivery/coldchain/processor/internal/notify"
	"github.com/greendelivery/coldchain/processor/internal/pipeline"
	"github.com/greendelivery/coldchain/processor/internal/source"
	"github.com/greendelivery/coldchain/processor/internal/store"
	"github.com/greendelivery/coldchain/processor/internal/ws"
)

const (
	// shutdownTimeout bounds how long HTTP requests and the in-flight record
	// get to finish after a signal.
	shutdownTimeout = 30 * time.Second

	// drainTimeout cuts the in-flight record short of shutdownTimeout so
	// that redis and postgres are still open while it finishes.
	drainTimeout = 20 * time.Second
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	envFile := flag.String("env-file", ".env", "optional dotenv file with secrets")
	logLevel := flag.String("log-level", "info", "debug | info | warn | error")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -log-level %q: %v\n", *logLevel, err)
		os.Exit(2)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load env file", "path", *envFile, "err", err)
	}

	slog.Info("coldchain-processor starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	slog.Info("config loaded",
		"forwarder", cfg.Forwarder.Type,
		"max_retries", cfg.Forwarder.MaxRetries,
		"temp_threshold", cfg.Alerts.TempThreshold,
		"g_force_threshold", cfg.Alerts.GForceThreshold,
		"consecutive_events_threshold", cfg.Alerts.ConsecutiveEventsThreshold,
		"mqtt_broker", cfg.Source.MQTT.Broker,
		"http_port", cfg.HTTP.Port,
	)

	if err := run(cfg, *configPath); err != nil {
		slog.Error("coldchain-processor failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	defer func() {
		if err := metrics.WriteText(os.Stderr, reg, metrics.Namespace+"_"); err != nil {
			slog.Warn("failed to write metrics summary", "err", err)
		}
	}()

	var deps forwarder.Deps
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password(),
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		deps.Redis = rdb
		slog.Info("redis connected", "addr", cfg.Redis.Addr)
	}
	if cfg.Forwarder.Type == "postgres" {
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN())
		if err != nil {
			return fmt.Errorf("postgres connect: %w", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping: %w", err)
		}
		deps.Postgres = pool
		slog.Info("postgres connected", "table", cfg.Postgres.Table)
	}

	latest := store.New(cfg.HTTP.LatestTTL, store.OnEvict(func(e store.Entry) {
		slog.Info("package went silent", "package", e.Record.PackageID,
			"last_seen", e.LastSeen, "records", e.Records)
	}))
	go latest.Run(ctx)

	table := alerts.NewTable()
	hub := ws.New(latest, table, cfg.HTTP.BroadcastInterval)
	go hub.Run(ctx)

	router, err := notify.New(cfg.Alerts, rdb, cfg.Redis.AlertPrefix)
	if err != nil {
		return err
	}
	dispatcher := alerts.NewDispatcher(router, alerts.SettingsFrom(cfg.Alerts),
		alerts.WithMetrics(m),
		alerts.WithObserver(hub.Publish),
		alerts.WithHistorySize(cfg.Alerts.HistorySize),
	)

	ingestStore, err := forwarder.Open(ctx, cfg, deps)
	if err != nil {
		return err
	}
	if ingestStore == nil {
		slog.Warn("forwarding disabled, records will not be persisted")
	}
	fwd := forwarder.New(ingestStore, cfg.Forwarder, m)

	proc := pipeline.New(table, dispatcher, fwd,
		pipeline.WithLatest(latest),
		pipeline.WithMetrics(m),
		pipeline.WithStrictInvariants(cfg.StrictInvariants),
		pipeline.WithDrainTimeout(drainTimeout),
	)

	in := make(chan source.Message, cfg.Source.BufferSize)
	procDone := make(chan struct{})
	go func() {
		defer close(procDone)
		proc.Run(ctx, in) //nolint:errcheck
	}()

	if cfg.Source.MQTT.Broker != "" {
		sub := source.NewMQTT(cfg.Source.MQTT, in)
		go func() {
			if err := sub.Run(ctx); err != nil {
				slog.Error("mqtt source stopped", "err", err)
				cancel()
			}
		}()
	} else {
		slog.Info("mqtt source disabled, accepting telemetry over HTTP only")
	}

	go func() {
		err := config.Watch(ctx, configPath, func(c *config.Config) {
			next, err := notify.New(c.Alerts, rdb, cfg.Redis.AlertPrefix)
			if err != nil {
				slog.Error("alert reload rejected, keeping previous settings", "err", err)
				return
			}
			router.Replace(next)
			dispatcher.Configure(alerts.SettingsFrom(c.Alerts))
			slog.Info("alert settings and channels reloaded; alerts.history_size, forwarder, source and http changes need a restart")
		})
		if err != nil {
			slog.Warn("config watch disabled", "err", err)
		}
	}()

	mw := auth.APIKey(cfg.HTTP.Auth.Mode, cfg.HTTP.Auth.EffectiveHeader(), cfg.HTTP.Auth.Key())
	mux := http.NewServeMux()
	mux.Handle("/api/", mw(api.New(api.Deps{
		Latest:     latest,
		Table:      table,
		Dispatcher: dispatcher,
		Ingest:     in,
	})))
	mux.Handle("/ws/alerts", mw(hub))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.HTTP.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("coldchain-processor shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck

	select {
	case <-procDone:
	case <-shutdownCtx.Done():
		slog.Error("processor did not finish the in-flight record before the shutdown deadline")
	}
	return nil
}
