package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trendline-core/internal/api"
	"trendline-core/internal/engine"
	"trendline-core/internal/events"
	"trendline-core/internal/market"
	"trendline-core/internal/monitor"
	"trendline-core/internal/order"
	"trendline-core/internal/persistence"
	"trendline-core/internal/reconciliation"
	"trendline-core/internal/strategy"
	"trendline-core/internal/trendline"
	"trendline-core/pkg/cache"
	"trendline-core/pkg/config"
	"trendline-core/pkg/db"
	"trendline-core/pkg/exchanges/alpaca"
	"trendline-core/pkg/exchanges/common"
	"trendline-core/pkg/exchanges/paper"
	"trendline-core/pkg/i18n"
	"trendline-core/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf(i18n.Get("ConfigLoadFailed"), err)
	}
	i18n.SetLanguage(i18n.Language(cfg.Language))

	zl := logger.Init(logger.Options{
		Level:      cfg.LogLevel,
		Output:     cfg.LogOutput,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	defer logger.Sync()
	slog := logger.S()

	slog.Info(i18n.Get("Starting"))
	slog.Infof(i18n.Get("ConfigLoaded"), cfg.Port)
	slog.Infof(i18n.Get("UsingDBPath"), cfg.DBPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		slog.Fatalf(i18n.Get("DBInitFailed"), err)
	}
	defer database.Close()
	seedCharts(ctx, cfg, database)

	session, err := trendline.NewSession(cfg.MarketTimezone)
	if err != nil {
		slog.Fatalf(i18n.Get("MarketSessionFailed"), err)
	}

	// Broker behind the reconnect supervisor
	raw, err := newBroker(cfg)
	if err != nil {
		slog.Fatal(err)
	}
	sup := common.NewSupervisor(pingOf(raw), common.Backoff{
		Base:        cfg.ReconnectBaseDelay,
		Max:         cfg.ReconnectMaxDelay,
		MaxAttempts: cfg.ReconnectMaxAttempts,
	}, 3, zl.Named("supervisor"))
	broker := common.NewGuarded(raw, sup, cfg.BrokerRateLimit, cfg.BrokerTimeout)
	sysMetrics := monitor.NewSystemMetrics()
	broker.SetObserver(sysMetrics.ObserveBrokerCall)
	slog.Infof(i18n.Get("BrokerSelected"), cfg.Broker, cfg.BrokerRateLimit, cfg.BrokerTimeout)

	quotes := cache.NewQuoteCache()
	src, srcName := priceSource(ctx, cfg, broker)
	if pb, ok := raw.(*paper.Broker); ok {
		if srcName == "broker" {
			slog.Warn("paper broker has no market data; set PRICE_SOURCE=redis to feed it quotes")
		} else {
			src = paperTee{src: src, broker: pb}
		}
	}
	feed := market.NewFeed(src, srcName, quotes, cfg.PriceMaxAge/2, cfg.PriceMaxAge, slog.Named("prices"))

	checkpoints, err := persistence.NewCheckpointStore(cfg.CheckpointDir)
	if err != nil {
		slog.Fatalf(i18n.Get("CheckpointsFailed"), err)
	}
	defer checkpoints.Close()
	slog.Infof(i18n.Get("CheckpointsOpened"), cfg.CheckpointDir)

	writer := persistence.NewBatchWriter(database.DB, 100, time.Second, slog.Named("writer"))
	auditLog := persistence.NewAuditLog(writer, slog.Named("audit"))
	bus := events.NewBus()

	eng := engine.NewImpl(engine.Config{
		PriceInterval:    cfg.PriceMonitorInterval,
		MaxParallel:      cfg.MaxParallelBots,
		DefaultTradeSize: cfg.DefaultTradeSize,
		Venue:            cfg.Broker,
		DryRun:           cfg.Broker == "paper",
		Version:          cfg.Version,
	}, engine.Deps{
		DB:          database,
		Broker:      broker,
		Prices:      feed,
		Supervisor:  sup,
		Checkpoints: checkpoints,
		Audit:       auditLog,
		Bus:         bus,
		Metrics:     sysMetrics,
		Session:     session,
		Orders: order.Config{
			RefreshInterval: cfg.PriceRefreshInterval,
			OptionPolicy: strategy.OptionPolicy{
				StrikeMinPct: cfg.OptionStrikeMinPct,
				StrikeMaxPct: cfg.OptionStrikeMaxPct,
				TargetDays:   cfg.OptionTargetDays,
				MinDays:      cfg.OptionMinDays,
				MaxDays:      cfg.OptionMaxDays,
				StrikeSteps:  cfg.OptionStrikeSteps,
			},
		},
		Log: slog.Named("engine"),
	})
	slog.Infof(i18n.Get("EngineServiceInit"), cfg.MaxParallelBots, cfg.PriceMonitorInterval)

	report, err := eng.LoadActive(ctx)
	if err != nil {
		slog.Errorf(i18n.Get("BotsLoadFailed"), err)
	}
	slog.Infof(i18n.Get("BotsLoaded"), len(report.Resumed), len(report.Orphaned), len(report.Failed), len(report.Deferred))

	go sup.Run(ctx)
	slog.Info(i18n.Get("SupervisorStarted"))

	mon := &monitor.Monitor{Bus: bus, Sink: monitor.LogSink{Log: slog.Named("alert")}, Log: slog.Named("monitor")}
	mon.Start(ctx)
	slog.Info(i18n.Get("MonitorStarted"))

	statusSync := reconciliation.NewService(eng.Registry(), database, checkpoints, cfg.StatusSyncInterval, slog.Named("sync"))
	statusSync.Start(ctx)
	slog.Infof(i18n.Get("StatusSyncStarted"), cfg.StatusSyncInterval)

	go eng.Run(ctx)
	go pruneQuotes(ctx, feed, cfg.PriceMaxAge)

	server := api.NewServer(eng, bus, sysMetrics, writer, api.Options{
		RatePerSecond: cfg.APIRateLimit,
		RateBurst:     cfg.APIRateBurst,
		Timeout:       cfg.APITimeout,
	}, slog.Named("api"))
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Infof(i18n.Get("ServerListening"), httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Errorf(i18n.Get("APIServerError"), err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}
	slog.Info(i18n.Get("ShuttingDown"))

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warnf("api shutdown: %v", err)
	}
	cancel()
	// the status sync runs its last flush on cancel
	statusSync.Sync(shutdownCtx)
	if err := writer.Close(); err != nil {
		slog.Warnf("audit writer close: %v", err)
	}
	slog.Info(i18n.Get("ShutdownComplete"))
}

// seedCharts loads chart definitions and risk buckets from the seed file.
func seedCharts(ctx context.Context, cfg *config.Config, database *db.Database) {
	if cfg.ChartSeedFile == "" {
		return
	}
	if _, err := os.Stat(cfg.ChartSeedFile); errors.Is(err, os.ErrNotExist) {
		return
	}
	file, err := strategy.LoadConfig(cfg.ChartSeedFile)
	if err == nil {
		err = strategy.SyncConfigToDB(ctx, database, file)
	}
	if err != nil {
		logger.S().Warnf(i18n.Get("SeedFailed"), cfg.ChartSeedFile, err)
		return
	}
	logger.S().Infof(i18n.Get("SeedLoaded"), len(file.Charts), len(file.Risk), cfg.ChartSeedFile)
}

func newBroker(cfg *config.Config) (common.Broker, error) {
	switch cfg.Broker {
	case "", "paper":
		return paper.New(cfg.PaperCash), nil
	case "alpaca":
		return alpaca.New(alpaca.Config{
			APIKey:       cfg.AlpacaAPIKey,
			APISecret:    cfg.AlpacaAPISecret,
			BaseURL:      cfg.AlpacaBaseURL,
			ChainHorizon: time.Duration(cfg.OptionMaxDays+7) * 24 * time.Hour,
		}), nil
	default:
		return nil, fmt.Errorf(i18n.Get("UnknownBroker"), cfg.Broker)
	}
}

func pingOf(b common.Broker) func(ctx context.Context) error {
	if p, ok := b.(common.Pinger); ok {
		return p.Ping
	}
	return func(context.Context) error { return nil }
}

// priceSource picks the quote relay when configured and reachable, the
// broker otherwise.
func priceSource(ctx context.Context, cfg *config.Config, broker *common.Guarded) (common.PriceSource, string) {
	if cfg.PriceSource != "redis" {
		return broker, "broker"
	}
	client := market.NewRedisClient(market.RedisConfig{
		Addr:      cfg.RedisAddr,
		Password:  cfg.RedisPassword,
		DB:        cfg.RedisDB,
		KeyPrefix: cfg.RedisPriceKeyPrefix,
		MaxAge:    cfg.PriceMaxAge,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.S().Warnf(i18n.Get("RedisUnreachable"), cfg.RedisAddr, err)
		return broker, "broker"
	}
	logger.S().Infof(i18n.Get("RedisPriceSource"), cfg.RedisAddr, cfg.RedisPriceKeyPrefix)
	return market.NewRedisSource(client, cfg.RedisPriceKeyPrefix, cfg.PriceMaxAge), "redis"
}

func pruneQuotes(ctx context.Context, feed *market.Feed, maxAge time.Duration) {
	if maxAge <= 0 {
		maxAge = time.Minute
	}
	ticker := time.NewTicker(10 * maxAge)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			feed.Prune(10 * maxAge)
		}
	}
}

// paperTee forwards relay quotes into the paper broker so its resting
// orders match against live prices.
type paperTee struct {
	src    common.PriceSource
	broker *paper.Broker
}

func (t paperTee) LastPrice(ctx context.Context, symbol string) (float64, error) {
	px, err := t.src.LastPrice(ctx, symbol)
	if err == nil {
		t.broker.SetPrice(symbol, px)
	}
	return px, err
}
