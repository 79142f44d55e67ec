// Command marketengine runs the market data engine: it streams candles from
// the simulator or a WebSocket feed into the market store and serves the
// store over HTTP, with optional Redis fan-out and alert notifications.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"marketengine/config"
	"marketengine/internal/api"
	"marketengine/internal/bus"
	"marketengine/internal/feed"
	"marketengine/internal/logger"
	"marketengine/internal/market"
	"marketengine/internal/metrics"
	"marketengine/internal/model"
	"marketengine/internal/notification"
	storeredis "marketengine/internal/store/redis"
)

const (
	// warmStartCandles bounds how much history is read back from Redis per symbol.
	warmStartCandles = 500
	sampleInterval   = 5 * time.Second
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[marketengine] config: %v", err)
	}

	lg, err := logger.Init("marketengine", cfg.Log)
	if err != nil {
		log.Fatalf("[marketengine] logger: %v", err)
	}
	defer lg.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus()

	// ---- Candle source ----
	src, err := newSource(cfg.Feed)
	if err != nil {
		lg.Fatal("marketengine: feed source", zap.Error(err))
	}

	// ---- Market store ----
	store, err := market.New(cfg.Market,
		market.WithSource(src),
		market.WithObserver(metrics.Observer{M: prom, Health: health}),
	)
	if err != nil {
		lg.Fatal("marketengine: market store", zap.Error(err))
	}

	var wg sync.WaitGroup
	var unsubs []func()
	var redisChans func() []bus.ChannelStat

	// ---- Redis bridge (optional) ----
	var bridge *storeredis.Bridge
	if cfg.Redis.Enabled {
		bridge, err = storeredis.New(ctx, cfg.Redis.Config)
		if err != nil {
			lg.Warn("marketengine: redis unavailable, continuing without it", zap.Error(err))
		}
	}
	if bridge != nil {
		wireBridge(bridge, prom)
		if cfg.Redis.WarmStart {
			warmStart(ctx, store, storeredis.NewHistory(bridge.Client(), bridge.Keys().Prefix))
		}
		health.CheckRedis(ctx, bridge.Client())
		health.StartLivenessChecker(ctx, bridge.Client(), cfg.Redis.LivenessInterval)

		drop := func(stream string) func() {
			return func() { prom.FanoutDropsTotal.WithLabelValues("redis_" + stream).Inc() }
		}
		completes, unsubCandles := store.CandleCompletes.Chan(cfg.Redis.MaxBuffered, drop("candles"))
		alerts, unsubAlerts := store.AlertsTriggered.Chan(cfg.Redis.MaxBuffered, drop("alerts"))
		signals, unsubSignals := store.SignalsGenerated.Chan(cfg.Redis.MaxBuffered, drop("signals"))
		unsubs = append(unsubs, unsubCandles, unsubAlerts, unsubSignals)

		candles := make(chan model.SymbolCandle, 256)
		redisChans = func() []bus.ChannelStat {
			return []bus.ChannelStat{bus.StatOf(completes), bus.StatOf(alerts), bus.StatOf(signals), bus.StatOf[model.SymbolCandle](candles)}
		}
		wg.Add(2)
		go func() {
			defer wg.Done()
			forwardCandles(ctx, completes, candles)
		}()
		go func() {
			defer wg.Done()
			bridge.Run(ctx, candles, alerts, signals)
		}()
		lg.Info("marketengine: redis bridge ready", zap.String("addr", cfg.Redis.Addr), zap.String("prefix", cfg.Redis.Prefix))
	}

	// ---- Notifications ----
	notifiers := buildNotifiers(cfg.Notification)
	if len(notifiers) > 0 {
		dispatcher := notification.NewDispatcher(cfg.Notification.Dispatcher, notifiers...)
		dispatcher.OnResult = func(name string, err error) {
			result := "ok"
			if err != nil {
				result = "error"
			}
			prom.NotificationsTotal.WithLabelValues(name, result).Inc()
		}
		dispatcher.OnDrop = func(model.Alert) {
			prom.NotificationsTotal.WithLabelValues("queue", "dropped").Inc()
		}
		unsubs = append(unsubs, store.AlertsTriggered.Subscribe(dispatcher.Enqueue))
		wg.Add(1)
		go func() {
			defer wg.Done()
			dispatcher.Run(ctx)
		}()
	}

	// ---- HTTP API + event stream ----
	stream := api.NewStream(cfg.HTTP.StreamBuffer)
	stream.OnDrop(func(int) { prom.FanoutDropsTotal.WithLabelValues("ws").Inc() })
	stream.OnClients = func(n int) { prom.StreamClients.Set(float64(n)) }
	stream.Attach(store)

	srv := api.NewServer(api.NewMarketHandler(store, stream),
		api.WithAddr(cfg.HTTP.Addr),
		api.WithTimeouts(0, cfg.HTTP.ShutdownTimeout),
		api.WithHealth(health),
	)
	srv.Start()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sampleChannels(ctx, prom, stream, bridge, redisChans)
	}()

	// ---- Feed ----
	if err := store.Connect(ctx); err != nil {
		lg.Fatal("marketengine: connect", zap.Error(err))
	}
	lg.Info("marketengine: started",
		zap.String("feed", cfg.Feed.Mode),
		zap.String("http", cfg.HTTP.Addr),
		zap.Bool("redis", bridge != nil),
		zap.Int("notifiers", len(notifiers)))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	lg.Info("marketengine: shutting down", zap.String("signal", sig.String()))

	// Stop ingest first so nothing new enters the pipeline.
	store.Disconnect()
	stream.Close()
	if err := srv.Stop(context.Background()); err != nil {
		lg.Warn("marketengine: http shutdown", zap.Error(err))
	}
	for _, u := range unsubs {
		u()
	}
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		lg.Warn("marketengine: shutdown timed out")
	}

	if bridge != nil {
		if err := bridge.Close(); err != nil {
			lg.Warn("marketengine: redis close", zap.Error(err))
		}
	}
	lg.Info("marketengine: stopped")
}

func newSource(cfg config.FeedConfig) (feed.Source, error) {
	if cfg.Mode == config.FeedWS {
		ws, err := feed.NewWSSource(cfg.URL)
		if err != nil {
			return nil, err
		}
		return ws, nil
	}
	return feed.NewSimSource(feed.SimConfig{
		Instruments: cfg.Instruments,
		Interval:    cfg.Interval,
		Seed:        cfg.Seed,
	}), nil
}

func wireBridge(b *storeredis.Bridge, prom *metrics.Metrics) {
	b.OnPublish = func(took time.Duration, err error) {
		prom.RedisPublishDur.Observe(took.Seconds())
		if err != nil {
			prom.RedisPublishErrors.Inc()
		}
	}
	b.OnBreakerChange = func(_, to storeredis.State) {
		prom.RedisCircuitBreakerState.Set(float64(to))
		if to == storeredis.StateOpen {
			prom.RedisCircuitBreakerTrips.Inc()
		}
	}
	b.OnBuffer = prom.RedisBufferedWrites.Inc
	b.OnFlush = func(n int) { prom.RedisFlushedWrites.Add(float64(n)) }
}

// forwardCandles relays completed candles to out until in closes or ctx is
// done, then closes out.
func forwardCandles(ctx context.Context, in <-chan market.CandleComplete, out chan<- model.SymbolCandle) {
	defer close(out)
	for cc := range in {
		select {
		case out <- model.SymbolCandle{Symbol: cc.Symbol, Candle: cc.Candle}:
		case <-ctx.Done():
			return
		}
	}
}

// sampleChannels reports buffer fill and the Redis backlog every
// sampleInterval until ctx is done. bridge and redisChans may be nil.
func sampleChannels(ctx context.Context, prom *metrics.Metrics, stream *api.Stream, bridge *storeredis.Bridge, redisChans func() []bus.ChannelStat) {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prom.SetSaturation("ws", stream.ChannelStats())
			if redisChans != nil {
				prom.SetSaturation("redis", redisChans())
			}
			if bridge != nil {
				prom.RedisPendingWrites.Set(float64(bridge.PendingCount()))
			}
		}
	}
}

// warmStart restores each symbol's history from the Redis candle streams.
func warmStart(ctx context.Context, store *market.Store, h *storeredis.History) {
	symbols, err := h.Symbols(ctx)
	if err != nil {
		zap.L().Warn("marketengine: warm start skipped", zap.Error(err))
		return
	}
	for _, sym := range symbols {
		candles, err := h.Candles(ctx, sym, warmStartCandles)
		if err != nil {
			zap.L().Warn("marketengine: warm start read", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		if len(candles) == 0 {
			continue
		}
		if err := store.SetCandles(sym, candles); err != nil {
			zap.L().Warn("marketengine: warm start restore", zap.String("symbol", sym), zap.Error(err))
		}
	}
	zap.L().Info("marketengine: warm start done", zap.Int("symbols", len(symbols)))
}

func buildNotifiers(cfg config.NotificationConfig) []notification.Notifier {
	var out []notification.Notifier
	if cfg.Log {
		out = append(out, notification.NewLogNotifier())
	}
	if cfg.WebhookURL != "" {
		out = append(out, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.Telegram.BotToken != "" {
		tg, err := notification.NewTelegramNotifier(cfg.Telegram)
		if err != nil {
			zap.L().Warn("marketengine: telegram disabled", zap.Error(err))
		} else {
			out = append(out, tg)
		}
	}
	return out
}
