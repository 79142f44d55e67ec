// Command tickserver is a demo WebSocket candle server. It broadcasts
// simulated OHLCV candles, one JSON object per message:
//
//	{"symbol":"BTCUSDT","time":"...","open":43250,"high":43301.2,"low":43210.5,"close":43288.1,"volume":1183220}
//
// Point marketengine at it with feed.mode=ws and feed.url=ws://localhost:9001/ws.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"marketengine/config"
	"marketengine/internal/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[tickserver] config: %v", err)
	}
	lg, err := logger.Init("tickserver", cfg.Log)
	if err != nil {
		log.Fatalf("[tickserver] logger: %v", err)
	}
	defer lg.Sync()

	walkers := newWalkers(cfg.Feed.Instruments, cfg.TickServer.Seed)
	symbols := make([]string, len(walkers))
	for i, w := range walkers {
		symbols[i] = w.Symbol()
	}

	h := newHub()
	stop := make(chan struct{})
	go generate(h, walkers, cfg.TickServer.Interval, stop)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(h))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","service":"tickserver","clients":%d,"dropped":%d}`+"\n", h.count(), h.dropped.Load())
	})
	srv := &http.Server{Addr: cfg.TickServer.Addr, Handler: mux}

	go func() {
		lg.Info("tickserver: listening",
			zap.String("addr", cfg.TickServer.Addr),
			zap.Strings("symbols", symbols),
			zap.Duration("interval", cfg.TickServer.Interval))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("tickserver: server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	close(stop)
	h.close()
	srv.Close()
	lg.Info("tickserver: stopped")
}
