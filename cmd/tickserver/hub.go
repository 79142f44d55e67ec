package main

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"marketengine/internal/bus"
	"marketengine/internal/feed"
)

const (
	clientBuffer = 256
	writeTimeout = 5 * time.Second
)

// hub fans encoded candles out to connected clients. A client that falls
// clientBuffer frames behind loses frames rather than stalling the rest.
type hub struct {
	fan     *bus.FanOut[[]byte]
	clients atomic.Int64
	dropped atomic.Int64
}

func newHub() *hub {
	h := &hub{fan: bus.NewFanOut[[]byte](clientBuffer)}
	h.fan.OnDrop = func(int) { h.dropped.Add(1) }
	return h
}

// join subscribes a client. leave is idempotent.
func (h *hub) join() (frames <-chan []byte, leave func()) {
	frames, cancel := h.fan.Subscribe()
	h.clients.Add(1)
	var left atomic.Bool
	return frames, func() {
		if left.CompareAndSwap(false, true) {
			cancel()
			h.clients.Add(-1)
		}
	}
}

func (h *hub) count() int           { return int(h.clients.Load()) }
func (h *hub) broadcast(msg []byte) { h.fan.Publish(msg) }
func (h *hub) close()               { h.fan.Close() }

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			zap.L().Warn("tickserver: upgrade failed", zap.Error(err))
			return
		}
		frames, leave := h.join()
		log := zap.L().With(zap.String("remote", r.RemoteAddr))
		log.Info("tickserver: client connected", zap.Int("clients", h.count()))
		defer func() {
			leave()
			conn.Close()
			log.Info("tickserver: client disconnected", zap.Int("clients", h.count()))
		}()

		// Clients never send; a read error means the peer went away.
		go func() {
			for {
				if _, _, err := conn.NextReader(); err != nil {
					leave()
					return
				}
			}
		}()

		for msg := range frames {
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// generate emits one candle per walker each tick until stop closes.
func generate(h *hub, walkers []*feed.Walker, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			for _, w := range walkers {
				b, err := json.Marshal(w.Next(now.UTC()))
				if err != nil {
					zap.L().Error("tickserver: encode candle", zap.String("symbol", w.Symbol()), zap.Error(err))
					continue
				}
				h.broadcast(b)
			}
		}
	}
}

// newWalkers builds one walker per instrument. Seed zero means seed from
// the clock.
func newWalkers(insts []feed.Instrument, seed int64) []*feed.Walker {
	if len(insts) == 0 {
		insts = feed.DefaultInstruments
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	ws := make([]*feed.Walker, 0, len(insts))
	for i, inst := range insts {
		ws = append(ws, feed.NewWalker(inst, seed+int64(i)))
	}
	return ws
}
