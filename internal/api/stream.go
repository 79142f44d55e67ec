package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"marketengine/internal/bus"
	"marketengine/internal/market"
	"marketengine/internal/model"
)

// Envelope types sent on /ws.
const (
	EventPrice      = "price"
	EventCandle     = "candle"
	EventAlert      = "alert"
	EventSignal     = "signal"
	EventConnection = "connection"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 512
)

// Envelope is one message on the event stream.
type Envelope struct {
	Type   string          `json:"type"`
	Symbol string          `json:"symbol,omitempty"`
	Seq    int64           `json:"seq"`
	TS     time.Time       `json:"ts"`
	Data   json.RawMessage `json:"data"`
}

type frame struct {
	seq    int64
	symbol string
	data   []byte
}

// Stream fans store events out to WebSocket clients. A slow client loses
// messages rather than stalling the others.
type Stream struct {
	fan      *bus.FanOut[frame]
	replay   *replayBuffer
	upgrader websocket.Upgrader
	clients  atomic.Int64

	pubMu sync.Mutex // orders seq assignment with delivery
	seq   atomic.Int64

	mu     sync.Mutex
	store  *market.Store
	unsubs []func()

	// OnClients is called with the client count after every connect and
	// disconnect.
	OnClients func(n int)
}

// NewStream creates a stream whose clients each buffer up to buffer
// messages. The same number of recent messages is kept for replay.
func NewStream(buffer int) *Stream {
	if buffer <= 0 {
		buffer = 256
	}
	return &Stream{
		fan:    bus.NewFanOut[frame](buffer),
		replay: newReplayBuffer(buffer),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// OnDrop installs a hook called when a client misses a message. Set it
// before serving clients.
func (s *Stream) OnDrop(fn func(subscriber int)) {
	s.fan.OnDrop = fn
}

// Attach subscribes the stream to every event topic of store.
func (s *Stream) Attach(store *market.Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = store
	s.unsubs = append(s.unsubs,
		store.PriceUpdates.Subscribe(func(u market.PriceUpdate) {
			s.Publish(EventPrice, u.Symbol, u)
		}),
		store.CandleCompletes.Subscribe(func(cc market.CandleComplete) {
			s.Publish(EventCandle, cc.Symbol, cc)
		}),
		store.AlertsTriggered.Subscribe(func(a model.Alert) {
			s.Publish(EventAlert, a.Symbol, a)
		}),
		store.SignalsGenerated.Subscribe(func(sig model.AlphaSignal) {
			s.Publish(EventSignal, sig.Symbol, sig)
		}),
		store.ConnectionEvents.Subscribe(func(ev market.ConnectionEvent) {
			s.Publish(EventConnection, "", ev)
		}),
	)
}

// Publish encodes v once and offers it to every client.
func (s *Stream) Publish(kind, symbol string, v interface{}) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	seq := s.seq.Load() + 1
	b, err := encode(kind, symbol, seq, v)
	if err != nil {
		zap.L().Error("api: stream encode failed", zap.String("type", kind), zap.Error(err))
		return
	}
	s.seq.Store(seq)
	f := frame{seq: seq, symbol: symbol, data: b}
	s.replay.push(f)
	s.fan.Publish(f)
}

func encode(kind, symbol string, seq int64, v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		Type:   kind,
		Symbol: symbol,
		Seq:    seq,
		TS:     time.Now().UTC(),
		Data:   data,
	})
}

// Clients returns the number of connected clients.
func (s *Stream) Clients() int {
	return int(s.clients.Load())
}

// ChannelStats reports the fill of each client's send buffer.
func (s *Stream) ChannelStats() []bus.ChannelStat { return s.fan.ChannelStats() }

// Close detaches from the store and disconnects every client.
func (s *Stream) Close() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
	s.fan.Close()
}

func (s *Stream) clientsChanged(delta int64) {
	n := s.clients.Add(delta)
	if s.OnClients != nil {
		s.OnClients(int(n))
	}
}

// ServeWS upgrades the request and streams events until the peer goes
// away. ?symbols=A,B limits symbol-scoped events to those symbols;
// connection events are always delivered. ?since=N first replays the
// buffered events with seq > N.
func (s *Stream) ServeWS(c echo.Context) error {
	since := int64(-1)
	if raw := c.QueryParam("since"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			return BadRequestResponse(c, []ValidationError{{
				Code:    "ERR_GTE",
				Field:   "since",
				Message: "since must be a non-negative integer",
			}})
		}
		since = n
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		zap.L().Warn("api: ws upgrade failed", zap.Error(err))
		return nil
	}

	filter := parseSymbols(c.QueryParam("symbols"))
	out, cancel := s.fan.Subscribe()
	var backlog []frame
	if since >= 0 {
		backlog = s.replay.since(since)
	}
	s.clientsChanged(1)
	zap.L().Info("api: ws client connected", zap.String("remote", c.RealIP()), zap.Int("clients", s.Clients()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer conn.Close()
		s.writePump(conn, out, backlog, filter)
	}()

	s.readPump(conn)
	cancel()
	<-done
	conn.Close()

	s.clientsChanged(-1)
	zap.L().Info("api: ws client disconnected", zap.String("remote", c.RealIP()), zap.Int("clients", s.Clients()))
	return nil
}

func (s *Stream) hello() []byte {
	s.mu.Lock()
	store := s.store
	s.mu.Unlock()

	status := model.StatusDisconnected
	if store != nil {
		status = store.ConnectionStatus()
	}
	b, _ := encode(EventConnection, "", s.seq.Load(), market.ConnectionEvent{Status: status, Time: time.Now().UTC()})
	return b
}

// writePump sends the hello, then the backlog, then live frames. Live
// frames already covered by the backlog are skipped.
func (s *Stream) writePump(conn *websocket.Conn, out <-chan frame, backlog []frame, filter map[string]struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, s.hello()); err != nil {
		return
	}

	var last int64
	for _, f := range backlog {
		last = f.seq
		if !wanted(filter, f.symbol) {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
			return
		}
	}

	for {
		select {
		case f, ok := <-out:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if f.seq <= last || !wanted(filter, f.symbol) {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages and returns when the connection
// closes or misses a pong.
func (s *Stream) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(readLimit)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func parseSymbols(raw string) map[string]struct{} {
	if raw == "" {
		return nil
	}
	set := make(map[string]struct{})
	for _, sym := range strings.Split(raw, ",") {
		if sym = strings.TrimSpace(sym); sym != "" {
			set[sym] = struct{}{}
		}
	}
	return set
}

func wanted(filter map[string]struct{}, symbol string) bool {
	if len(filter) == 0 || symbol == "" {
		return true
	}
	_, ok := filter[symbol]
	return ok
}
