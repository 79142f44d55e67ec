package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"marketengine/internal/model"
)

// WSSource connects to a plain-JSON WebSocket candle server (cmd/tickserver).
// The expected JSON message format on the wire is model.SymbolCandle:
//
//	{"symbol":"BTCUSDT","time":"...","open":43250,"high":43270.5,"low":43241,"close":43262.1,"volume":1180000}
type WSSource struct {
	url    string
	dialer *websocket.Dialer
}

// NewWSSource creates a source. Returns an error if the URL is unparseable.
func NewWSSource(rawURL string) (*WSSource, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("feed: parse url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("feed: unsupported url scheme %q", u.Scheme)
	}
	return &WSSource{
		url:    rawURL,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}, nil
}

// Open dials the server.
func (s *WSSource) Open(ctx context.Context) (Stream, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, err
	}
	zap.L().Info("feed: websocket connected", zap.String("url", s.url))
	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn *websocket.Conn
}

func (st *wsStream) Next(ctx context.Context) (model.SymbolCandle, error) {
	// Unblock ReadMessage when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() { st.conn.Close() })
	defer stop()

	for {
		_, raw, err := st.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return model.SymbolCandle{}, ctx.Err()
			}
			return model.SymbolCandle{}, err
		}

		var c model.SymbolCandle
		if err := json.Unmarshal(raw, &c); err != nil {
			zap.L().Warn("feed: parse error", zap.Error(err), zap.ByteString("raw", raw))
			continue
		}
		if c.Symbol == "" {
			zap.L().Warn("feed: skipping candle with empty symbol")
			continue
		}
		return c, nil
	}
}

func (st *wsStream) Ping(ctx context.Context) error {
	deadline := time.Now().Add(5 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return st.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

func (st *wsStream) Close() error {
	st.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
		time.Now().Add(time.Second))
	return st.conn.Close()
}
