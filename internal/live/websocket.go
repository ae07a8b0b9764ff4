package live

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// WebSocketTransport dials a socket that pushes one JSON payload per message.
type WebSocketTransport struct {
	URL    string
	APIKey string
	Dialer *ws.Dialer
}

// Connect performs a single dial.
func (t *WebSocketTransport) Connect(ctx context.Context) (Stream, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = ws.DefaultDialer
	}
	header := http.Header{}
	if t.APIKey != "" {
		header.Set("X-API-Key", t.APIKey)
	}
	conn, _, err := dialer.DialContext(ctx, t.URL, header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn *ws.Conn

	mu     sync.Mutex
	closed bool
}

func (s *wsStream) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, message, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return message, nil
}

// Close sends a close frame and releases the socket. Safe to call twice.
func (s *wsStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.conn.WriteControl(
		ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	return s.conn.Close()
}
