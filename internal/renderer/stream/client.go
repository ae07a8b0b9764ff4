package stream

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/transitlive/livemap/internal/queue"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxCommandSize = 4 << 10
)

// client is one browser connection with a single write goroutine. Its
// backlog is bounded; a slow browser loses the oldest messages first.
type client struct {
	id     string
	conn   *ws.Conn
	out    *queue.Queue[[]byte]
	wake   chan struct{}
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func newClient(id string, conn *ws.Conn, backlog int, logger *slog.Logger) *client {
	return &client{
		id:     id,
		conn:   conn,
		out:    queue.NewBounded[[]byte](backlog),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger.With("client", id),
	}
}

// send queues data for the write loop without blocking.
func (c *client) send(data []byte) {
	if dropped := c.out.Push(data); dropped > 0 {
		c.logger.Debug("Client backlog full, dropped oldest messages", "dropped", dropped)
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
			for _, data := range c.out.GetAndEmpty() {
				if err := c.write(ws.TextMessage, data); err != nil {
					c.logger.Debug("Client write error", "error", err)
					c.close()
					return
				}
			}
		case <-ticker.C:
			if err := c.write(ws.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *client) write(kind int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(kind, data)
}

// readLoop handles commands until the browser goes away.
func (c *client) readLoop(onCommand func(Command) error) {
	c.conn.SetReadLimit(maxCommandSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.logger.Debug("Ignoring malformed command", "error", err)
			continue
		}
		if onCommand == nil {
			continue
		}
		if err := onCommand(cmd); err != nil {
			c.logger.Warn("Command failed", "type", cmd.Type, "error", err)
		}
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		_ = c.conn.Close()
	})
}
