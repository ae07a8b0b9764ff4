package live

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSTransport subscribes to a subject carrying snapshot or delta payloads.
// The client library's own reconnect is disabled so the channel's backoff
// applies to brokers too.
type NATSTransport struct {
	URL     string
	Subject string
	Options []nats.Option
}

// Connect opens a connection and a synchronous subscription.
func (t *NATSTransport) Connect(ctx context.Context) (Stream, error) {
	if t.Subject == "" {
		return nil, fmt.Errorf("nats subject not set")
	}
	opts := append([]nats.Option{nats.Name("livemap"), nats.MaxReconnects(0)}, t.Options...)
	nc, err := nats.Connect(t.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	sub, err := nc.SubscribeSync(t.Subject)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", t.Subject, err)
	}
	return &natsStream{conn: nc, sub: sub}, nil
}

type natsStream struct {
	conn *nats.Conn
	sub  *nats.Subscription
}

func (s *natsStream) Next(ctx context.Context) ([]byte, error) {
	msg, err := s.sub.NextMsgWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}

func (s *natsStream) Close() error {
	if s.conn.IsClosed() {
		return nil
	}
	_ = s.sub.Unsubscribe()
	s.conn.Close()
	return nil
}
