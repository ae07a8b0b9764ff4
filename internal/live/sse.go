package live

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxEventSize bounds one event-stream line.
const maxEventSize = 8 << 20

// SSETransport reads a text/event-stream endpoint. Each event's data lines
// are joined with newlines and delivered as one message.
type SSETransport struct {
	URL    string
	APIKey string
	Client *http.Client
}

// Connect issues the streaming GET. The request lives as long as ctx.
func (t *SSETransport) Connect(ctx context.Context) (Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create event-stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if t.APIKey != "" {
		req.Header.Set("X-API-Key", t.APIKey)
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("event-stream request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("event-stream returned status %d", resp.StatusCode)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), maxEventSize)
	return &sseStream{body: resp.Body, scanner: sc}, nil
}

type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func (s *sseStream) Next(ctx context.Context) ([]byte, error) {
	var data bytes.Buffer
	hasData := false
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if line == "" {
			if hasData {
				return data.Bytes(), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		if field != "data" {
			continue
		}
		if hasData {
			data.WriteByte('\n')
		}
		data.WriteString(value)
		hasData = true
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	// an unterminated trailing event is dropped
	return nil, io.EOF
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
