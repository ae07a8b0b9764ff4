package live

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSETransport_FramesEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "event: snapshot\nid: 1\ndata: [{\"id\":\"a\",\n")
		fmt.Fprint(w, "data: \"type\":\"bus\"}]\n\n")
		fmt.Fprint(w, "data:{\"type\":\"delta\"}\n\n")
		fmt.Fprint(w, "data: trailing-without-blank-line\n")
	}))
	defer srv.Close()

	tr := &SSETransport{URL: srv.URL, APIKey: "secret"}
	stream, err := tr.Connect(context.Background())
	require.NoError(t, err)
	defer stream.Close()

	first, err := stream.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "[{\"id\":\"a\",\n\"type\":\"bus\"}]", string(first))

	second, err := stream.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"type":"delta"}`, string(second))

	_, err = stream.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestSSETransport_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := (&SSETransport{URL: srv.URL}).Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestWebSocketTransport_ReadsMessages(t *testing.T) {
	upgrader := ws.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(ws.TextMessage, []byte(`[{"id":"a"}]`))
		_ = conn.WriteMessage(ws.TextMessage, []byte(`{"type":"delta"}`))
		// wait for the client's close frame
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	tr := &WebSocketTransport{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}
	stream, err := tr.Connect(context.Background())
	require.NoError(t, err)

	first, err := stream.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"a"}]`, string(first))
	second, err := stream.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"type":"delta"}`, string(second))

	assert.NoError(t, stream.Close())
	assert.NoError(t, stream.Close())
}

func TestWebSocketTransport_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := (&WebSocketTransport{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}).Connect(context.Background())
	assert.Error(t, err)
}

func TestNATSTransport_RequiresSubject(t *testing.T) {
	_, err := (&NATSTransport{URL: "nats://127.0.0.1:1"}).Connect(context.Background())
	assert.Error(t, err)
}

func TestChannel_OverSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: [1]\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := New(&SSETransport{URL: srv.URL}, Options{Scheduler: newFakeScheduler()})
	got := make(chan string, 1)
	require.NoError(t, c.Start(func(b []byte) error { got <- string(b); return nil }, nil))

	select {
	case s := <-got:
		assert.Equal(t, "[1]", s)
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
	}
	c.Stop()
	assert.Equal(t, StateStopped, c.State())
}
