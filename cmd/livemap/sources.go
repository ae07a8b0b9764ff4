package main

import (
	"fmt"
	"strings"

	"github.com/transitlive/livemap/internal/api"
	"github.com/transitlive/livemap/internal/config"
	"github.com/transitlive/livemap/internal/live"
)

// newTransport returns the push transport named by cfg.Live.Transport, or
// nil for "none".
func newTransport(cfg config.Config) (live.Transport, error) {
	switch cfg.Live.Transport {
	case "", "none":
		return nil, nil
	case "sse":
		return &live.SSETransport{URL: cfg.Live.URL, APIKey: cfg.Feed.APIKey}, nil
	case "websocket":
		return &live.WebSocketTransport{URL: httpToWS(cfg.Live.URL), APIKey: cfg.Feed.APIKey}, nil
	case "nats":
		return &live.NATSTransport{URL: cfg.Live.URL, Subject: cfg.Live.NATSSubject}, nil
	default:
		return nil, fmt.Errorf("unknown live transport: %q", cfg.Live.Transport)
	}
}

// newFetcher returns the polling client, or nil when no feed URL is set.
func newFetcher(cfg config.Config) *api.Client {
	if cfg.Feed.URL == "" {
		return nil
	}
	return api.New(cfg.Feed.URL, cfg.Feed.APIKey, cfg.Feed.Timeout, cfg.Feed.Format)
}

// httpToWS converts an HTTP(S) URL to a WebSocket URL.
func httpToWS(httpURL string) string {
	s := strings.TrimRight(httpURL, "/")
	s = strings.Replace(s, "https://", "wss://", 1)
	s = strings.Replace(s, "http://", "ws://", 1)
	return s
}
