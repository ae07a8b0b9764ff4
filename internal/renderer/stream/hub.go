// Package stream fans render instructions out to browsers over WebSocket and
// serves the read-only JSON endpoints of the live map.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	ws "github.com/gorilla/websocket"

	"github.com/transitlive/livemap/internal/cache"
	"github.com/transitlive/livemap/pkg/core"
)

// DefaultBacklog bounds each client's outbound queue.
const DefaultBacklog = 256

// Options configure a Hub. Vehicles and Status feed the JSON endpoints;
// OnCommand receives user actions from sockets and HTTP.
type Options struct {
	Projection Projection
	Backlog    int
	Logger     *slog.Logger
	Vehicles   func() any
	Status     func() any
	OnCommand  func(Command) error
}

// Hub is a Renderer that mirrors the map to every connected browser. New
// clients first receive the current scene, then live instructions.
type Hub struct {
	opts     Options
	logger   *slog.Logger
	scene    *cache.Scene
	upgrader ws.Upgrader
	router   *mux.Router

	mu         sync.Mutex
	clients    map[string]*client
	lastStatus []byte
	closed     bool
}

// NewHub creates a hub with its routes registered.
func NewHub(opts Options) *Hub {
	if opts.Backlog <= 0 {
		opts.Backlog = DefaultBacklog
	}
	if opts.Projection == "" {
		opts.Projection = EPSG4326
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	h := &Hub{
		opts:    opts,
		logger:  opts.Logger,
		scene:   cache.NewScene(),
		clients: make(map[string]*client),
		upgrader: ws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", h.handleSocket).Methods(http.MethodGet)
	r.HandleFunc("/api/vehicles", h.handleVehicles).Methods(http.MethodGet)
	r.HandleFunc("/api/status", h.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/status/dismiss", h.handleDismiss).Methods(http.MethodPost)
	r.HandleFunc("/api/active/{identity}", h.handleSetActive).Methods(http.MethodPut)
	r.HandleFunc("/api/types/{type}", h.handleToggleType).Methods(http.MethodPut)
	h.router = r
	return h
}

// Handler returns the HTTP handler serving sockets and the JSON API.
func (h *Hub) Handler() http.Handler {
	return h.router
}

// Scene exposes the mirrored scene.
func (h *Hub) Scene() *cache.Scene {
	return h.scene
}

// Clients returns the number of connected browsers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           h.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("Map stream listening", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("map stream server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	h.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("map stream shutdown: %w", err)
	}
	return nil
}

// ApplyBatch updates the scene and broadcasts the instructions as one message.
func (h *Hub) ApplyBatch(ins []core.Instruction) {
	if len(ins) == 0 {
		return
	}
	data, err := h.opts.Projection.encode(TypeInstructions, ins)
	if err != nil {
		h.logger.Error("failed to encode instructions", "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scene.Apply(ins...)
	for _, c := range h.clients {
		c.send(data)
	}
}

func (h *Hub) PlaceMarker(id string, pos core.Position, bearing float64, style core.MarkerStyle) {
	h.ApplyBatch([]core.Instruction{{Op: core.OpPlaceMarker, Identity: id, Position: pos, Bearing: bearing, Style: style}})
}

func (h *Hub) MoveMarker(id string, pos core.Position, bearing float64) {
	h.ApplyBatch([]core.Instruction{{Op: core.OpMoveMarker, Identity: id, Position: pos, Bearing: bearing}})
}

func (h *Hub) RemoveMarker(id string) {
	h.ApplyBatch([]core.Instruction{{Op: core.OpRemoveMarker, Identity: id}})
}

func (h *Hub) SetTrail(id string, trail []core.Position) {
	h.ApplyBatch([]core.Instruction{{Op: core.OpSetTrail, Identity: id, Trail: trail}})
}

func (h *Hub) ClearTrail(id string) {
	h.ApplyBatch([]core.Instruction{{Op: core.OpClearTrail, Identity: id}})
}

// BroadcastStatus pushes a status payload to every client and remembers it
// for clients that join later.
func (h *Hub) BroadcastStatus(status any) {
	data, err := marshalEnvelope(TypeStatus, status)
	if err != nil {
		h.logger.Error("failed to encode status", "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastStatus = data
	for _, c := range h.clients {
		c.send(data)
	}
}

// Close disconnects every client. Later sockets are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) register(c *client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.New("hub closed")
	}
	data, err := h.opts.Projection.encode(TypeScene, h.scene.Instructions())
	if err != nil {
		return err
	}
	c.send(data)
	if h.lastStatus != nil {
		c.send(h.lastStatus)
	}
	h.clients[c.id] = c
	return nil
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
}

func (h *Hub) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("WebSocket upgrade failed", "error", err)
		return
	}
	c := newClient(uuid.NewString(), conn, h.opts.Backlog, h.logger)
	if err := h.register(c); err != nil {
		h.logger.Warn("Refusing client", "error", err)
		c.close()
		return
	}
	h.logger.Info("Client connected", "client", c.id, "clients", h.Clients())

	go c.writeLoop()
	c.readLoop(h.opts.OnCommand)
	h.unregister(c)
	h.logger.Info("Client disconnected", "client", c.id)
}

func (h *Hub) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

func (h *Hub) handleVehicles(w http.ResponseWriter, _ *http.Request) {
	if h.opts.Vehicles == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, h.opts.Vehicles())
}

func (h *Hub) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if h.opts.Status == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, h.opts.Status())
}

type activeBody struct {
	Active bool `json:"active"`
}

func (h *Hub) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var body activeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	h.command(w, Command{Type: CommandSetActive, Identity: mux.Vars(r)["identity"], Active: body.Active})
}

func (h *Hub) handleToggleType(w http.ResponseWriter, r *http.Request) {
	var body activeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	h.command(w, Command{Type: CommandToggleType, VehicleType: mux.Vars(r)["type"], Active: body.Active})
}

func (h *Hub) handleDismiss(w http.ResponseWriter, _ *http.Request) {
	h.command(w, Command{Type: CommandDismiss})
}

func (h *Hub) command(w http.ResponseWriter, cmd Command) {
	if h.opts.OnCommand == nil {
		http.Error(w, "commands not supported", http.StatusNotImplemented)
		return
	}
	if err := h.opts.OnCommand(cmd); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
