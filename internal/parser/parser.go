// Package parser turns inbound feed payloads into core snapshots. Malformed
// elements are collected as rejections; only a payload whose overall shape
// is wrong fails the parse.
package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/transitlive/livemap/pkg/core"
)

// ErrNotArray is returned when a payload is neither a vehicle array nor an
// object carrying a "vehicles" array.
var ErrNotArray = errors.New("payload is not an array of vehicles")

// MessageKind tells a full snapshot from an incremental delta.
type MessageKind string

const (
	KindSnapshot MessageKind = "snapshot"
	KindDelta    MessageKind = "delta"
)

// Message is one push-channel payload.
type Message struct {
	Kind     MessageKind
	Snapshot core.Snapshot
}

// envelope is the server wrapper around a vehicle list.
type envelope struct {
	Type      string            `json:"type"`
	Vehicles  []json.RawMessage `json:"vehicles"`
	Removed   []flexString      `json:"removed"`
	Timestamp json.RawMessage   `json:"timestamp"`
}

// Parser holds what parsing needs beyond the payload itself.
type Parser struct {
	logger *slog.Logger
	now    func() time.Time
}

// New creates a parser. A nil logger uses slog.Default.
func New(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger, now: time.Now}
}

// WithClock replaces the clock used for Snapshot.ReceivedAt.
func (p *Parser) WithClock(now func() time.Time) *Parser {
	p.now = now
	return p
}

// ParseSnapshot accepts a bare JSON array of vehicles or an object
// {"vehicles": [...], "timestamp": ...}. The envelope timestamp stands in
// for records that carry none.
func (p *Parser) ParseSnapshot(data []byte) (core.Snapshot, error) {
	msg, err := p.parse(data)
	if err != nil {
		return core.Snapshot{}, err
	}
	return msg.Snapshot, nil
}

// ParseMessage parses a push payload: a full snapshot in any form
// ParseSnapshot accepts, or {"type":"delta","vehicles":[...],"removed":[...]}.
func (p *Parser) ParseMessage(data []byte) (Message, error) {
	return p.parse(data)
}

func (p *Parser) parse(data []byte) (Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Message{}, fmt.Errorf("empty payload: %w", ErrNotArray)
	}

	var env envelope
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &env.Vehicles); err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrNotArray, err)
		}
	case '{':
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrNotArray, err)
		}
		if env.Vehicles == nil && env.Type != string(KindDelta) {
			return Message{}, fmt.Errorf("object without vehicles: %w", ErrNotArray)
		}
	default:
		return Message{}, ErrNotArray
	}

	kind := KindSnapshot
	if env.Type == string(KindDelta) {
		kind = KindDelta
	}

	fallback, _ := parseTimestamp(env.Timestamp)
	snap := core.Snapshot{
		ReceivedAt: p.now(),
		Partial:    kind == KindDelta,
		Records:    make([]core.VehicleRecord, 0, len(env.Vehicles)),
	}
	for _, id := range env.Removed {
		if id != "" {
			snap.Removed = append(snap.Removed, string(id))
		}
	}

	for i, raw := range env.Vehicles {
		rec, err := decodeRecord(raw)
		if err != nil {
			snap.Rejected = append(snap.Rejected, core.Rejection{Index: i, ID: rec.ID, Reason: err.Error()})
			p.logger.Debug("vehicle rejected", "index", i, "id", rec.ID, "reason", err)
			continue
		}
		if rec.LastUpdated.IsZero() {
			rec.LastUpdated = fallback
		}
		snap.Records = append(snap.Records, rec)
	}

	return Message{Kind: kind, Snapshot: snap}, nil
}
