// Package monitor keeps the user-facing connection status: whether the live
// channel is up, when it retries next and how fresh the shown data is.
package monitor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the live channel state as shown to the user.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateRetrying   State = "retrying"
	StateStopped    State = "stopped"
)

// Status is a point-in-time view of the indicator.
type Status struct {
	State          State     `json:"state"`
	Message        string    `json:"message,omitempty"`
	LastError      string    `json:"lastError,omitempty"`
	NextRetry      time.Time `json:"nextRetry,omitempty"`
	Tracked        int       `json:"tracked"`
	LastSnapshotAt time.Time `json:"lastSnapshotAt,omitempty"`
	Rejected       int       `json:"rejected"`
	Dismissed      bool      `json:"dismissed"`
}

// Service tracks the status. All methods are safe for concurrent use.
type Service struct {
	mu        sync.RWMutex
	status    Status
	listeners []func(Status)
	logger    *slog.Logger
}

// NewService creates an idle indicator.
func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		status: Status{State: StateIdle},
		logger: logger,
	}
}

// Status returns a copy of the current status.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// OnChange registers fn to be called with every new status.
func (s *Service) OnChange(fn func(Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Connecting marks an open attempt in progress.
func (s *Service) Connecting() {
	s.transition(func(st *Status) {
		st.State = StateConnecting
		st.Message = "Connecting"
		st.NextRetry = time.Time{}
	})
}

// Connected clears any error and shows the connection as up.
func (s *Service) Connected() {
	s.transition(func(st *Status) {
		st.State = StateConnected
		st.Message = "Connected"
		st.LastError = ""
		st.NextRetry = time.Time{}
	})
}

// Retrying records a transport failure and the pending reconnect. The last
// known vehicles stay on the map, only the indicator changes.
func (s *Service) Retrying(err error, delay time.Duration, at time.Time) {
	s.transition(func(st *Status) {
		st.State = StateRetrying
		st.Message = RetryMessage(delay)
		if err != nil {
			st.LastError = err.Error()
		}
		st.NextRetry = at.Add(delay)
	})
}

// Failed records an error that does not change the connection state, such
// as a failed poll.
func (s *Service) Failed(err error) {
	if err == nil {
		return
	}
	s.transition(func(st *Status) {
		st.LastError = err.Error()
	})
}

// Stopped shows the channel as deliberately closed.
func (s *Service) Stopped() {
	s.transition(func(st *Status) {
		st.State = StateStopped
		st.Message = "Stopped"
		st.NextRetry = time.Time{}
	})
}

// SnapshotApplied updates the freshness counters. It does not un-dismiss.
func (s *Service) SnapshotApplied(tracked, rejected int, at time.Time) {
	s.mu.Lock()
	s.status.Tracked = tracked
	s.status.Rejected = rejected
	s.status.LastSnapshotAt = at
	st, listeners := s.status, s.listeners
	s.mu.Unlock()
	notify(listeners, st)
}

// Dismiss hides the message until the next state change.
func (s *Service) Dismiss() {
	s.mu.Lock()
	if s.status.Dismissed {
		s.mu.Unlock()
		return
	}
	s.status.Dismissed = true
	st, listeners := s.status, s.listeners
	s.mu.Unlock()
	notify(listeners, st)
}

// RetryMessage is the indicator text while a reconnect is pending.
func RetryMessage(delay time.Duration) string {
	return fmt.Sprintf("Disconnected — retrying in %s", delay.Round(time.Second))
}

func (s *Service) transition(update func(*Status)) {
	s.mu.Lock()
	prev := s.status.State
	update(&s.status)
	s.status.Dismissed = false
	st, listeners := s.status, s.listeners
	s.mu.Unlock()

	if prev != st.State {
		s.logger.Info("Connection state changed", "from", prev, "to", st.State, "message", st.Message)
	}
	notify(listeners, st)
}

func notify(listeners []func(Status), st Status) {
	for _, fn := range listeners {
		fn(st)
	}
}
