// Package alarm is an in-process one-shot alarm service. Each alarm is keyed
// by a request id; setting an id that is already pending replaces it.
package alarm

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/julianstephens/habitual/internal/logger"
)

// ErrClosed is returned by Set after Close.
var ErrClosed = errors.New("alarm service closed")

// Payload is what the receiver gets when an alarm fires.
type Payload struct {
	HabitID   string
	HabitName string
	Streak    int
	Time      string // HH:MM of the reminder; empty for ad hoc alarms
	Days      []int
	Snooze    bool
}

type Alarm struct {
	RequestID uint32
	At        time.Time
	Payload   Payload
}

// Receiver handles fired alarms. It runs on the timer's goroutine.
type Receiver func(ctx context.Context, a Alarm)

type entry struct {
	alarm Alarm
	timer *time.Timer
	gen   uint64
}

type Service struct {
	mu       sync.Mutex
	pending  map[uint32]*entry
	receiver Receiver
	now      func() time.Time
	gen      uint64
	closed   bool
}

type Option func(*Service)

// WithClock overrides the time source used to compute timer delays.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(opts ...Option) *Service {
	s := &Service{
		pending: make(map[uint32]*entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetReceiver installs the function called for every fired alarm.
func (s *Service) SetReceiver(r Receiver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receiver = r
}

// Set arms a one-shot alarm. Instants in the past fire immediately.
func (s *Service) Set(a Alarm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if old, ok := s.pending[a.RequestID]; ok {
		old.timer.Stop()
	}

	s.gen++
	e := &entry{alarm: a, gen: s.gen}
	delay := max(a.At.Sub(s.now()), 0)
	e.timer = time.AfterFunc(delay, func() { s.fire(a.RequestID, e.gen) })
	s.pending[a.RequestID] = e

	logger.Debug("Alarm set", "request_id", a.RequestID, "at", a.At.Format(time.RFC3339), "habit", a.Payload.HabitID)
	return nil
}

// Cancel disarms an alarm. It reports whether one was pending.
func (s *Service) Cancel(requestID uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pending[requestID]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.pending, requestID)
	return true
}

// Pending returns the armed alarms ordered by fire time.
func (s *Service) Pending() []Alarm {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Alarm, 0, len(s.pending))
	for _, e := range s.pending {
		out = append(out, e.alarm)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].RequestID < out[j].RequestID
		}
		return out[i].At.Before(out[j].At)
	})
	return out
}

// Close disarms everything. Later calls to Set fail with ErrClosed.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.pending {
		e.timer.Stop()
		delete(s.pending, id)
	}
	s.closed = true
}

func (s *Service) fire(requestID uint32, gen uint64) {
	s.mu.Lock()
	e, ok := s.pending[requestID]
	if !ok || e.gen != gen {
		// Replaced or cancelled after the timer had already started.
		s.mu.Unlock()
		return
	}
	delete(s.pending, requestID)
	receiver := s.receiver
	s.mu.Unlock()

	if receiver == nil {
		logger.Warn("Alarm fired without a receiver", "request_id", requestID)
		return
	}
	receiver(context.Background(), e.alarm)
}
