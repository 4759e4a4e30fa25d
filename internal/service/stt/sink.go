package stt

import (
	"sync"
)

// Sink adapts the callback-style Callback interface into channels so a single
// consumer can read transcripts in order. Sends never block the adapter: when
// the event buffer is full the event is dropped and OnOverflow is invoked.
type Sink struct {
	events chan Event
	errs   chan error
	opened chan SessionInfo
	closed chan struct{}

	closeOnce sync.Once
	openOnce  sync.Once

	// OnOverflow, when set, is called for every event dropped on a full buffer.
	OnOverflow func(Event)
}

// NewSink creates a sink whose event channel holds up to buffer events.
func NewSink(buffer int) *Sink {
	if buffer <= 0 {
		buffer = 1
	}
	return &Sink{
		events: make(chan Event, buffer),
		errs:   make(chan error, 1),
		opened: make(chan SessionInfo, 1),
		closed: make(chan struct{}),
	}
}

// Events delivers transcript events in the order the adapter produced them.
func (s *Sink) Events() <-chan Event { return s.events }

// Errors delivers the first adapter error. Later errors are discarded.
func (s *Sink) Errors() <-chan error { return s.errs }

// Opened delivers the provider session info once.
func (s *Sink) Opened() <-chan SessionInfo { return s.opened }

// Closed is closed when the adapter reports the provider session ended.
func (s *Sink) Closed() <-chan struct{} { return s.closed }

func (s *Sink) OnOpen(info SessionInfo) {
	s.openOnce.Do(func() {
		s.opened <- info
	})
}

func (s *Sink) OnTranscript(ev Event) {
	select {
	case s.events <- ev:
	default:
		if s.OnOverflow != nil {
			s.OnOverflow(ev)
		}
	}
}

func (s *Sink) OnError(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

func (s *Sink) OnClose() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}
