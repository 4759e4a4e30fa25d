// Package mock provides a scripted STT adapter for local runs and tests without
// provider credentials. It behaves like a streaming engine: progressive partial
// transcripts while audio arrives, then exactly one final per utterance.
package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ai-voice-bridge-service/internal/service/stt"
)

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials []string // Progressive partial transcripts
	Final    string   // Final transcript text
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials: []string{"remind", "remind me", "remind me to call"},
		Final:    "remind me to call mom",
	},
	{
		Partials: []string{"what", "what is on", "what is on my list"},
		Final:    "what is on my list today",
	},
	{
		Partials: []string{"create", "create a project", "create a project called"},
		Final:    "create a project called garden",
	},
	{
		Partials: []string{"mark", "mark the dentist", "mark the dentist task"},
		Final:    "mark the dentist task as done",
	},
	{
		Partials: []string{"thank you"},
		Final:    "thank you very much",
	},
}

// utteranceCounter picks the starting utterance so consecutive sessions differ.
var (
	utteranceCounter int
	counterMu        sync.Mutex
)

// Option configures an Adapter.
type Option func(*Adapter)

// WithUtterances replaces the scripted utterances.
func WithUtterances(u []SimulatedUtterance) Option {
	return func(a *Adapter) { a.utterances = u }
}

// WithFramesPerStep sets how many audio frames advance the script by one step.
func WithFramesPerStep(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.framesPerStep = n
		}
	}
}

// WithDelay sets the simulated recognition latency.
func WithDelay(d time.Duration) Option {
	return func(a *Adapter) { a.delay = d }
}

// Adapter implements stt.Adapter with scripted responses. Transcripts are
// delivered in order from a single emitter goroutine.
type Adapter struct {
	mu            sync.Mutex
	cb            stt.Callback
	utterances    []SimulatedUtterance
	current       int
	partialIndex  int
	framesPerStep int
	audioReceived int
	delay         time.Duration

	queue  chan stt.Event
	done   chan struct{}
	closed atomic.Bool
}

// New creates a new mock STT adapter.
func New(opts ...Option) *Adapter {
	counterMu.Lock()
	idx := utteranceCounter
	utteranceCounter++
	counterMu.Unlock()

	a := &Adapter{
		utterances:    DefaultUtterances,
		framesPerStep: 1,
		delay:         50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(a)
	}
	if len(a.utterances) > 0 {
		a.current = idx % len(a.utterances)
	}
	return a
}

// Start begins a mock transcription session.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	a.cb = cb
	a.queue = make(chan stt.Event, 32)
	a.done = make(chan struct{})
	queue, done := a.queue, a.done
	a.mu.Unlock()

	go a.emit(cb, queue, done)
	cb.OnOpen(stt.SessionInfo{ID: "mock-session"})
	return nil
}

func (a *Adapter) emit(cb stt.Callback, queue <-chan stt.Event, done chan<- struct{}) {
	defer close(done)
	for ev := range queue {
		if a.delay > 0 {
			time.Sleep(a.delay)
		}
		if a.closed.Load() {
			continue
		}
		cb.OnTranscript(ev)
	}
}

// SendAudio advances the script: each step emits the next partial, and once
// the partials are exhausted the final, after which the next utterance begins.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed.Load() || a.cb == nil || len(a.utterances) == 0 {
		return nil
	}

	a.audioReceived++
	if a.audioReceived%a.framesPerStep != 0 {
		return nil
	}

	utt := a.utterances[a.current]
	var ev stt.Event
	if a.partialIndex < len(utt.Partials) {
		ev = stt.Event{Text: utt.Partials[a.partialIndex]}
		a.partialIndex++
	} else {
		ev = stt.Event{Text: utt.Final, Final: true}
		a.partialIndex = 0
		a.current = (a.current + 1) % len(a.utterances)
	}

	select {
	case a.queue <- ev:
	default:
	}
	return nil
}

// Close ends the mock session. Pending transcripts are discarded.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed.Swap(true) {
		return nil
	}
	if a.cb == nil {
		return nil
	}

	close(a.queue)
	<-a.done
	a.cb.OnClose()
	return nil
}
