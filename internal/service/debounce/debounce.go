// Package debounce filters a session's transcript events down to one accepted
// utterance at a time.
package debounce

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"ai-voice-bridge-service/internal/service/stt"
)

const (
	DefaultMinChars   = 5
	DefaultQuiescence = 100 * time.Millisecond
)

// Config tunes the noise threshold and the post-turn quiescence delay.
type Config struct {
	// MinChars is the inclusive noise threshold: trimmed text of this many
	// characters or fewer is discarded.
	MinChars   int
	Quiescence time.Duration
}

// DefaultConfig returns the standard debounce settings.
func DefaultConfig() Config {
	return Config{MinChars: DefaultMinChars, Quiescence: DefaultQuiescence}
}

// Debouncer is the per-session gate in front of the turn processor.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	IDLE ──Offer(accepted)──→ PROCESSING ──Done()──→ COOLDOWN ──timer──→ IDLE
//
// Rules (applied in order by Offer):
//   - partial events are dropped
//   - trimmed text of MinChars characters or fewer is noise
//   - text equal to the last accepted utterance is a duplicate
//   - anything arriving outside IDLE is dropped as busy, never queued
type Debouncer struct {
	cfg Config

	mu           sync.Mutex
	state        State
	lastAccepted string
	timer        *time.Timer
	// epoch invalidates cooldown timers that fire after Stop or a newer Done.
	epoch   uint64
	stopped bool
}

// New creates a Debouncer in IDLE state.
func New(cfg Config) *Debouncer {
	if cfg.MinChars < 0 {
		cfg.MinChars = 0
	}
	return &Debouncer{cfg: cfg, state: StateIdle}
}

// Offer evaluates one transcript event. An accepted event moves the
// debouncer to PROCESSING; the caller must call Done when the turn ends.
func (d *Debouncer) Offer(ev stt.Event) Decision {
	if !ev.Final {
		return Decision{Reason: ReasonPartial}
	}

	text := strings.TrimSpace(ev.Text)
	if text == "" || utf8.RuneCountInString(text) <= d.cfg.MinChars {
		return Decision{Text: text, Reason: ReasonNoise}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if text == d.lastAccepted {
		return Decision{Text: text, Reason: ReasonDuplicate}
	}
	if d.stopped || d.state.Busy() {
		return Decision{Text: text, Reason: ReasonBusy}
	}

	d.lastAccepted = text
	d.state = StateProcessing
	return Decision{Accepted: true, Text: text, Reason: ReasonAccepted}
}

// Done marks the in-flight turn finished and starts the quiescence timer.
// Returns false if no turn was in flight.
func (d *Debouncer) Done() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateProcessing {
		return false
	}
	if d.stopped || d.cfg.Quiescence <= 0 {
		d.state = StateIdle
		return true
	}

	d.state = StateCooldown
	d.epoch++
	epoch := d.epoch
	d.timer = time.AfterFunc(d.cfg.Quiescence, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.epoch == epoch && d.state == StateCooldown {
			d.state = StateIdle
			d.timer = nil
		}
	})
	return true
}

// State returns the current state.
func (d *Debouncer) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// LastAccepted returns the most recently accepted utterance.
func (d *Debouncer) LastAccepted() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastAccepted
}

// Stop cancels any pending cooldown timer. Subsequent offers are dropped as busy.
// Idempotent.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	d.epoch++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
