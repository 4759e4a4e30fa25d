package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"ai-voice-bridge-service/internal/observability/metrics"
	"ai-voice-bridge-service/internal/service/debounce"
	"ai-voice-bridge-service/internal/service/llm"
	"ai-voice-bridge-service/internal/service/session"
	"ai-voice-bridge-service/internal/service/stt"
	"ai-voice-bridge-service/internal/service/turn"
)

type frame struct {
	mt   int
	data []byte
	err  error
}

type timeoutError struct{}

func (timeoutError) Error() string { return "i/o timeout" }
func (timeoutError) Timeout() bool { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}

// fakeConn is an in-memory websocket connection. Tests push client frames
// with send and read server events from writes.
type fakeConn struct {
	in      chan frame
	writes  chan turn.Event
	expired chan struct{}
	closedC chan struct{}

	mu         sync.Mutex
	timer      *time.Timer
	expireOnce sync.Once
	closeOnce  sync.Once
	closeCodes []int
	readLimit  int64
	writeErr   error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:      make(chan frame, 16),
		writes:  make(chan turn.Event, 256),
		expired: make(chan struct{}),
		closedC: make(chan struct{}),
	}
}

func (f *fakeConn) send(mt int, data []byte) { f.in <- frame{mt: mt, data: data} }
func (f *fakeConn) sendText(s string) { f.send(websocket.TextMessage, []byte(s)) }
func (f *fakeConn) sendAudio(n int) { f.send(websocket.BinaryMessage, make([]byte, n)) }
func (f *fakeConn) endStream() { f.send(websocket.BinaryMessage, nil) }

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case fr := <-f.in:
		if fr.err != nil {
			return 0, nil, fr.err
		}
		if fr.mt == websocket.BinaryMessage {
			f.mu.Lock()
			limit := f.readLimit
			f.mu.Unlock()
			if limit > 0 && int64(len(fr.data)) > limit {
				return 0, nil, websocket.ErrReadLimit
			}
		}
		return fr.mt, fr.data, nil
	case <-f.expired:
		return 0, nil, timeoutError{}
	case <-f.closedC:
		return 0, nil, io.ErrUnexpectedEOF
	}
}

func (f *fakeConn) WriteMessage(mt int, data []byte) error {
	f.mu.Lock()
	err := f.writeErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	var ev turn.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	f.writes <- ev
	return nil
}

func (f *fakeConn) WriteControl(mt int, data []byte, deadline time.Time) error {
	if mt == websocket.CloseMessage && len(data) >= 2 {
		f.mu.Lock()
		f.closeCodes = append(f.closeCodes, int(data[0])<<8|int(data[1]))
		f.mu.Unlock()
	}
	return nil
}

func (f *fakeConn) SetReadDeadline(t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	if t.IsZero() {
		return nil
	}
	d := time.Until(t)
	if d <= 0 {
		f.expire()
		return nil
	}
	f.timer = time.AfterFunc(d, f.expire)
	return nil
}

func (f *fakeConn) expire() { f.expireOnce.Do(func() { close(f.expired) }) }

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) SetReadLimit(limit int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readLimit = limit
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closedC) })
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.timer != nil {
		f.timer.Stop()
	}
	return nil
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closedC:
		return true
	default:
		return false
	}
}

func (f *fakeConn) codes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.closeCodes...)
}

// next waits for the next outbound event.
func (f *fakeConn) next(t *testing.T) turn.Event {
	t.Helper()
	select {
	case ev := <-f.writes:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound event")
		return turn.Event{}
	}
}

// untilTerminal collects events up to and including the next end or error.
func (f *fakeConn) untilTerminal(t *testing.T) []turn.Event {
	t.Helper()
	var out []turn.Event
	for {
		ev := f.next(t)
		out = append(out, ev)
		if ev.Terminal() {
			return out
		}
	}
}

// fakeAdapter captures the callback so tests can inject transcripts.
type fakeAdapter struct {
	mu       sync.Mutex
	cb       stt.Callback
	audio    int
	closed   bool
	startErr error
	sendErr  error
	started  chan struct{}
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{started: make(chan struct{})}
}

func (a *fakeAdapter) Start(ctx context.Context, cb stt.Callback) error {
	if a.startErr != nil {
		return a.startErr
	}
	a.mu.Lock()
	a.cb = cb
	a.mu.Unlock()
	close(a.started)
	return nil
}

func (a *fakeAdapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.audio += len(audio)
	return a.sendErr
}

func (a *fakeAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return errors.New("provider already gone")
}

func (a *fakeAdapter) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-a.started:
	case <-time.After(2 * time.Second):
		t.Fatal("adapter was not started")
	}
}

func (a *fakeAdapter) callback() stt.Callback {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cb
}

func (a *fakeAdapter) final(text string) {
	a.callback().OnTranscript(stt.Event{Text: text, Final: true})
}

func (a *fakeAdapter) partial(text string) {
	a.callback().OnTranscript(stt.Event{Text: text})
}

func (a *fakeAdapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *fakeAdapter) audioBytes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.audio
}

// scriptStream replays fragments, optionally failing at the end, and can be
// held open until release is closed.
type scriptStream struct {
	parts   []string
	err     error
	release chan struct{}
}

func (s *scriptStream) Recv() (llm.Delta, error) {
	if s.release != nil {
		<-s.release
		s.release = nil
	}
	if len(s.parts) > 0 {
		p := s.parts[0]
		s.parts = s.parts[1:]
		return llm.Delta{Text: p}, nil
	}
	if s.err != nil {
		return llm.Delta{}, s.err
	}
	return llm.Delta{}, io.EOF
}

func (s *scriptStream) Close() error { return nil }

// scriptEngine builds a fresh stream for every call.
type scriptEngine struct {
	mu     sync.Mutex
	calls  int
	parts  []string
	err    error
	gate   chan struct{}
	called chan struct{}
}

func (e *scriptEngine) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.called != nil {
		e.called <- struct{}{}
	}
	return &scriptStream{parts: append([]string(nil), e.parts...), err: e.err, release: e.gate}, nil
}

func (e *scriptEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type harness struct {
	conn    *fakeConn
	adapter *fakeAdapter
	engine  *scriptEngine
	store   *session.Store
	ctrl    *Controller
	done    chan error
}

func newHarness(t *testing.T, engine *scriptEngine, mutate func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		conn:    newFakeConn(),
		adapter: newFakeAdapter(),
		engine:  engine,
		store:   session.NewStore(),
		done:    make(chan error, 1),
	}

	m := metrics.NewMetrics(prometheus.NewRegistry())
	cfg := DefaultConfig()
	cfg.Debounce = debounce.Config{MinChars: 5, Quiescence: 0}
	cfg.TurnDrainTimeout = 2 * time.Second

	deps := Deps{
		Store: h.store,
		Turns: turn.NewProcessor(engine, turn.Config{}, turn.WithMetrics(m)),
		NewAdapter: func(ctx context.Context, sessionID string) (stt.Adapter, error) {
			return h.adapter, nil
		},
		Metrics: m,
		Config:  cfg,
	}
	if mutate != nil {
		mutate(&deps)
	}
	h.ctrl = New(h.conn, deps)
	return h
}

func (h *harness) serve() {
	go func() { h.done <- h.ctrl.Serve(context.Background()) }()
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}
