package mock

import (
	"context"
	"sync"
	"testing"
	"time"

	"ai-voice-bridge-service/internal/service/stt"
)

var script = []SimulatedUtterance{
	{Partials: []string{"remind", "remind me"}, Final: "remind me to call mom"},
	{Partials: []string{"thanks"}, Final: "thanks a lot"},
}

// started returns a scripted adapter, positioned on the first utterance,
// feeding a fresh sink.
func started(t *testing.T, opts ...Option) (*Adapter, *stt.Sink) {
	t.Helper()
	a := New(append([]Option{WithUtterances(script), WithDelay(0)}, opts...)...)
	a.current = 0

	sink := stt.NewSink(32)
	if err := a.Start(context.Background(), sink); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a, sink
}

func feed(a *Adapter, frames int) {
	for i := 0; i < frames; i++ {
		_ = a.SendAudio(context.Background(), make([]byte, 320))
	}
}

// collect reads n events or fails after a second.
func collect(t *testing.T, sink *stt.Sink, n int) []stt.Event {
	t.Helper()
	var out []stt.Event
	timeout := time.After(time.Second)
	for len(out) < n {
		select {
		case ev := <-sink.Events():
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("got %d of %d events: %+v", len(out), n, out)
		}
	}
	return out
}

func TestAdapter_StartOpensSession(t *testing.T) {
	_, sink := started(t)

	select {
	case info := <-sink.Opened():
		if info.ID != "mock-session" {
			t.Errorf("session id = %q", info.ID)
		}
	default:
		t.Fatal("OnOpen not delivered by Start")
	}
}

func TestAdapter_PartialsThenFinal(t *testing.T) {
	a, sink := started(t)
	feed(a, 3)

	got := collect(t, sink, 3)
	want := []stt.Event{
		{Text: "remind"},
		{Text: "remind me"},
		{Text: "remind me to call mom", Final: true},
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestAdapter_CyclesToNextUtterance(t *testing.T) {
	a, sink := started(t)

	// Three steps for the first utterance, two for the second.
	feed(a, 5)

	var finals []string
	for _, ev := range collect(t, sink, 5) {
		if ev.Final {
			finals = append(finals, ev.Text)
		}
	}
	if len(finals) != 2 || finals[0] != "remind me to call mom" || finals[1] != "thanks a lot" {
		t.Errorf("finals = %v", finals)
	}
}

func TestAdapter_FramesPerStep(t *testing.T) {
	a, sink := started(t, WithFramesPerStep(4))

	feed(a, 3)
	select {
	case ev := <-sink.Events():
		t.Fatalf("event before 4 frames: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	feed(a, 1)
	if got := collect(t, sink, 1); got[0].Text != "remind" {
		t.Errorf("first step = %+v", got[0])
	}
}

func TestAdapter_StartingUtteranceRotates(t *testing.T) {
	first := New(WithUtterances(script))
	second := New(WithUtterances(script))
	if first.current == second.current {
		t.Errorf("consecutive adapters both start at utterance %d", first.current)
	}
}

func TestAdapter_CloseIdempotent(t *testing.T) {
	a, sink := started(t)

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	select {
	case <-sink.Closed():
	default:
		t.Error("OnClose not delivered")
	}
}

func TestAdapter_SendAudioAfterCloseIsNoop(t *testing.T) {
	a, sink := started(t)
	a.Close()

	if err := a.SendAudio(context.Background(), []byte("audio")); err != nil {
		t.Fatalf("SendAudio after Close: %v", err)
	}
	select {
	case ev := <-sink.Events():
		t.Errorf("event after Close: %+v", ev)
	default:
	}
}

func TestAdapter_NotStarted(t *testing.T) {
	a := New()

	if err := a.SendAudio(context.Background(), []byte("audio")); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestDefaultUtterances(t *testing.T) {
	for i, utt := range DefaultUtterances {
		if len(utt.Partials) == 0 || utt.Final == "" {
			t.Errorf("utterance %d incomplete: %+v", i, utt)
		}
		// Finals must survive the debouncer's noise filter.
		if len([]rune(utt.Final)) <= 5 {
			t.Errorf("utterance %d final %q too short", i, utt.Final)
		}
	}
}

func TestAdapter_ConcurrentSendAudio(t *testing.T) {
	a, _ := started(t, WithDelay(time.Millisecond))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			feed(a, 5)
		}()
	}
	wg.Wait()

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
