// Package assemblyai implements stt.Adapter on AssemblyAI Universal Streaming (v3).
package assemblyai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ai-voice-bridge-service/internal/service/stt"
)

const (
	// DefaultURL is the Universal Streaming endpoint.
	DefaultURL = "wss://streaming.assemblyai.com/v3/ws"

	// 50ms of 16-bit mono audio at 16 kHz, the smallest chunk the API accepts.
	defaultMinChunkBytes = 1600
)

// Config holds AssemblyAI connection settings.
type Config struct {
	APIKey     string
	SampleRate int
	URL        string
	// FormatTurns requests punctuated finals. The unformatted end-of-turn
	// message is then reported as a partial so only one final arrives per turn.
	FormatTurns   bool
	MinChunkBytes int
}

// DefaultConfig returns settings for 16 kHz PCM with formatted turns.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:        apiKey,
		SampleRate:    16000,
		URL:           DefaultURL,
		FormatTurns:   true,
		MinChunkBytes: defaultMinChunkBytes,
	}
}

type beginMessage struct {
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type turnMessage struct {
	TurnOrder       int    `json:"turn_order"`
	Transcript      string `json:"transcript"`
	EndOfTurn       bool   `json:"end_of_turn"`
	TurnIsFormatted bool   `json:"turn_is_formatted"`
}

// Adapter streams PCM audio to AssemblyAI and reports Turn messages as events.
type Adapter struct {
	cfg    Config
	logger zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	buf    []byte
	closed bool
	done   chan struct{}
}

// New creates a new AssemblyAI adapter.
func New(cfg Config) *Adapter {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.MinChunkBytes <= 0 {
		cfg.MinChunkBytes = defaultMinChunkBytes
	}
	return &Adapter{
		cfg:    cfg,
		logger: log.With().Str("component", "assemblyai").Logger(),
	}
}

// Start dials the streaming endpoint and starts reading results.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	u, err := url.Parse(a.cfg.URL)
	if err != nil {
		return fmt.Errorf("assemblyai: invalid url: %w", err)
	}
	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(a.cfg.SampleRate))
	q.Set("format_turns", strconv.FormatBool(a.cfg.FormatTurns))
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", a.cfg.APIKey)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return fmt.Errorf("assemblyai connection failed: %w", err)
	}

	a.mu.Lock()
	a.conn = conn
	a.done = make(chan struct{})
	a.buf = make([]byte, 0, a.cfg.MinChunkBytes*2)
	done := a.done
	a.mu.Unlock()

	go a.readLoop(conn, cb, done)
	return nil
}

func (a *Adapter) readLoop(conn *websocket.Conn, cb stt.Callback, done chan struct{}) {
	defer close(done)
	defer cb.OnClose()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if a.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			cb.OnError(fmt.Errorf("assemblyai read: %w", err))
			return
		}

		var base struct {
			Type  string `json:"type"`
			Error string `json:"error"`
		}
		if err := json.Unmarshal(message, &base); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to parse message")
			continue
		}

		switch base.Type {
		case "Begin":
			var begin beginMessage
			if err := json.Unmarshal(message, &begin); err == nil {
				cb.OnOpen(stt.SessionInfo{ID: begin.ID, ExpiresAt: time.Unix(begin.ExpiresAt, 0)})
			}

		case "Turn":
			var turn turnMessage
			if err := json.Unmarshal(message, &turn); err != nil {
				a.logger.Warn().Err(err).Msg("Failed to parse Turn")
				continue
			}
			final := turn.EndOfTurn && (!a.cfg.FormatTurns || turn.TurnIsFormatted)
			if turn.Transcript == "" && !final {
				continue
			}
			cb.OnTranscript(stt.Event{Text: turn.Transcript, Final: final})

		case "Termination":
			return

		default:
			if base.Error != "" {
				cb.OnError(errors.New("assemblyai: " + base.Error))
			}
		}
	}
}

func (a *Adapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// SendAudio buffers PCM until at least MinChunkBytes are available, then sends them.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.conn == nil {
		return errors.New("assemblyai: not connected")
	}

	a.buf = append(a.buf, audio...)
	if len(a.buf) < a.cfg.MinChunkBytes {
		return nil
	}
	err := a.conn.WriteMessage(websocket.BinaryMessage, a.buf)
	a.buf = a.buf[:0]
	return err
}

// Close flushes buffered audio, asks the server to terminate and closes the socket.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed || a.conn == nil {
		a.closed = true
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	conn, done := a.conn, a.done

	if len(a.buf) > 0 {
		_ = conn.WriteMessage(websocket.BinaryMessage, a.buf)
		a.buf = a.buf[:0]
	}
	err := conn.WriteJSON(map[string]string{"type": "Terminate"})
	a.mu.Unlock()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		a.logger.Warn().Msg("Timed out waiting for termination")
	}

	if cerr := conn.Close(); err == nil {
		err = cerr
	}
	return err
}
