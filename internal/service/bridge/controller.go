// Package bridge runs one client connection: handshake, audio ingress to the
// STT engine, transcript debouncing, turn execution and ordered event egress.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"ai-voice-bridge-service/internal/models"
	"ai-voice-bridge-service/internal/observability/logging"
	"ai-voice-bridge-service/internal/observability/metrics"
	"ai-voice-bridge-service/internal/schema"
	"ai-voice-bridge-service/internal/service/debounce"
	"ai-voice-bridge-service/internal/service/session"
	"ai-voice-bridge-service/internal/service/stt"
	"ai-voice-bridge-service/internal/service/turn"
)

var (
	// ErrEndOfStream is returned by the ingress loop on a zero-length frame
	// or a normal close from the client.
	ErrEndOfStream = errors.New("end of audio stream")
	// ErrFrameTooLarge is returned when a binary frame exceeds MaxFrameBytes.
	ErrFrameTooLarge = errors.New("audio frame too large")
	// ErrSTTClosed is returned when the STT provider ends its session.
	ErrSTTClosed = errors.New("stt session closed")
)

// Config holds per-connection limits and timings.
type Config struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	TurnDrainTimeout time.Duration
	Debounce         debounce.Config
	HistoryLimit     int
	EventBuffer      int
	OutboundBuffer   int
	MaxFrameBytes    int64
	// Provider names the STT provider in logs and metrics.
	Provider string
}

// DefaultConfig returns the standard connection settings.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     20 * time.Second,
		TurnDrainTimeout: 30 * time.Second,
		Debounce:         debounce.DefaultConfig(),
		HistoryLimit:     session.DefaultHistoryLimit,
		EventBuffer:      64,
		OutboundBuffer:   256,
		MaxFrameBytes:    1024 * 1024,
		Provider:         "mock",
	}
}

// TurnRunner executes one conversational turn.
type TurnRunner interface {
	Run(ctx context.Context, sess *session.Session, tools turn.Toolset, utterance string, emit func(turn.Event)) turn.Result
}

// AdapterFactory builds an STT adapter for a new session.
type AdapterFactory func(ctx context.Context, sessionID string) (stt.Adapter, error)

// ToolsetFactory binds tools to a session. Returning nil disables tools.
type ToolsetFactory func(sess *session.Session) turn.Toolset

// Deps are the collaborators shared by every controller.
type Deps struct {
	Store      *session.Store
	Validator  *schema.Validator
	Turns      TurnRunner
	NewAdapter AdapterFactory
	NewToolset ToolsetFactory
	Metrics    *metrics.Metrics
	Config     Config
}

// Controller owns the lifecycle of one client connection.
//
// State transitions:
//
//	CONNECTING → HANDSHAKING → STREAMING → CLOSING → CLOSED
//
// A failed handshake or STT start goes straight to CLOSING. Cleanup always
// runs and always ends in CLOSED.
type Controller struct {
	deps   Deps
	cfg    Config
	conn   Conn
	logger zerolog.Logger

	mu    sync.Mutex
	state State

	sess    *session.Session
	adapter stt.Adapter
	out     *outbound
	deb     *debounce.Debouncer
	tools   turn.Toolset

	turnCtx    context.Context
	turnCancel context.CancelFunc
	turnWG     sync.WaitGroup
}

// New creates a controller for an accepted connection.
func New(conn Conn, deps Deps) *Controller {
	if deps.Metrics == nil {
		deps.Metrics = metrics.DefaultMetrics
	}
	if deps.Validator == nil {
		deps.Validator = schema.New()
	}
	return &Controller{
		deps:   deps,
		cfg:    deps.Config,
		conn:   conn,
		logger: logging.WithComponent("bridge"),
		state:  StateConnecting,
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the session id once the handshake succeeded.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.ID()
}

func (c *Controller) transition(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !canTransition(c.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.state, to)
	}
	c.logger.Debug().Str("from", c.state.String()).Str("to", to.String()).Msg("State transition")
	c.state = to
	return nil
}

// Serve runs the connection until it ends and returns the reason streaming
// stopped. ErrEndOfStream marks a clean end. The connection is closed on return.
func (c *Controller) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	_ = c.transition(StateHandshaking)
	hs, err := c.handshake()
	if err != nil {
		c.logger.Warn().Err(err).Msg("Handshake failed")
		_ = c.transition(StateClosing)
		c.closeConn(websocket.ClosePolicyViolation, "invalid handshake")
		_ = c.transition(StateClosed)
		return err
	}

	sess := session.New(uuid.NewString(), hs.AuthToken, hs.Projects, hs.Tasks,
		session.WithHistoryLimit(c.cfg.HistoryLimit),
		session.WithCloser(cancel),
	)
	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()
	c.logger = logging.WithStream(sess.ID(), c.cfg.Provider)

	c.deps.Store.Put(sess)
	c.deps.Metrics.RecordSessionStart()
	c.logger.Info().
		Bool("hasToken", hs.AuthToken != "").
		Int("projects", len(hs.Projects)).
		Int("tasks", len(hs.Tasks)).
		Msg("Session created")

	c.out = newOutbound(c.conn, c.cfg.OutboundBuffer, c.cfg.WriteTimeout, c.cfg.PingInterval, c.deps.Metrics, c.logger)
	go c.out.run()

	c.deb = debounce.New(c.cfg.Debounce)
	c.turnCtx, c.turnCancel = context.WithCancel(context.WithoutCancel(ctx))
	if c.deps.NewToolset != nil {
		c.tools = c.deps.NewToolset(sess)
	}

	defer c.cleanup()

	sink := stt.NewSink(c.cfg.EventBuffer)
	sink.OnOverflow = func(ev stt.Event) {
		c.deps.Metrics.RecordTranscriptOverflow()
		c.logger.Warn().Bool("final", ev.Final).Msg("Transcript queue full, event dropped")
	}

	adapter, err := c.deps.NewAdapter(ctx, sess.ID())
	if err != nil {
		c.deps.Metrics.RecordSTTError(c.cfg.Provider, "init")
		c.logger.Error().Err(err).Msg("Failed to create STT adapter")
		return fmt.Errorf("create stt adapter: %w", err)
	}
	c.adapter = adapter

	if err := adapter.Start(ctx, sink); err != nil {
		c.deps.Metrics.RecordSTTError(c.cfg.Provider, "start")
		c.logger.Error().Err(err).Msg("Failed to start STT session")
		return fmt.Errorf("start stt: %w", err)
	}

	if err := c.transition(StateStreaming); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.ingress(gctx) })
	g.Go(func() error { return c.events(gctx, sink) })
	g.Go(func() error {
		// Unblocks ReadMessage once any side has stopped.
		<-gctx.Done()
		_ = c.conn.SetReadDeadline(time.Now())
		return nil
	})

	err = g.Wait()
	if errors.Is(err, ErrEndOfStream) {
		c.logger.Info().Msg("Audio stream ended")
	} else {
		c.logger.Warn().Err(err).Msg("Streaming stopped")
	}
	return err
}

func (c *Controller) handshake() (schema.Handshake, error) {
	if c.cfg.HandshakeTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	}

	mt, raw, err := c.conn.ReadMessage()
	if err != nil {
		c.deps.Metrics.RecordHandshakeFailure("read")
		return schema.Handshake{}, fmt.Errorf("%w: read: %v", schema.ErrHandshake, err)
	}
	if mt != websocket.TextMessage {
		c.deps.Metrics.RecordHandshakeFailure("binary")
		return schema.Handshake{}, fmt.Errorf("%w: expected a text message", schema.ErrHandshake)
	}

	hs, err := c.deps.Validator.ValidateHandshake(raw)
	if err != nil {
		c.deps.Metrics.RecordHandshakeFailure("invalid")
		return schema.Handshake{}, err
	}

	_ = c.conn.SetReadDeadline(time.Time{})
	if c.cfg.MaxFrameBytes > 0 {
		c.conn.SetReadLimit(c.cfg.MaxFrameBytes)
	}
	return hs, nil
}

// ingress forwards binary frames to the STT adapter, one at a time.
func (c *Controller) ingress(ctx context.Context) error {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				return ErrFrameTooLarge
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ErrEndOfStream
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}

		if mt != websocket.BinaryMessage {
			continue
		}
		if len(data) == 0 {
			return ErrEndOfStream
		}
		if c.cfg.MaxFrameBytes > 0 && int64(len(data)) > c.cfg.MaxFrameBytes {
			return ErrFrameTooLarge
		}

		c.deps.Metrics.RecordAudioReceived(len(data))
		if err := c.adapter.SendAudio(ctx, data); err != nil {
			c.deps.Metrics.RecordSTTError(c.cfg.Provider, "send")
			return fmt.Errorf("send audio: %w", err)
		}
	}
}

// events is the single consumer of the STT sink. Accepted utterances start a
// turn on their own goroutine so that events arriving meanwhile are seen by
// the debouncer and dropped as busy.
func (c *Controller) events(ctx context.Context, sink *stt.Sink) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case info := <-sink.Opened():
			c.logger.Info().Str("providerSession", info.ID).Time("expiresAt", info.ExpiresAt).Msg("STT session opened")

		case err := <-sink.Errors():
			c.deps.Metrics.RecordSTTError(c.cfg.Provider, "stream")
			return fmt.Errorf("stt: %w", err)

		case <-sink.Closed():
			return ErrSTTClosed

		case ev := <-sink.Events():
			c.deps.Metrics.RecordTranscript(ev.Final)
			d := c.deb.Offer(ev)
			if !d.Accepted {
				if d.Reason != debounce.ReasonPartial {
					c.deps.Metrics.RecordUtteranceDropped(string(d.Reason))
					c.logger.Debug().Str("reason", string(d.Reason)).Str("text", d.Text).Msg("Utterance dropped")
				}
				continue
			}
			c.deps.Metrics.RecordUtteranceAccepted()
			// Filters compare trimmed text; the turn sees the utterance as transcribed.
			c.startTurn(ev.Text)
		}
	}
}

func (c *Controller) startTurn(utterance string) {
	c.turnWG.Add(1)
	go func() {
		defer c.turnWG.Done()
		defer c.deb.Done()

		terminal := false
		emit := func(ev turn.Event) {
			terminal = terminal || ev.Terminal()
			c.out.Send(ev)
		}
		// A panicking turn must not take the process down; it ends like any
		// failed turn.
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			c.deps.Metrics.RecordTurn(models.OutcomeError, 0)
			c.logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Turn panicked")
			if !terminal {
				c.out.Send(turn.Failure(fmt.Errorf("internal error: %v", r)))
			}
		}()

		c.deps.Turns.Run(c.turnCtx, c.sess, c.tools, utterance, emit)
	}()
}

// cleanup releases everything the session holds. Failures are logged only.
func (c *Controller) cleanup() {
	if c.State() != StateClosing {
		_ = c.transition(StateClosing)
	}

	if c.adapter != nil {
		if err := c.adapter.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to close STT adapter")
		}
	}

	c.drainTurn()
	c.deb.Stop()

	c.deps.Store.Remove(c.sess.ID())
	c.deps.Metrics.RecordSessionEnd(time.Since(c.sess.CreatedAt()).Seconds())

	c.out.Close()
	c.closeConn(websocket.CloseNormalClosure, "")

	_ = c.transition(StateClosed)
	c.logger.Info().Dur("duration", time.Since(c.sess.CreatedAt())).Msg("Session closed")
}

// drainTurn lets an in-flight turn reach its terminal event, cancelling it
// after TurnDrainTimeout.
func (c *Controller) drainTurn() {
	done := make(chan struct{})
	go func() {
		c.turnWG.Wait()
		close(done)
	}()

	var timeout <-chan time.Time
	if c.cfg.TurnDrainTimeout > 0 {
		timer := time.NewTimer(c.cfg.TurnDrainTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-done:
	case <-timeout:
		c.logger.Warn().Dur("timeout", c.cfg.TurnDrainTimeout).Msg("In-flight turn did not finish, cancelling")
		c.turnCancel()
		<-done
	}
	c.turnCancel()
}

func (c *Controller) closeConn(code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	if err := c.conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Connection already closed")
	}
}
