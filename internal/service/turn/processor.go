// Package turn drives one conversational turn: prompt, streamed completion,
// optional tool calls, and the ordered start/chunk/end|error events.
package turn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-bridge-service/internal/models"
	"ai-voice-bridge-service/internal/observability/logging"
	"ai-voice-bridge-service/internal/observability/metrics"
	"ai-voice-bridge-service/internal/service/llm"
	"ai-voice-bridge-service/internal/service/session"
	"ai-voice-bridge-service/internal/service/tasks"
)

// DefaultMaxToolRounds bounds engine re-invocations after tool calls.
const DefaultMaxToolRounds = 5

// DefaultPublishTimeout bounds each audit publish.
const DefaultPublishTimeout = 2 * time.Second

// ErrToolRounds is returned when the model keeps calling tools past the limit.
var ErrToolRounds = errors.New("tool call limit exceeded")

// Toolset executes model tool calls for one session.
type Toolset interface {
	Definitions() []llm.Tool
	Invoke(ctx context.Context, call llm.ToolCall) (tasks.Result, error)
}

// Publisher receives turn audit events.
type Publisher interface {
	PublishUtterance(ctx context.Context, key string, event any) error
	PublishTurn(ctx context.Context, key string, event any) error
}

// Config tunes the processor.
type Config struct {
	SystemPrompt   string
	MaxToolRounds  int
	// PublishTimeout bounds each audit event publish. Publishing never
	// delays turn events.
	PublishTimeout time.Duration
}

// Result summarizes a finished turn.
type Result struct {
	TurnID    string
	Response  string
	Chunks    int
	ToolCalls int
	Duration  time.Duration
	Err       error
}

// Processor runs turns. It holds no per-session state and is shared by all
// controllers.
type Processor struct {
	engine    llm.Engine
	cfg       Config
	publisher Publisher
	metrics   *metrics.Metrics

	pending sync.WaitGroup
}

// Option configures a Processor.
type Option func(*Processor)

func WithPublisher(p Publisher) Option {
	return func(pr *Processor) { pr.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(pr *Processor) { pr.metrics = m }
}

// NewProcessor creates a processor on engine.
func NewProcessor(engine llm.Engine, cfg Config, opts ...Option) *Processor {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	p := &Processor{
		engine:  engine,
		cfg:     cfg,
		metrics: metrics.DefaultMetrics,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes one turn for utterance and reports every event through emit,
// in order. tools may be nil. Failures are contained: they produce a single
// error event and are returned in Result.Err, never panics or retries.
func (p *Processor) Run(ctx context.Context, sess *session.Session, tools Toolset, utterance string, emit func(Event)) Result {
	start := time.Now()
	res := Result{TurnID: TurnID(sess.ID(), sess.NextTurn())}
	logger := logging.WithTurn(sess.ID(), res.TurnID)

	emit(Start(utterance))
	p.publishUtterance(ctx, sess.ID(), res.TurnID, utterance, logger)

	system := SystemInstruction(p.cfg.SystemPrompt, sess, tools != nil)
	msgs := BuildMessages(system, sess.History(), utterance)

	res.Response, res.Err = p.converse(ctx, msgs, tools, &res, start, emit)
	res.Duration = time.Since(start)

	outcome := models.OutcomeEnd
	if res.Err != nil {
		outcome = models.OutcomeError
		emit(Failure(res.Err))
		logger.Error().Err(res.Err).Dur("duration", res.Duration).Int("chunks", res.Chunks).Msg("Turn failed")
	} else {
		emit(End())
		sess.AppendTurn(utterance, res.Response)
		logger.Info().Dur("duration", res.Duration).Int("chunks", res.Chunks).Int("toolCalls", res.ToolCalls).Msg("Turn completed")
	}

	p.metrics.RecordTurn(outcome, res.Duration.Seconds())
	p.publishTurn(ctx, sess.ID(), utterance, outcome, res, logger)
	return res
}

func (p *Processor) converse(ctx context.Context, msgs []llm.Message, tools Toolset, res *Result, start time.Time, emit func(Event)) (string, error) {
	if p.engine == nil {
		return "", llm.ErrNoEngine
	}

	var defs []llm.Tool
	if tools != nil {
		defs = tools.Definitions()
	}

	var full strings.Builder
	for round := 0; ; round++ {
		text, calls, err := p.streamOnce(ctx, llm.Request{Messages: msgs, Tools: defs}, res, start, emit)
		full.WriteString(text)
		if err != nil {
			return full.String(), err
		}
		if len(calls) == 0 || tools == nil {
			return full.String(), nil
		}
		if round >= p.cfg.MaxToolRounds {
			return full.String(), fmt.Errorf("%w (%d rounds)", ErrToolRounds, p.cfg.MaxToolRounds)
		}

		msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: text, ToolCalls: calls})
		for _, call := range calls {
			out, err := tools.Invoke(ctx, call)
			res.ToolCalls++
			if err != nil {
				p.metrics.RecordToolCall(call.Name, "failed")
				return full.String(), fmt.Errorf("tool %s: %w", call.Name, err)
			}
			status := "ok"
			if out.IsError {
				status = "rejected"
			}
			p.metrics.RecordToolCall(call.Name, status)
			msgs = append(msgs, llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Content: out.Content})
		}
	}
}

// streamOnce consumes one engine stream, emitting a chunk per text fragment.
func (p *Processor) streamOnce(ctx context.Context, req llm.Request, res *Result, start time.Time, emit func(Event)) (string, []llm.ToolCall, error) {
	stream, err := p.engine.Stream(ctx, req)
	if err != nil {
		return "", nil, err
	}
	defer stream.Close()

	var text strings.Builder
	var calls []llm.ToolCall
	for {
		d, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return text.String(), calls, nil
		}
		if err != nil {
			return text.String(), calls, err
		}

		if d.Text != "" {
			if res.Chunks == 0 {
				p.metrics.RecordFirstChunk(time.Since(start).Seconds())
			}
			text.WriteString(d.Text)
			res.Chunks++
			p.metrics.RecordChunk()
			emit(Chunk(d.Text))
		}
		calls = append(calls, d.ToolCalls...)
	}
}

// Wait blocks until every audit publish started so far has finished.
func (p *Processor) Wait() {
	p.pending.Wait()
}

// publish sends one audit event in the background with its own deadline,
// detached from the turn's cancellation.
func (p *Processor) publish(ctx context.Context, logger zerolog.Logger, kind string, send func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.PublishTimeout)
	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		defer cancel()
		if err := send(ctx); err != nil {
			logger.Warn().Err(err).Str("event", kind).Msg("Failed to publish audit event")
		}
	}()
}

func (p *Processor) publishUtterance(ctx context.Context, sessionID, turnID, utterance string, logger zerolog.Logger) {
	if p.publisher == nil {
		return
	}
	ev := models.UtteranceAccepted{
		EventType: models.EventTypeUtteranceAccepted,
		SessionID: sessionID,
		TurnID:    turnID,
		Timestamp: time.Now().UnixMilli(),
		Text:      utterance,
	}
	p.publish(ctx, logger, ev.EventType, func(ctx context.Context) error {
		return p.publisher.PublishUtterance(ctx, sessionID, ev)
	})
}

func (p *Processor) publishTurn(ctx context.Context, sessionID, utterance, outcome string, res Result, logger zerolog.Logger) {
	if p.publisher == nil {
		return
	}
	ev := models.TurnCompleted{
		EventType:  models.EventTypeTurnCompleted,
		SessionID:  sessionID,
		TurnID:     res.TurnID,
		Timestamp:  time.Now().UnixMilli(),
		Utterance:  utterance,
		Response:   res.Response,
		Outcome:    outcome,
		DurationMs: res.Duration.Milliseconds(),
		Chunks:     res.Chunks,
		ToolCalls:  res.ToolCalls,
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	p.publish(ctx, logger, ev.EventType, func(ctx context.Context) error {
		return p.publisher.PublishTurn(ctx, sessionID, ev)
	})
}
