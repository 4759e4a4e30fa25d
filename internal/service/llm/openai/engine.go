// Package openai implements llm.Engine on the OpenAI chat completions API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	goopenai "github.com/sashabaranov/go-openai"

	"ai-voice-bridge-service/internal/service/llm"
)

// Config holds model and endpoint settings.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Engine streams chat completions.
type Engine struct {
	client *goopenai.Client
	cfg    Config
}

// New creates an engine. BaseURL overrides the default endpoint.
func New(cfg Config) (*Engine, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = goopenai.GPT3Dot5Turbo
	}

	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Engine{client: goopenai.NewClientWithConfig(clientCfg), cfg: cfg}, nil
}

// Stream starts a streaming completion for req.
func (e *Engine) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	creq := goopenai.ChatCompletionRequest{
		Model:       e.cfg.Model,
		Messages:    convertMessages(req.Messages),
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: float32(e.cfg.Temperature),
		Stream:      true,
	}
	if len(req.Tools) > 0 {
		creq.Tools = convertTools(req.Tools)
	}

	s, err := e.client.CreateChatCompletionStream(ctx, creq)
	if err != nil {
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}
	return &stream{s: s, calls: make(map[int]*llm.ToolCall)}, nil
}

func convertMessages(msgs []llm.Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		cm := goopenai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, goopenai.ToolCall{
				ID:   tc.ID,
				Type: goopenai.ToolTypeFunction,
				Function: goopenai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, cm)
	}
	return out
}

func convertTools(tools []llm.Tool) []goopenai.Tool {
	out := make([]goopenai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// stream adapts the SSE stream. Tool call fragments are assembled by index
// and delivered as one delta just before io.EOF.
type stream struct {
	s       *goopenai.ChatCompletionStream
	calls   map[int]*llm.ToolCall
	flushed bool
}

func (st *stream) Recv() (llm.Delta, error) {
	for {
		resp, err := st.s.Recv()
		if errors.Is(err, io.EOF) {
			if !st.flushed && len(st.calls) > 0 {
				st.flushed = true
				return llm.Delta{ToolCalls: st.assembled()}, nil
			}
			return llm.Delta{}, io.EOF
		}
		if err != nil {
			return llm.Delta{}, err
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta
		for i, tc := range delta.ToolCalls {
			idx := i
			if tc.Index != nil {
				idx = *tc.Index
			}
			call, ok := st.calls[idx]
			if !ok {
				call = &llm.ToolCall{}
				st.calls[idx] = call
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			call.Arguments += tc.Function.Arguments
		}

		if delta.Content != "" {
			return llm.Delta{Text: delta.Content}, nil
		}
	}
}

func (st *stream) assembled() []llm.ToolCall {
	idx := make([]int, 0, len(st.calls))
	for i := range st.calls {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	out := make([]llm.ToolCall, 0, len(idx))
	for _, i := range idx {
		out = append(out, *st.calls[i])
	}
	return out
}

func (st *stream) Close() error {
	st.s.Close()
	return nil
}
