package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ai-voice-bridge-service/internal/service/llm"
)

func sseServer(t *testing.T, chunks []string, capture *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if capture != nil {
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, capture)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func contentChunk(text string) string {
	return fmt.Sprintf(`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":%q}}]}`, text)
}

func toolChunk(index int, id, name, args string) string {
	return fmt.Sprintf(`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":%d,"id":%q,"type":"function","function":{"name":%q,"arguments":%q}}]}}]}`, index, id, name, args)
}

func newTestEngine(t *testing.T, url string) *Engine {
	t.Helper()
	e, err := New(Config{APIKey: "test", BaseURL: url + "/v1", Model: "test-model", MaxTokens: 150, Temperature: 0.7})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func drain(t *testing.T, s llm.Stream) []llm.Delta {
	t.Helper()
	defer s.Close()
	var out []llm.Delta
	for {
		d, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		out = append(out, d)
	}
}

func TestEngine_StreamsText(t *testing.T) {
	var req map[string]any
	srv := sseServer(t, []string{contentChunk("Sure, "), contentChunk(""), contentChunk("done.")}, &req)
	e := newTestEngine(t, srv.URL)

	s, err := e.Stream(context.Background(), llm.Request{Messages: []llm.Message{
		{Role: llm.RoleSystem, Content: "be brief"},
		{Role: llm.RoleUser, Content: "remind me to call mom"},
	}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	deltas := drain(t, s)
	if len(deltas) != 2 || deltas[0].Text != "Sure, " || deltas[1].Text != "done." {
		t.Errorf("unexpected deltas: %+v", deltas)
	}

	if req["model"] != "test-model" || req["stream"] != true {
		t.Errorf("unexpected request: %v", req)
	}
	if _, ok := req["tools"]; ok {
		t.Error("tools should be omitted when none are given")
	}
}

func TestEngine_AssemblesToolCalls(t *testing.T) {
	var req map[string]any
	srv := sseServer(t, []string{
		toolChunk(0, "call_1", "create_task", `{"content":`),
		toolChunk(1, "call_2", "get_current_tasks", `{}`),
		toolChunk(0, "", "", `"call mom"}`),
	}, &req)
	e := newTestEngine(t, srv.URL)

	s, err := e.Stream(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "add call mom"}},
		Tools: []llm.Tool{{
			Name:        "create_task",
			Description: "Create a task",
			Parameters:  map[string]any{"type": "object"},
		}},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	deltas := drain(t, s)
	if len(deltas) != 1 {
		t.Fatalf("expected a single tool-call delta, got %+v", deltas)
	}
	calls := deltas[0].ToolCalls
	if len(calls) != 2 {
		t.Fatalf("expected 2 tool calls, got %+v", calls)
	}
	if calls[0].ID != "call_1" || calls[0].Name != "create_task" || calls[0].Arguments != `{"content":"call mom"}` {
		t.Errorf("unexpected first call: %+v", calls[0])
	}
	if calls[1].Name != "get_current_tasks" {
		t.Errorf("unexpected second call: %+v", calls[1])
	}

	tools, ok := req["tools"].([]any)
	if !ok || len(tools) != 1 {
		t.Errorf("expected tools in request, got %v", req["tools"])
	}
}

func TestEngine_ForwardsToolMessages(t *testing.T) {
	var req map[string]any
	srv := sseServer(t, []string{contentChunk("ok")}, &req)
	e := newTestEngine(t, srv.URL)

	s, err := e.Stream(context.Background(), llm.Request{Messages: []llm.Message{
		{Role: llm.RoleUser, Content: "add it"},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "create_task", Arguments: "{}"}}},
		{Role: llm.RoleTool, ToolCallID: "call_1", Content: `{"id":"1"}`},
	}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	drain(t, s)

	msgs, _ := req["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %v", req["messages"])
	}
	assistant := msgs[1].(map[string]any)
	if calls, _ := assistant["tool_calls"].([]any); len(calls) != 1 {
		t.Errorf("assistant tool_calls not forwarded: %v", assistant)
	}
	tool := msgs[2].(map[string]any)
	if tool["tool_call_id"] != "call_1" || tool["role"] != "tool" {
		t.Errorf("unexpected tool message: %v", tool)
	}
}

func TestEngine_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"model overloaded","type":"server_error"}}`)
	}))
	defer srv.Close()

	e := newTestEngine(t, srv.URL)
	_, err := e.Stream(context.Background(), llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi there"}}})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "model overloaded") {
		t.Errorf("expected upstream message in error, got %v", err)
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for missing api key")
	}
}
