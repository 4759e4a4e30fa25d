// Package session holds per-connection conversational state and the
// process-wide store that indexes it.
package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultHistoryLimit is the number of turns kept per session.
const DefaultHistoryLimit = 10

// Task is an entity owned by the external task API, kept as raw JSON fields.
type Task map[string]any

// ID returns the task id as a string, or "" when absent.
func (t Task) ID() string {
	switch v := t["id"].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Content returns the task's content field.
func (t Task) Content() string {
	s, _ := t["content"].(string)
	return s
}

func (t Task) clone() Task {
	out := make(Task, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// TurnRecord is one completed utterance/response exchange.
type TurnRecord struct {
	Utterance string
	Response  string
}

// Session is the server-side state of one client connection.
type Session struct {
	id        string
	authToken string
	createdAt time.Time
	limit     int
	turns     atomic.Uint64

	mu       sync.Mutex
	projects []string
	tasks    []Task
	history  []TurnRecord
	closer   func()
	closed   bool
}

// Option configures a Session.
type Option func(*Session)

// WithHistoryLimit overrides DefaultHistoryLimit.
func WithHistoryLimit(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithCloser registers the hook invoked by Close, typically the
// controller's cancel func.
func WithCloser(fn func()) Option {
	return func(s *Session) { s.closer = fn }
}

// New creates a session seeded with the handshake snapshots.
func New(id, authToken string, projects []string, tasks []Task, opts ...Option) *Session {
	s := &Session{
		id:        id,
		authToken: authToken,
		createdAt: time.Now(),
		limit:     DefaultHistoryLimit,
		projects:  append([]string(nil), projects...),
	}
	for _, t := range tasks {
		s.tasks = append(s.tasks, t.clone())
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// AuthToken returns the opaque credential supplied at handshake.
func (s *Session) AuthToken() string { return s.authToken }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

// NextTurn returns the 1-based number of the next turn in this session.
func (s *Session) NextTurn() uint64 { return s.turns.Add(1) }

// Projects returns a copy of the project names.
func (s *Session) Projects() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.projects...)
}

// Tasks returns a copy of the cached tasks.
func (s *Session) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.clone())
	}
	return out
}

// AddProject appends a project name.
func (s *Session) AddProject(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects = append(s.projects, name)
}

// UpsertTask replaces the task with the same id, or appends it.
func (s *Session) UpsertTask(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t = t.clone()
	if id := t.ID(); id != "" {
		for i := range s.tasks {
			if s.tasks[i].ID() == id {
				s.tasks[i] = t
				return
			}
		}
	}
	s.tasks = append(s.tasks, t)
}

// History returns the retained turns, oldest first.
func (s *Session) History() []TurnRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TurnRecord(nil), s.history...)
}

// AppendTurn records a completed turn, evicting the oldest beyond the limit.
func (s *Session) AppendTurn(utterance, response string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, TurnRecord{Utterance: utterance, Response: response})
	if over := len(s.history) - s.limit; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}
}

// Close invokes the closer hook once. Safe to call from any goroutine.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	fn := s.closer
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Info is a redacted view of a session for introspection endpoints.
type Info struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Turns     int       `json:"turns"`
	Projects  int       `json:"projects"`
	Tasks     int       `json:"tasks"`
}

// Info returns the redacted view. The auth token is never included.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:        s.id,
		CreatedAt: s.createdAt,
		Turns:     len(s.history),
		Projects:  len(s.projects),
		Tasks:     len(s.tasks),
	}
}
