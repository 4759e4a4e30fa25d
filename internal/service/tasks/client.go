// Package tasks calls the external task-management API and exposes it to the
// completion engine as session-bound tools.
package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ai-voice-bridge-service/internal/service/session"
)

// StatusError is returned when the task API answers with a non-2xx status.
type StatusError struct {
	Op   string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed: HTTP %d", e.Op, e.Code)
}

// ErrNoBaseURL is returned when the client has no API endpoint configured.
var ErrNoBaseURL = errors.New("task api base url not configured")

// TaskInput is the body of a task create or update.
type TaskInput struct {
	Content     string  `json:"content"`
	Description string  `json:"description"`
	IsCompleted *bool   `json:"is_completed,omitempty"`
	Priority    int     `json:"priority"`
	ProjectID   int     `json:"project_id"`
	DueDate     *string `json:"due_date"`
	ReminderAt  *string `json:"reminder_at"`
}

// asTask is the session view of an input the API accepted without echoing
// the entity back.
func (in TaskInput) asTask() session.Task {
	t := session.Task{
		"content":     in.Content,
		"description": in.Description,
		"priority":    in.Priority,
		"project_id":  in.ProjectID,
	}
	if in.IsCompleted != nil {
		t["is_completed"] = *in.IsCompleted
	}
	if in.DueDate != nil {
		t["due_date"] = *in.DueDate
	}
	if in.ReminderAt != nil {
		t["reminder_at"] = *in.ReminderAt
	}
	return t
}

// ProjectInput is the body of a project create.
type ProjectInput struct {
	Name       string `json:"name"`
	Color      string `json:"color"`
	IsFavorite bool   `json:"is_favorite"`
	ViewStyle  string `json:"view_style"`
}

// Project is a created project as returned by the API.
type Project struct {
	ID   any    `json:"id"`
	Name string `json:"name"`
}

// Client is a thin REST client for the task API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for baseURL with the given request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// CreateTask posts a new task. An empty or null 2xx body yields an empty,
// non-nil Task.
func (c *Client) CreateTask(ctx context.Context, token string, in TaskInput) (session.Task, error) {
	var out session.Task
	if err := c.do(ctx, http.MethodPost, "/todo/tasks/", token, in, &out, "Task creation"); err != nil {
		return nil, err
	}
	if out == nil {
		out = session.Task{}
	}
	return out, nil
}

// UpdateTask replaces the task with the given id. An empty or null 2xx body
// yields an empty, non-nil Task.
func (c *Client) UpdateTask(ctx context.Context, token, id string, in TaskInput) (session.Task, error) {
	var out session.Task
	if err := c.do(ctx, http.MethodPut, "/todo/tasks/"+url.PathEscape(id), token, in, &out, "Task update"); err != nil {
		return nil, err
	}
	if out == nil {
		out = session.Task{}
	}
	return out, nil
}

// CreateProject posts a new project.
func (c *Client) CreateProject(ctx context.Context, token string, in ProjectInput) (Project, error) {
	var out Project
	err := c.do(ctx, http.MethodPost, "/todo/projects/", token, in, &out, "Project creation")
	return out, err
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any, op string) error {
	if c.baseURL == "" {
		return ErrNoBaseURL
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", strings.ToLower(op), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{Op: op, Code: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s response: %w", strings.ToLower(op), err)
	}
	return nil
}
