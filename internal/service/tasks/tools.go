package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"ai-voice-bridge-service/internal/observability/logging"
	"ai-voice-bridge-service/internal/service/llm"
	"ai-voice-bridge-service/internal/service/session"
)

// ErrUnknownTool is returned when the model calls a tool that does not exist.
var ErrUnknownTool = errors.New("unknown tool")

// Tool names offered to the completion engine.
const (
	ToolCreateTask         = "create_task"
	ToolUpdateTask         = "update_task"
	ToolCreateProject      = "create_project"
	ToolGetCurrentTasks    = "get_current_tasks"
	ToolGetCurrentProjects = "get_current_projects"
)

// Result is the JSON payload fed back to the model for one tool call.
type Result struct {
	Content string
	// IsError marks API failures the model should narrate.
	IsError bool
}

// Toolset executes tool calls on behalf of exactly one session.
type Toolset struct {
	client *Client
	sess   *session.Session
	logger zerolog.Logger
}

// NewToolset binds the tools to sess. Every call uses the session's auth token
// and updates the session's cached projects and tasks.
func NewToolset(client *Client, sess *session.Session) *Toolset {
	return &Toolset{
		client: client,
		sess:   sess,
		logger: logging.WithSession(sess.ID()).With().Str("component", "tools").Logger(),
	}
}

// Definitions returns the tool schemas.
func (ts *Toolset) Definitions() []llm.Tool {
	nullableString := map[string]any{"type": []string{"string", "null"}}
	taskProps := map[string]any{
		"content":     map[string]any{"type": "string", "description": "Short task title"},
		"description": map[string]any{"type": "string"},
		"priority":    map[string]any{"type": "integer", "description": "1 (normal) to 4 (urgent)"},
		"project_id":  map[string]any{"type": "integer", "description": "Project id; Inbox is 1"},
		"due_date":    nullableString,
		"reminder_at": nullableString,
	}
	updateProps := map[string]any{
		"id":           map[string]any{"type": "string"},
		"is_completed": map[string]any{"type": "boolean"},
	}
	for k, v := range taskProps {
		updateProps[k] = v
	}
	empty := map[string]any{"type": "object", "properties": map[string]any{}}

	return []llm.Tool{
		{
			Name:        ToolCreateTask,
			Description: "Create a new task in the task manager.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": taskProps,
				"required":   []string{"content", "description", "priority", "project_id"},
			},
		},
		{
			Name:        ToolUpdateTask,
			Description: "Update an existing task.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": updateProps,
				"required":   []string{"id", "content", "description", "is_completed", "priority", "project_id"},
			},
		},
		{
			Name:        ToolCreateProject,
			Description: "Create a new project.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":        map[string]any{"type": "string"},
					"color":       map[string]any{"type": "string"},
					"is_favorite": map[string]any{"type": "boolean"},
					"view_style":  map[string]any{"type": "string", "enum": []string{"list", "board"}},
				},
				"required": []string{"name", "color", "is_favorite", "view_style"},
			},
		},
		{Name: ToolGetCurrentTasks, Description: "Retrieve the current list of tasks for the user.", Parameters: empty},
		{Name: ToolGetCurrentProjects, Description: "Retrieve the current list of projects for the user.", Parameters: empty},
	}
}

type updateArgs struct {
	ID string `json:"id"`
	TaskInput
}

// Invoke runs one tool call. API status failures come back as an error
// Result; malformed arguments, transport failures and unknown tools are
// returned as errors.
func (ts *Toolset) Invoke(ctx context.Context, call llm.ToolCall) (Result, error) {
	token := ts.sess.AuthToken()

	switch call.Name {
	case ToolCreateTask:
		var in TaskInput
		if err := decodeArgs(call, &in); err != nil {
			return Result{}, err
		}
		task, err := ts.client.CreateTask(ctx, token, in)
		if err != nil {
			return ts.failure(call.Name, err)
		}
		if len(task) == 0 {
			task = in.asTask()
		}
		ts.sess.UpsertTask(task)
		return ts.success(map[string]any{"status": "success", "task_id": task["id"]})

	case ToolUpdateTask:
		var in updateArgs
		if err := decodeArgs(call, &in); err != nil {
			return Result{}, err
		}
		if in.IsCompleted == nil {
			f := false
			in.IsCompleted = &f
		}
		task, err := ts.client.UpdateTask(ctx, token, in.ID, in.TaskInput)
		if err != nil {
			return ts.failure(call.Name, err)
		}
		if len(task) == 0 {
			task = in.TaskInput.asTask()
		}
		if task.ID() == "" {
			task["id"] = in.ID
		}
		ts.sess.UpsertTask(task)
		return ts.success(map[string]any{"status": "success"})

	case ToolCreateProject:
		var in ProjectInput
		if err := decodeArgs(call, &in); err != nil {
			return Result{}, err
		}
		project, err := ts.client.CreateProject(ctx, token, in)
		if err != nil {
			return ts.failure(call.Name, err)
		}
		name := project.Name
		if name == "" {
			name = in.Name
		}
		ts.sess.AddProject(name)
		id := project.ID
		if id == nil {
			id = 0
		}
		return ts.success(map[string]any{"status": "success", "project_id": id})

	case ToolGetCurrentTasks:
		return ts.success(map[string]any{"status": "success", "tasks": ts.sess.Tasks()})

	case ToolGetCurrentProjects:
		return ts.success(map[string]any{"status": "success", "projects": ts.sess.Projects()})

	default:
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	}
}

func decodeArgs(call llm.ToolCall, v any) error {
	args := call.Arguments
	if args == "" {
		args = "{}"
	}
	if err := json.Unmarshal([]byte(args), v); err != nil {
		return fmt.Errorf("invalid arguments for %s: %w", call.Name, err)
	}
	return nil
}

func (ts *Toolset) success(payload map[string]any) (Result, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}
	return Result{Content: string(b)}, nil
}

func (ts *Toolset) failure(tool string, err error) (Result, error) {
	var se *StatusError
	if !errors.As(err, &se) {
		return Result{}, err
	}
	ts.logger.Warn().Str("tool", tool).Int("status", se.Code).Msg("Task API rejected tool call")
	b, _ := json.Marshal(map[string]string{"error": se.Error()})
	return Result{Content: string(b), IsError: true}, nil
}
