package turn

import (
	"fmt"
	"strings"

	"ai-voice-bridge-service/internal/service/llm"
	"ai-voice-bridge-service/internal/service/session"
)

// DefaultSystemPrompt is used when no prompt is configured.
const DefaultSystemPrompt = "You are a helpful voice assistant. Respond concisely in plain text suitable for text-to-speech."

const taskManagerPrompt = `You are Jarvis, a helpful assistant for a task manager app. Respond concisely in plain text suitable for text-to-speech, avoiding JSON or action details. Use function calls for actions like creating tasks, updating tasks, creating projects, or fetching current tasks/projects.

Current projects: %s
Current tasks: %s

Rules:
- Use create_task for new tasks, assigning to 'Inbox' (project_id=1) if no project matches.
- Use update_task for task modifications.
- Use create_project for new projects.
- Use get_current_tasks or get_current_projects to fetch task/project info when asked.
- For prompts requiring multiple actions (e.g., create project and tasks), execute functions in the correct order: create project first, then tasks with the new project's ID.
- Respond in a friendly, conversational tone.`

// SystemInstruction returns the system message content. With tools enabled
// the session's current projects and task titles are listed.
func SystemInstruction(base string, sess *session.Session, withTools bool) string {
	if !withTools {
		if base == "" {
			return DefaultSystemPrompt
		}
		return base
	}

	titles := make([]string, 0)
	for _, t := range sess.Tasks() {
		titles = append(titles, t.Content())
	}
	instruction := fmt.Sprintf(taskManagerPrompt, strings.Join(sess.Projects(), ", "), strings.Join(titles, ", "))
	if base != "" {
		instruction = base + "\n\n" + instruction
	}
	return instruction
}

// BuildMessages assembles system instruction, history (oldest first) and the
// new utterance.
func BuildMessages(system string, history []session.TurnRecord, utterance string) []llm.Message {
	msgs := make([]llm.Message, 0, 2+2*len(history))
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	for _, h := range history {
		msgs = append(msgs,
			llm.Message{Role: llm.RoleUser, Content: h.Utterance},
			llm.Message{Role: llm.RoleAssistant, Content: h.Response},
		)
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: utterance})
}
