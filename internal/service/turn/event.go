package turn

// Outbound event types, in the order a turn emits them.
const (
	EventStart = "start"
	EventChunk = "chunk"
	EventEnd   = "end"
	EventError = "error"
)

// Event is one outbound message. A turn emits exactly one start, zero or
// more chunks, then exactly one end or error.
type Event struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	Transcript string `json:"transcript,omitempty"`
}

func Start(transcript string) Event { return Event{Type: EventStart, Transcript: transcript} }

// Chunk carries one response fragment, never the accumulated text.
func Chunk(text string) Event { return Event{Type: EventChunk, Text: text} }

func End() Event { return Event{Type: EventEnd} }

// Failure builds the error event for cause.
func Failure(cause error) Event {
	return Event{Type: EventError, Text: "Error: " + cause.Error()}
}

// Terminal returns true for end and error events.
func (e Event) Terminal() bool {
	return e.Type == EventEnd || e.Type == EventError
}
