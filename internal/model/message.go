package model

// DefaultEventType is the SSE event type of messages sent without one.
const DefaultEventType = "message"

// Message is one event received over the SSE stream.
type Message struct {
	ID    string
	Event string
	Data  string
}
