package orchestrator

import "encoding/json"

type EventType string

const (
	EventStatus EventType = "status"
	EventNotice EventType = "notice"
	EventToken  EventType = "token"
	EventError  EventType = "error"
	EventFinal  EventType = "final"
	EventJob    EventType = "job"
)

// Event is one line of the send stream. Which fields are set depends on Type.
type Event struct {
	Type     EventType
	Text     string
	Raw      string
	Answer   string
	Thinking *string
	JobID    string
}

// Terminal reports whether the event ends a stream.
func (e Event) Terminal() bool {
	return e.Type == EventFinal || e.Type == EventError
}

// MarshalJSON writes only the fields that belong to the event type. A final
// event always carries thinking, null when the output had none.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventFinal:
		return json.Marshal(struct {
			Type     EventType `json:"type"`
			Raw      string    `json:"raw"`
			Answer   string    `json:"answer"`
			Thinking *string   `json:"thinking"`
		}{e.Type, e.Raw, e.Answer, e.Thinking})
	case EventJob:
		return json.Marshal(struct {
			Type  EventType `json:"type"`
			JobID string    `json:"job_id"`
		}{e.Type, e.JobID})
	default:
		return json.Marshal(struct {
			Type EventType `json:"type"`
			Text string    `json:"text"`
		}{e.Type, e.Text})
	}
}

func status(text string) Event { return Event{Type: EventStatus, Text: text} }
func notice(text string) Event { return Event{Type: EventNotice, Text: text} }
