package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"localchat/internal/config"
	"localchat/internal/telemetry"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ==================== Turn ====================

// Turn is one history entry. On the wire and on disk it is a two-element
// array: ["user", "hello"].
type Turn struct {
	Role string
	Text string
}

func (t Turn) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{t.Role, t.Text})
}

func (t *Turn) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("history turn: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("history turn: want 2 elements, got %d", len(pair))
	}
	t.Role, t.Text = pair[0], pair[1]
	return nil
}

// ==================== Location ====================

// Timestamp keeps a client-supplied timestamp verbatim, whether it arrived as
// a JSON number or a string.
type Timestamp string

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*ts = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*ts = Timestamp(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	*ts = Timestamp(n.String())
	return nil
}

type Location struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Timestamp Timestamp `json:"timestamp,omitempty"`
}

// LocationUpdate says what a send request wants done with the stored location.
type LocationUpdate int

const (
	LocationKeep LocationUpdate = iota
	LocationSet
	LocationClear
)

// DecodeLocation interprets the raw "location" field of a send request: an
// object with lat and lon sets it, absent or null keeps the stored value, and
// anything else clears it.
func DecodeLocation(raw json.RawMessage) (*Location, LocationUpdate) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, LocationKeep
	}
	var probe struct {
		Lat       *float64  `json:"lat"`
		Lon       *float64  `json:"lon"`
		Accuracy  *float64  `json:"accuracy"`
		Timestamp Timestamp `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || probe.Lat == nil || probe.Lon == nil {
		return nil, LocationClear
	}
	return &Location{
		Lat:       *probe.Lat,
		Lon:       *probe.Lon,
		Accuracy:  probe.Accuracy,
		Timestamp: probe.Timestamp,
	}, LocationSet
}

// ==================== Jobs ====================

type JobStatus string

const (
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobError   JobStatus = "error"
)

// Job tracks one generation started through the async path.
type Job struct {
	Prompt    string    `json:"prompt"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Answer    string    `json:"answer"`
	Raw       string    `json:"raw"`
	Thinking  *string   `json:"thinking"`
	Error     *string   `json:"error"`
}

type PendingRequest struct {
	Prompt    string    `json:"prompt"`
	StartedAt time.Time `json:"started_at"`
}

// ==================== State ====================

// State is everything persisted for one session.
type State struct {
	History            []Turn                    `json:"history"`
	UseSearch          bool                      `json:"use_search"`
	UseURLFetch        bool                      `json:"use_url_fetch"`
	AutoFetchTopResult bool                      `json:"auto_fetch_top_result"`
	FileContext        string                    `json:"file_context"`
	UserLocation       *Location                 `json:"user_location"`
	Jobs               map[string]*Job           `json:"jobs"`
	PendingRequests    map[string]PendingRequest `json:"pending_requests"`

	telemetry.Trace
}

// NewState returns a session with default flags and empty collections.
func NewState() State {
	s := State{
		History:            []Turn{},
		UseSearch:          config.UseSearchDefault,
		UseURLFetch:        config.UseURLFetchDefault,
		AutoFetchTopResult: config.AutoFetchTopResultDefault,
		Jobs:               map[string]*Job{},
		PendingRequests:    map[string]PendingRequest{},
	}
	s.Trace.EnsureDefaults()
	return s
}

// decodeState overlays data on the defaults so keys missing from older files
// keep their default values.
func decodeState(data []byte) (State, error) {
	s := NewState()
	if err := json.Unmarshal(data, &s); err != nil {
		return NewState(), err
	}
	s.applyDefaults()
	return s, nil
}

func (s *State) applyDefaults() {
	if s.History == nil {
		s.History = []Turn{}
	}
	if s.Jobs == nil {
		s.Jobs = map[string]*Job{}
	}
	if s.PendingRequests == nil {
		s.PendingRequests = map[string]PendingRequest{}
	}
	s.Trace.EnsureDefaults()
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	out.History = append([]Turn{}, s.History...)
	if s.UserLocation != nil {
		loc := *s.UserLocation
		out.UserLocation = &loc
	}
	out.Jobs = make(map[string]*Job, len(s.Jobs))
	for id, j := range s.Jobs {
		cp := *j
		out.Jobs[id] = &cp
	}
	out.PendingRequests = make(map[string]PendingRequest, len(s.PendingRequests))
	for id, p := range s.PendingRequests {
		out.PendingRequests[id] = p
	}
	out.Trace = telemetry.Trace{
		Log:      append([]string{}, s.Log...),
		Errors:   append([]string{}, s.Errors...),
		Timings:  append([]telemetry.Timing{}, s.Timings...),
		Fetches:  append([]telemetry.Fetch{}, s.Fetches...),
		Evidence: s.Evidence,
		Prompt:   s.Trace.Prompt,
		Data:     make(map[string]any, len(s.Data)),
	}
	for k, v := range s.Data {
		out.Data[k] = v
	}
	return out
}

// AppendTurn adds a turn to the end of the history.
func (s *State) AppendTurn(role, text string) {
	s.History = append(s.History, Turn{Role: role, Text: text})
}

// AppendFile adds an uploaded file's text to the file context.
func (s *State) AppendFile(name, text string) {
	s.FileContext += fmt.Sprintf("FILE %s:\n%s\n\n", name, strings.TrimSpace(text))
}

// FileCount counts the files recorded in the file context.
func (s *State) FileCount() int {
	n := 0
	for _, chunk := range strings.Split(s.FileContext, "FILE ") {
		if strings.TrimSpace(chunk) != "" {
			n++
		}
	}
	return n
}

// ApplyLocation applies a decoded location update.
func (s *State) ApplyLocation(loc *Location, u LocationUpdate) {
	switch u {
	case LocationSet:
		s.UserLocation = loc
	case LocationClear:
		s.UserLocation = nil
	}
}

// FormatFloat renders a coordinate the way it would appear in JSON.
func FormatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
