package websocket

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionMatch    Action = "match"
	ActionNavigate Action = "navigate"
	ActionFlag     Action = "flag"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// RequestPayload is every client message. Fields are read according to
// Action:
//
//	autosave  question_id (optional), answer
//	match     slot, value
//	navigate  direction (next|prev|jump), index
//	flag      type, evidence
type RequestPayload struct {
	Action     Action          `json:"action"`
	QuestionID *uuid.UUID      `json:"question_id,omitempty"`
	Answer     json.RawMessage `json:"answer,omitempty"`
	Slot       *int            `json:"slot,omitempty"`
	Value      string          `json:"value,omitempty"`
	Direction  string          `json:"direction,omitempty"`
	Index      int             `json:"index,omitempty"`
	Type       model.FlagType  `json:"type,omitempty"`
	Evidence   string          `json:"evidence,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState     Event = "state"
	EventQuestion  Event = "question"
	EventTick      Event = "tick"
	EventSaved     Event = "saved"
	EventFlagged   Event = "flagged"
	EventSubmitted Event = "submitted"
	EventExpired   Event = "expired"
	EventError     Event = "error"
	EventPong      Event = "pong"
)

// Envelope wraps every server message.
type Envelope struct {
	Event Event `json:"event"`
	Data  any   `json:"data,omitempty"`
}

// ErrorData is the body of an error event.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SavedData acknowledges an answer edit.
type SavedData struct {
	QuestionID uuid.UUID    `json:"question_id"`
	Answer     model.Answer `json:"answer"`
}
