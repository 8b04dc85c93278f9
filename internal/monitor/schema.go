package monitor

import (
	"time"

	"github.com/educaition/station/internal/model"
)

// ─── Events (Station → Dashboard) ───────────────────────────────────

type EventType string

const (
	EventStageChange    EventType = "stage_change"
	EventAnswerRecorded EventType = "answer_recorded"
	EventSubmitted      EventType = "submitted"
	EventSessionError   EventType = "session_error"
)

// Event is one progress notification pushed to connected proctor
// dashboards. Dashboards never write back; the stream is one-way except
// for websocket ping/pong.
type Event struct {
	Type      EventType   `json:"event"`
	TestKey   string      `json:"test_key"`
	RoomID    string      `json:"room_id"`
	Stage     model.Stage `json:"stage,omitempty"`
	Position  int         `json:"position,omitempty"`
	Answered  int         `json:"answered,omitempty"`
	Total     int         `json:"total,omitempty"`
	Detail    string      `json:"detail,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
