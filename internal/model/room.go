package model

// RoomInfo is the public metadata of a test room, fetched from the backend
// during the loading stage.
type RoomInfo struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	TestType      TestType `json:"test_type"`
	QuestionCount int      `json:"question_count"`
	Open          bool     `json:"open"`
}

// RegisterRequest is the payload for registering a participant.
type RegisterRequest struct {
	Name       string            `json:"name" binding:"required,min=1,max=120"`
	ExternalID string            `json:"external_id" binding:"omitempty,max=64"`
	Extra      map[string]string `json:"extra" binding:"omitempty"`
}

// AnswerRequest is the payload for recording a single answer.
type AnswerRequest struct {
	Position int  `json:"position" binding:"min=0"`
	Value    *int `json:"value" binding:"required"`
}

// OverrideRequest carries the proctor PIN for a supervised retake.
type OverrideRequest struct {
	PIN string `json:"pin" binding:"required,pin"`
}
