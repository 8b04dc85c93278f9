package model

import (
	"encoding/json"
	"time"
)

// RegistrationFields are the participant-supplied fields collected before
// the test starts. Extra carries test-specific fields (birth year, class,
// etc.) without the engine caring about their meaning.
type RegistrationFields struct {
	Name       string            `json:"name"`
	ExternalID string            `json:"external_id,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// ParticipantSession is the device-local record of one in-flight attempt,
// keyed by (test key, room id). The answers slice length is fixed at
// registration time; nil entries are unanswered questions.
type ParticipantSession struct {
	TestKey       string             `json:"test_key"`
	RoomID        string             `json:"room_id"`
	ParticipantID string             `json:"participant_id"`
	// Token is the short-lived backend credential issued at registration.
	// It may expire independently of this record; restoration re-registers
	// when it has.
	Token        string             `json:"token,omitempty"`
	Registration RegistrationFields `json:"registration"`
	Answers      []*int             `json:"answers"`
	// CurrentPosition is always within [0, len(Answers)-1].
	CurrentPosition int       `json:"current_position"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NewParticipantSession creates a session with an empty answers slice sized
// to the question count.
func NewParticipantSession(testKey, roomID, participantID, token string, reg RegistrationFields, questionCount int) *ParticipantSession {
	now := time.Now()
	return &ParticipantSession{
		TestKey:       testKey,
		RoomID:        roomID,
		ParticipantID: participantID,
		Token:         token,
		Registration:  reg,
		Answers:       make([]*int, questionCount),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Complete reports whether every question has been answered.
func (s *ParticipantSession) Complete() bool {
	if len(s.Answers) == 0 {
		return false
	}
	for _, a := range s.Answers {
		if a == nil {
			return false
		}
	}
	return true
}

// AnsweredCount returns the number of non-nil answers.
func (s *ParticipantSession) AnsweredCount() int {
	n := 0
	for _, a := range s.Answers {
		if a != nil {
			n++
		}
	}
	return n
}

// AnswerValues flattens the answers for submission. Must only be called on
// a complete session.
func (s *ParticipantSession) AnswerValues() []int {
	out := make([]int, len(s.Answers))
	for i, a := range s.Answers {
		if a != nil {
			out[i] = *a
		}
	}
	return out
}

// Clone returns a deep copy safe to hand outside the engine's lock.
func (s *ParticipantSession) Clone() *ParticipantSession {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Answers = make([]*int, len(s.Answers))
	for i, a := range s.Answers {
		if a != nil {
			v := *a
			cp.Answers[i] = &v
		}
	}
	if s.Registration.Extra != nil {
		cp.Registration.Extra = make(map[string]string, len(s.Registration.Extra))
		for k, v := range s.Registration.Extra {
			cp.Registration.Extra[k] = v
		}
	}
	return &cp
}

// SessionPatch is a partial update merged into a stored session by the
// progress store. Nil fields are left untouched so independent writers
// (registration, answer sequencer) cannot clobber each other.
type SessionPatch struct {
	ParticipantID   *string             `json:"participant_id,omitempty"`
	Token           *string             `json:"token,omitempty"`
	Registration    *RegistrationFields `json:"registration,omitempty"`
	Answers         []*int              `json:"answers,omitempty"`
	CurrentPosition *int                `json:"current_position,omitempty"`
}

// Apply merges the patch into the session in place.
func (p SessionPatch) Apply(s *ParticipantSession) {
	if p.ParticipantID != nil {
		s.ParticipantID = *p.ParticipantID
	}
	if p.Token != nil {
		s.Token = *p.Token
	}
	if p.Registration != nil {
		s.Registration = *p.Registration
	}
	if p.Answers != nil {
		s.Answers = p.Answers
	}
	if p.CurrentPosition != nil {
		s.CurrentPosition = *p.CurrentPosition
	}
	s.UpdatedAt = time.Now()
}

// ResultPayload is the backend's scoring/result document, passed through to
// the UI untouched.
type ResultPayload = json.RawMessage
