package model

// TestType identifies one of the hosted tests/experiments.
type TestType string

const (
	TestPersonality       TestType = "personality_test"
	TestDissonance        TestType = "dissonance_test"
	TestPrisonersDilemma  TestType = "prisoners_dilemma"
	TestProgramSuggestion TestType = "program_suggestion"
)

// GlobalRoomKey is the sentinel room key used when a test runs without a
// room scope (e.g. opened from a public link rather than a class session).
const GlobalRoomKey = "global"

// RoomKey normalizes a room id into the key used by the completion cache.
func RoomKey(roomID string) string {
	if roomID == "" {
		return GlobalRoomKey
	}
	return roomID
}

// TestDefinition describes how the engine drives one test type.
type TestDefinition struct {
	Type TestType `json:"type"`
	// StepPersisted tests write each answered step to the backend as the
	// participant advances, instead of a single final submission.
	StepPersisted bool `json:"step_persisted"`
	// DefaultQuestionCount is used when room metadata does not carry a
	// question count. The authoritative count comes from registration.
	DefaultQuestionCount int `json:"default_question_count"`
}

var testDefinitions = map[TestType]TestDefinition{
	TestPersonality:       {Type: TestPersonality, DefaultQuestionCount: 30},
	TestDissonance:        {Type: TestDissonance, DefaultQuestionCount: 20},
	TestPrisonersDilemma:  {Type: TestPrisonersDilemma, DefaultQuestionCount: 10},
	TestProgramSuggestion: {Type: TestProgramSuggestion, StepPersisted: true, DefaultQuestionCount: 60},
}

// TestByType looks up a test definition.
func TestByType(t TestType) (TestDefinition, bool) {
	def, ok := testDefinitions[t]
	return def, ok
}

// Tests returns all known test definitions.
func Tests() []TestDefinition {
	out := make([]TestDefinition, 0, len(testDefinitions))
	for _, t := range []TestType{TestPersonality, TestDissonance, TestPrisonersDilemma, TestProgramSuggestion} {
		out = append(out, testDefinitions[t])
	}
	return out
}
