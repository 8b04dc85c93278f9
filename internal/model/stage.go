package model

// Stage enumerates the phases of a participant session lifecycle.
// Exactly one stage is active at a time; loading is the unique initial
// stage and result/error are terminal for a given attempt.
type Stage string

const (
	StageLoading      Stage = "loading"
	StageRegistration Stage = "registration"
	StageTest         Stage = "test"
	StageSubmitting   Stage = "submitting"
	StageResult       Stage = "result"
	StageError        Stage = "error"
)

// Terminal reports whether the stage ends the attempt. A new attempt
// requires a fresh participant session.
func (s Stage) Terminal() bool {
	return s == StageResult || s == StageError
}
