package session

import "errors"

var (
	// ErrWrongStage rejects an operation issued outside the stage that
	// allows it, including a second submit while one is in flight.
	ErrWrongStage = errors.New("operation not allowed in current stage")

	// ErrAlreadyCompleted blocks entry for a device that already finished
	// the test in this room scope.
	ErrAlreadyCompleted = errors.New("test already completed on this device")

	// ErrUnknownTest rejects a test key no definition exists for.
	ErrUnknownTest = errors.New("unknown test type")

	// ErrNoSession is returned when state is requested for a session that
	// was never started.
	ErrNoSession = errors.New("no active session")
)

// ValidationError rejects input without touching the network, e.g. a
// submit with unanswered questions or an answer outside the question range.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// RoomError wraps a failure to fetch or accept room metadata during the
// loading stage. Fatal for the attempt.
type RoomError struct {
	Err error
}

func (e *RoomError) Error() string { return "room unavailable: " + e.Err.Error() }
func (e *RoomError) Unwrap() error { return e.Err }

// RegisterError wraps a failed registration call. The stage stays at
// registration so the participant can retry.
type RegisterError struct {
	Err error
}

func (e *RegisterError) Error() string { return "registration failed: " + e.Err.Error() }
func (e *RegisterError) Unwrap() error { return e.Err }

// StepSaveError wraps a failed step-persisted backend write. Retryable;
// the entered value is kept and the position does not advance.
type StepSaveError struct {
	Step int
	Err  error
}

func (e *StepSaveError) Error() string { return "step save failed: " + e.Err.Error() }
func (e *StepSaveError) Unwrap() error { return e.Err }

// SubmitError wraps a failed submission. Retryable; answers and stage are
// preserved.
type SubmitError struct {
	Err error
}

func (e *SubmitError) Error() string { return "submission failed: " + e.Err.Error() }
func (e *SubmitError) Unwrap() error { return e.Err }
