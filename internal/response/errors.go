package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrUnknownTest    ErrCode = "UNKNOWN_TEST"

	// ─── Session lifecycle ─────────────────────────────────────────────
	ErrAlreadyCompleted   ErrCode = "ALREADY_COMPLETED"
	ErrRegistrationFailed ErrCode = "REGISTRATION_FAILED"
	ErrSubmissionFailed   ErrCode = "SUBMISSION_FAILED"
	ErrStepSaveFailed     ErrCode = "STEP_SAVE_FAILED"
	ErrRoomUnavailable    ErrCode = "ROOM_UNAVAILABLE"
	ErrWrongStage         ErrCode = "WRONG_STAGE"
	ErrNoSession          ErrCode = "NO_SESSION"

	// ─── Proctor override ──────────────────────────────────────────────
	ErrInvalidPIN ErrCode = "INVALID_PIN"
	ErrPINNotSet  ErrCode = "PIN_NOT_SET"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidPayload:
		return "The request payload is invalid."
	case ErrUnknownTest:
		return "Unknown test type."
	case ErrAlreadyCompleted:
		return "This test has already been completed on this device."
	case ErrRegistrationFailed:
		return "Registration failed. Please try again."
	case ErrSubmissionFailed:
		return "Submission failed. Your answers are saved — please try again."
	case ErrStepSaveFailed:
		return "This step could not be saved. Please try again."
	case ErrRoomUnavailable:
		return "This test room is not available."
	case ErrWrongStage:
		return "This action is not allowed in the current stage."
	case ErrNoSession:
		return "No active session for this test."
	case ErrInvalidPIN:
		return "Invalid proctor PIN."
	case ErrPINNotSet:
		return "No proctor PIN has been configured on this station."
	case ErrRateLimitExceeded:
		return "Too many attempts. Please wait and try again."
	case ErrInternal:
		return "An internal error occurred."
	default:
		return "An unexpected error occurred."
	}
}
