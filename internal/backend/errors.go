package backend

import (
	"errors"
	"fmt"
)

// ErrAlreadyCompleted signals the backend rejected an operation because the
// device/participant already finished the attempt (HTTP 409 class).
var ErrAlreadyCompleted = errors.New("attempt already completed")

// StatusError is a non-2xx backend response that is not a completion
// conflict.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend returned %d: %s", e.Code, e.Detail)
	}
	return fmt.Sprintf("backend returned %d", e.Code)
}

// IsRejection reports whether err is a definitive backend rejection (4xx)
// as opposed to a transport failure or server error, which callers may
// treat as transient.
func IsRejection(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 400 && se.Code < 500
	}
	return errors.Is(err, ErrAlreadyCompleted)
}
