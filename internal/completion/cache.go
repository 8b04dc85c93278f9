package completion

import (
	"context"

	"github.com/educaition/station/internal/model"
)

// Cache is a device-scoped completion guard. Implementations must be
// monotonic under ordinary operation: once marked, a (testType, roomKey)
// pair stays marked. Clear exists solely for the privileged proctor
// override.
type Cache interface {
	Has(ctx context.Context, testType model.TestType, roomKey string) (bool, error)
	Mark(ctx context.Context, testType model.TestType, roomKey string) error
	Clear(ctx context.Context, testType model.TestType, roomKey string) error
}
