package completion

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/educaition/station/internal/model"
)

// Backend is the slice of the central backend contract the registry needs.
type Backend interface {
	CheckCompletion(ctx context.Context, deviceID string, testType model.TestType, roomKey string) (bool, error)
	MarkCompletion(ctx context.Context, deviceID string, testType model.TestType, roomKey string) error
}

// Enqueuer defers a backend completion mark to the durable sync outbox so
// a failed network write is retried instead of lost.
type Enqueuer interface {
	EnqueueMarkCompletion(ctx context.Context, deviceID string, testType model.TestType, roomKey string) error
}

// Registry answers "has this device already completed test T in room R?"
// using local caches fronting the authoritative backend check, and records
// completions local-first.
//
// The registry is deliberately asymmetric: eager to prevent retakes,
// lenient about reporting "not completed" when the backend is unreachable.
// Enforcement here is anti-abuse, not a hard security boundary.
type Registry struct {
	deviceID string
	caches   []Cache // checked in order; index 0 is the local cache
	backend  Backend
	outbox   Enqueuer
	log      zerolog.Logger
}

// NewRegistry creates a registry. caches must contain at least the local
// cache; a lab-shared cache may follow. outbox may be nil, in which case
// backend marks are attempted once, inline, and dropped on failure.
func NewRegistry(deviceID string, caches []Cache, backend Backend, outbox Enqueuer, log zerolog.Logger) *Registry {
	return &Registry{
		deviceID: deviceID,
		caches:   caches,
		backend:  backend,
		outbox:   outbox,
		log:      log.With().Str("component", "completion_registry").Logger(),
	}
}

// HasCompleted checks the caches first (fast path, works offline). On a
// full cache miss it consults the backend — the caches may be stale after a
// cleared-then-restored profile — and backfills them when the backend says
// completed. A backend failure degrades silently to the cached value; that
// direction of error never blocks a participant.
func (r *Registry) HasCompleted(ctx context.Context, testType model.TestType, roomKey string) bool {
	for _, c := range r.caches {
		ok, err := c.Has(ctx, testType, roomKey)
		if err != nil {
			r.log.Debug().Err(err).Str("test", string(testType)).Msg("Completion cache read failed")
			continue
		}
		if ok {
			return true
		}
	}

	ok, err := r.backend.CheckCompletion(ctx, r.deviceID, testType, roomKey)
	if err != nil {
		r.log.Debug().Err(err).Str("test", string(testType)).Msg("Backend completion check failed, trusting local cache")
		return false
	}
	if ok {
		r.backfill(ctx, testType, roomKey)
	}
	return ok
}

// MarkCompleted records the completion. The local caches are written
// synchronously first, so a reload on this device is blocked even if every
// network write that follows fails. The backend mark goes through the sync
// outbox; its failure is logged, never surfaced, and never undoes the local
// mark.
func (r *Registry) MarkCompleted(ctx context.Context, testType model.TestType, roomKey string) {
	for _, c := range r.caches {
		if err := c.Mark(ctx, testType, roomKey); err != nil {
			r.log.Warn().Err(err).Str("test", string(testType)).Msg("Completion cache write failed")
		}
	}

	if r.outbox != nil {
		if err := r.outbox.EnqueueMarkCompletion(ctx, r.deviceID, testType, roomKey); err == nil {
			return
		} else {
			r.log.Warn().Err(err).Msg("Outbox enqueue failed, marking backend inline")
		}
	}

	if err := r.backend.MarkCompletion(ctx, r.deviceID, testType, roomKey); err != nil {
		r.log.Warn().Err(err).Str("test", string(testType)).Msg("Backend completion mark failed")
	}
}

// ClearLocal removes the device-local marks for a supervised retake. The
// backend's own record is untouched: the override is a privileged,
// device-local action.
func (r *Registry) ClearLocal(ctx context.Context, testType model.TestType, roomKey string) error {
	var firstErr error
	for _, c := range r.caches {
		if err := c.Clear(ctx, testType, roomKey); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Registry) backfill(ctx context.Context, testType model.TestType, roomKey string) {
	for _, c := range r.caches {
		if err := c.Mark(ctx, testType, roomKey); err != nil {
			r.log.Debug().Err(err).Msg("Completion cache backfill failed")
		}
	}
}
