package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/educaition/station/internal/model"
)

// Backend is the slice of the backend contract the worker delivers to.
type Backend interface {
	MarkCompletion(ctx context.Context, deviceID string, testType model.TestType, roomKey string) error
}

// SyncWorker drains the outbox to the backend with backoff. It realizes
// the "asynchronously inform the backend" half of the completion registry:
// a station that was offline when a test finished still reports the
// completion once connectivity returns.
type SyncWorker struct {
	outbox  *Outbox
	backend Backend
	log     zerolog.Logger
	// poll is how long the worker sleeps when the queue is empty.
	poll time.Duration
}

// NewSyncWorker creates a worker over the given outbox.
func NewSyncWorker(outbox *Outbox, backend Backend, log zerolog.Logger) *SyncWorker {
	return &SyncWorker{
		outbox:  outbox,
		backend: backend,
		log:     log.With().Str("component", "sync_worker").Logger(),
		poll:    2 * time.Second,
	}
}

// Start begins the worker loop. Call in a goroutine. On cancellation the
// worker makes one final pass over due items before returning.
func (w *SyncWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			if !w.processNext(ctx) {
				select {
				case <-ctx.Done():
				case <-time.After(w.poll):
				}
			}
		}
	}
}

// processNext handles one due item. Returns false when the queue had
// nothing due (caller sleeps).
func (w *SyncWorker) processNext(ctx context.Context) bool {
	it, err := w.outbox.nextDue(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("Outbox read error")
		}
		return false
	}
	if it == nil {
		return false
	}

	if err := w.deliver(ctx, it); err != nil {
		w.log.Warn().Err(err).
			Int64("item_id", it.ID).
			Int("attempts", it.Attempts+1).
			Msg("Delivery failed, deferring")
		if derr := w.outbox.postpone(ctx, it); derr != nil {
			w.log.Error().Err(derr).Msg("Outbox defer error")
		}
		return true
	}

	if err := w.outbox.delete(ctx, it.ID); err != nil {
		w.log.Error().Err(err).Msg("Outbox delete error")
	}
	return true
}

func (w *SyncWorker) deliver(ctx context.Context, it *item) error {
	switch it.Kind {
	case KindMarkCompletion:
		var p markCompletionPayload
		if err := json.Unmarshal([]byte(it.Payload), &p); err != nil {
			// Undecodable items are dropped, not retried forever.
			w.log.Error().Err(err).Int64("item_id", it.ID).Msg("Corrupt outbox payload, dropping")
			return nil
		}
		return w.backend.MarkCompletion(ctx, p.DeviceID, p.TestType, p.RoomKey)
	default:
		w.log.Error().Str("kind", string(it.Kind)).Msg("Unknown outbox kind, dropping")
		return nil
	}
}

// drain delivers all currently-due items once each, without backoff waits.
func (w *SyncWorker) drain(ctx context.Context) {
	drained := 0
	for {
		it, err := w.outbox.nextDue(ctx)
		if err != nil || it == nil {
			break
		}
		if err := w.deliver(ctx, it); err != nil {
			w.log.Warn().Err(err).Msg("Drain delivery failed, item kept for next start")
			if derr := w.outbox.postpone(ctx, it); derr != nil {
				w.log.Error().Err(derr).Msg("Outbox defer error")
			}
			break
		}
		if err := w.outbox.delete(ctx, it.ID); err != nil {
			w.log.Error().Err(err).Msg("Outbox delete error")
			break
		}
		drained++
	}
	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
