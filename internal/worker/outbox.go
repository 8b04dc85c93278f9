package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/educaition/station/internal/model"
)

// Kind discriminates outbox item payloads.
type Kind string

// KindMarkCompletion defers a backend completion mark that could not be
// (or should not be) written inline.
const KindMarkCompletion Kind = "mark_completion"

// Outbox is a durable queue of deferred backend writes, stored in the
// local database so pending items survive restarts.
type Outbox struct {
	db *sql.DB
}

// NewOutbox creates an outbox over the local database.
func NewOutbox(db *sql.DB) *Outbox {
	return &Outbox{db: db}
}

type markCompletionPayload struct {
	DeviceID string         `json:"device_id"`
	TestType model.TestType `json:"test_type"`
	RoomKey  string         `json:"room_key"`
}

// EnqueueMarkCompletion queues a completion mark for background delivery.
func (o *Outbox) EnqueueMarkCompletion(ctx context.Context, deviceID string, testType model.TestType, roomKey string) error {
	payload, err := json.Marshal(markCompletionPayload{
		DeviceID: deviceID,
		TestType: testType,
		RoomKey:  roomKey,
	})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	now := time.Now().Unix()
	_, err = o.db.ExecContext(ctx,
		`INSERT INTO outbox (kind, payload, attempts, next_at, created_at) VALUES (?, ?, 0, ?, ?)`,
		string(KindMarkCompletion), string(payload), now, now,
	)
	return err
}

type item struct {
	ID       int64
	Kind     Kind
	Payload  string
	Attempts int
}

// nextDue returns the oldest item whose next_at has passed, or nil.
func (o *Outbox) nextDue(ctx context.Context) (*item, error) {
	var it item
	var kind string
	err := o.db.QueryRowContext(ctx,
		`SELECT id, kind, payload, attempts FROM outbox
		 WHERE next_at <= ? ORDER BY id LIMIT 1`,
		time.Now().Unix(),
	).Scan(&it.ID, &kind, &it.Payload, &it.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	it.Kind = Kind(kind)
	return &it, nil
}

func (o *Outbox) delete(ctx context.Context, id int64) error {
	_, err := o.db.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, id)
	return err
}

// postpone pushes the item's next attempt out with exponential backoff,
// capped at five minutes.
func (o *Outbox) postpone(ctx context.Context, it *item) error {
	backoff := time.Duration(1<<uint(min(it.Attempts, 8))) * time.Second
	if backoff > 5*time.Minute {
		backoff = 5 * time.Minute
	}
	_, err := o.db.ExecContext(ctx,
		`UPDATE outbox SET attempts = attempts + 1, next_at = ? WHERE id = ?`,
		time.Now().Add(backoff).Unix(), it.ID,
	)
	return err
}

// Pending returns the number of queued items. Exposed for the health
// endpoint and tests.
func (o *Outbox) Pending(ctx context.Context) (int, error) {
	var n int
	err := o.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&n)
	return n, err
}
