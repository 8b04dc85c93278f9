package progress

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/educaition/station/internal/model"
)

// Store is the durable, mergeable persistence layer for in-flight
// participant sessions, keyed by (test key, room id). Storage failures are
// reported to callers, but the session engine treats them as "progress not
// persisted this time" — in-memory state stays authoritative for the life
// of the process.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStore creates a progress store over the local database.
func NewStore(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("component", "progress_store").Logger(),
	}
}

// Load reads and deserializes the stored session. Missing and corrupt data
// both return (nil, nil): corrupt progress is treated as absent, never
// thrown, and the bad row is deleted opportunistically.
func (s *Store) Load(ctx context.Context, testKey, roomID string) (*model.ParticipantSession, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM sessions WHERE test_key = ? AND room_id = ?`,
		testKey, roomID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}

	var sess model.ParticipantSession
	if err := json.Unmarshal([]byte(payload), &sess); err != nil {
		s.log.Warn().Err(err).Str("test_key", testKey).Str("room_id", roomID).Msg("Corrupt session payload, discarding")
		_ = s.Clear(ctx, testKey, roomID)
		return nil, nil
	}
	return &sess, nil
}

// Put stores the full session, replacing any previous record. Used when a
// session is first created at registration.
func (s *Store) Put(ctx context.Context, sess *model.ParticipantSession) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (test_key, room_id, payload, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (test_key, room_id) DO UPDATE
		 SET payload = excluded.payload, updated_at = excluded.updated_at`,
		sess.TestKey, sess.RoomID, string(payload), time.Now().Unix(),
	)
	return err
}

// Save merges the patch into the stored session and writes the result back
// in one transaction. Merge-not-replace: the answer sequencer and the
// registration step flow through the same record independently and must not
// clobber each other's fields. Saving against a missing record starts from
// an empty session for the key.
func (s *Store) Save(ctx context.Context, testKey, roomID string, patch model.SessionPatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	sess := &model.ParticipantSession{TestKey: testKey, RoomID: roomID, CreatedAt: time.Now()}

	var payload string
	err = tx.QueryRowContext(ctx,
		`SELECT payload FROM sessions WHERE test_key = ? AND room_id = ?`,
		testKey, roomID,
	).Scan(&payload)
	switch {
	case err == nil:
		var stored model.ParticipantSession
		if jsonErr := json.Unmarshal([]byte(payload), &stored); jsonErr == nil {
			sess = &stored
		}
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("read session: %w", err)
	}

	patch.Apply(sess)

	buf, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (test_key, room_id, payload, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (test_key, room_id) DO UPDATE
		 SET payload = excluded.payload, updated_at = excluded.updated_at`,
		testKey, roomID, string(buf), time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("write session: %w", err)
	}

	return tx.Commit()
}

// Clear deletes the stored session once a terminal stage is reached.
func (s *Store) Clear(ctx context.Context, testKey, roomID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE test_key = ? AND room_id = ?`,
		testKey, roomID,
	)
	return err
}
