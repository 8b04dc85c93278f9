package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store issues and persists the stable per-device identifier used as the
// unit of one-attempt enforcement. The identifier is created lazily on
// first access and never destroyed by the engine.
type Store struct {
	db  *sql.DB
	log zerolog.Logger

	mu     sync.Mutex
	cached string
}

// NewStore creates an identity store over the local database.
func NewStore(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("component", "identity").Logger(),
	}
}

// GetOrCreate returns the device identifier, generating and persisting one
// on first call. It never fails: if the durable write is lost the in-memory
// identifier still serves the current process, and a fresh one is minted on
// the next start.
func (s *Store) GetOrCreate(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != "" {
		return s.cached
	}

	var id string
	err := s.db.QueryRowContext(ctx, `SELECT device_id FROM device WHERE id = 1`).Scan(&id)
	switch {
	case err == nil:
		s.cached = id
		return id
	case !errors.Is(err, sql.ErrNoRows):
		s.log.Warn().Err(err).Msg("Device id read failed, generating ephemeral id")
	}

	id = newDeviceID()

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO device (id, device_id, created_at) VALUES (1, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		id, time.Now().Unix(),
	); err != nil {
		s.log.Warn().Err(err).Msg("Device id persist failed, id is in-memory only")
	} else {
		// Honor a concurrent writer that won the insert race.
		var stored string
		if err := s.db.QueryRowContext(ctx, `SELECT device_id FROM device WHERE id = 1`).Scan(&stored); err == nil {
			id = stored
		}
	}

	s.cached = id
	s.log.Info().Str("device_id", id).Msg("Device identity established")
	return id
}

// newDeviceID generates a UUID v4 from a cryptographically strong source,
// falling back to a pseudo-random UUID-shaped string if no strong source
// exists.
func newDeviceID() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	return pseudoUUID()
}

// pseudoUUID builds a v4-shaped UUID from math/rand. Weaker entropy, but
// still unique enough to key a single lab device.
func pseudoUUID() string {
	b := make([]byte, 16)
	for i := range b {
		b[i] = byte(rand.IntN(256))
	}
	b[6] = (b[6] & 0x0f) | 0x40 // version 4
	b[8] = (b[8] & 0x3f) | 0x80 // variant 10
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
