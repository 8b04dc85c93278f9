package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const pinHashKey = "proctor_pin_hash"

var (
	// ErrPINNotSet means no proctor PIN has been configured on this
	// station yet.
	ErrPINNotSet = errors.New("proctor pin not set")

	// ErrPINMismatch means the supplied PIN does not match the stored
	// hash.
	ErrPINMismatch = errors.New("proctor pin mismatch")
)

// Store holds station-local key/value settings, including the bcrypt hash
// of the proctor override PIN.
type Store struct {
	db   *sql.DB
	cost int
	log  zerolog.Logger
}

// NewStore creates a settings store. cost is the bcrypt cost used when a
// PIN is (re)hashed.
func NewStore(db *sql.DB, cost int, log zerolog.Logger) *Store {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Store{
		db:   db,
		cost: cost,
		log:  log.With().Str("component", "settings_store").Logger(),
	}
}

// Get reads one setting. A missing key returns ("", false, nil).
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read setting %s: %w", key, err)
	}
	return value, true, nil
}

// Set writes one setting, replacing any previous value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("write setting %s: %w", key, err)
	}
	return nil
}

// SetPIN hashes and stores the proctor override PIN.
func (s *Store) SetPIN(ctx context.Context, pin string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), s.cost)
	if err != nil {
		return fmt.Errorf("hash pin: %w", err)
	}
	if err := s.Set(ctx, pinHashKey, string(hash)); err != nil {
		return err
	}
	s.log.Info().Msg("Proctor PIN updated")
	return nil
}

// VerifyPIN checks the supplied PIN against the stored hash. Returns
// ErrPINNotSet when no PIN was ever configured and ErrPINMismatch on a
// wrong PIN.
func (s *Store) VerifyPIN(ctx context.Context, pin string) error {
	hash, ok, err := s.Get(ctx, pinHashKey)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPINNotSet
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)); err != nil {
		return ErrPINMismatch
	}
	return nil
}
