package completion

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/educaition/station/internal/model"
)

// SQLiteCache is the default per-device completion cache, backed by the
// station's local database so the guard survives restarts and works with
// the backend unreachable.
type SQLiteCache struct {
	db *sql.DB
}

// NewSQLiteCache creates a cache over the local database.
func NewSQLiteCache(db *sql.DB) *SQLiteCache {
	return &SQLiteCache{db: db}
}

func (c *SQLiteCache) Has(ctx context.Context, testType model.TestType, roomKey string) (bool, error) {
	var one int
	err := c.db.QueryRowContext(ctx,
		`SELECT 1 FROM completions WHERE test_type = ? AND room_key = ?`,
		string(testType), roomKey,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *SQLiteCache) Mark(ctx context.Context, testType model.TestType, roomKey string) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO completions (test_type, room_key, completed_at) VALUES (?, ?, ?)
		 ON CONFLICT (test_type, room_key) DO NOTHING`,
		string(testType), roomKey, time.Now().Unix(),
	)
	return err
}

func (c *SQLiteCache) Clear(ctx context.Context, testType model.TestType, roomKey string) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM completions WHERE test_type = ? AND room_key = ?`,
		string(testType), roomKey,
	)
	return err
}
