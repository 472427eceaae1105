package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/activation-server/internal/model"
)

// UniqueValueRepo backs the replay guard with the unique_values table.
// The derived value is the primary key, so of two concurrent inserts of
// the same value exactly one succeeds and the other hits the duplicate
// key error, which is mapped to ErrDuplicate.
type UniqueValueRepo struct{ DB *sql.DB }

func NewUniqueValueRepo(db *sql.DB) *UniqueValueRepo { return &UniqueValueRepo{DB: db} }

// InsertUniqueValue records a replay-guard value. A primary key
// collision returns ErrDuplicate.
func (r *UniqueValueRepo) InsertUniqueValue(ctx context.Context, value model.UniqueValue) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO unique_values (unique_value, type, expires_at) VALUES (?, ?, ?)`,
		value.Value, value.Type, value.ExpiresAt.UTC().Format("2006-01-02 15:04:05"))
	if isDuplicateErr(err) {
		return ErrDuplicate
	}
	return err
}

// DeleteExpiredUniqueValues removes records whose expiration has passed
// and returns the number of deleted rows.
func (r *UniqueValueRepo) DeleteExpiredUniqueValues(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM unique_values WHERE expires_at <= ?`,
		now.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
