package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/activation-server/internal/model"
)

// ActivationRepo provides data access to the activations table. Reads
// that precede a write go through WithLockedActivation so that the
// read-check-write sequence holds a row lock for its whole duration.
// All timestamps are UTC.
type ActivationRepo struct{ DB *sql.DB }

// NewActivationRepo returns a new ActivationRepo bound to the provided database.
func NewActivationRepo(db *sql.DB) *ActivationRepo { return &ActivationRepo{DB: db} }

const activationColumns = `activation_id, user_id, application_id, status, version,
       server_private_key, server_key_encryption, device_public_key,
       ctr_data, blocked_reason, flags, failed_attempts, max_failed_attempts,
       created_at, updated_at`

// FindActivation returns the activation row without locking it.
func (r *ActivationRepo) FindActivation(ctx context.Context, activationID string) (*model.Activation, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+activationColumns+` FROM activations WHERE activation_id = ? LIMIT 1`,
		activationID)
	return scanActivation(row)
}

// WithLockedActivation loads the activation under SELECT ... FOR UPDATE,
// runs fn and persists the (possibly mutated) row when fn reports save.
// The lock is held until the transaction commits or rolls back, so no
// concurrent transition can interleave with fn's read-check-write.
func (r *ActivationRepo) WithLockedActivation(ctx context.Context, activationID string, fn func(a *model.Activation) (bool, error)) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+activationColumns+` FROM activations WHERE activation_id = ? FOR UPDATE`,
		activationID)
	a, err := scanActivation(row)
	if err != nil {
		return err
	}

	save, err := fn(a)
	if err != nil {
		return err
	}
	if save {
		_, err = tx.ExecContext(ctx,
			`UPDATE activations
             SET status = ?, version = ?, ctr_data = ?, blocked_reason = ?, flags = ?,
                 failed_attempts = ?, max_failed_attempts = ?, updated_at = UTC_TIMESTAMP()
             WHERE activation_id = ?`,
			a.Status, a.Version, a.CtrData, a.BlockedReason, joinFlags(a.Flags),
			a.FailedAttempts, a.MaxFailedAttempts, a.ActivationID)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CreateActivation inserts a new activation row.
func (r *ActivationRepo) CreateActivation(ctx context.Context, a *model.Activation) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO activations
         (activation_id, user_id, application_id, status, version,
          server_private_key, server_key_encryption, device_public_key,
          ctr_data, blocked_reason, flags, failed_attempts, max_failed_attempts,
          created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, UTC_TIMESTAMP(), UTC_TIMESTAMP())`,
		a.ActivationID, a.UserID, a.ApplicationID, a.Status, a.Version,
		a.ServerPrivateKey, a.ServerKeyEncryption, a.DevicePublicKey,
		a.CtrData, a.BlockedReason, joinFlags(a.Flags),
		a.FailedAttempts, a.MaxFailedAttempts)
	if isDuplicateErr(err) {
		return ErrDuplicate
	}
	return err
}

func scanActivation(row *sql.Row) (*model.Activation, error) {
	var (
		a     model.Activation
		flags sql.NullString
	)
	err := row.Scan(&a.ActivationID, &a.UserID, &a.ApplicationID, &a.Status, &a.Version,
		&a.ServerPrivateKey, &a.ServerKeyEncryption, &a.DevicePublicKey,
		&a.CtrData, &a.BlockedReason, &flags, &a.FailedAttempts, &a.MaxFailedAttempts,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.Flags = splitFlags(flags.String)
	return &a, nil
}

// Flags are stored comma separated in a single column.
func joinFlags(flags []string) string { return strings.Join(flags, ",") }

func splitFlags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
