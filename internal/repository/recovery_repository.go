package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/activation-server/internal/model"
)

// RecoveryRepo persists recovery codes, their PUKs and the
// per-application recovery configuration.
type RecoveryRepo struct{ DB *sql.DB }

func NewRecoveryRepo(db *sql.DB) *RecoveryRepo { return &RecoveryRepo{DB: db} }

const recoveryCodeColumns = `id, code, user_id, application_id, activation_id, status,
       failed_attempts, max_failed_attempts, created_at, last_change_at`

// SaveRecoveryCode inserts the code and its PUK rows in one transaction
// and fills the generated IDs.
func (r *RecoveryRepo) SaveRecoveryCode(ctx context.Context, code *model.RecoveryCode, puks []model.RecoveryPuk) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO recovery_codes
         (code, user_id, application_id, activation_id, status,
          failed_attempts, max_failed_attempts, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		code.Code, code.UserID, code.ApplicationID, code.ActivationID, code.Status,
		code.FailedAttempts, code.MaxFailedAttempts,
		code.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		if isDuplicateErr(err) {
			return ErrDuplicate
		}
		return err
	}
	codeID, err := res.LastInsertId()
	if err != nil {
		return err
	}
	code.ID = codeID

	for i := range puks {
		puks[i].RecoveryCodeID = codeID
		res, err := tx.ExecContext(ctx,
			`INSERT INTO recovery_puks (recovery_code_id, puk_index, puk_hash, status)
             VALUES (?, ?, ?, ?)`,
			codeID, puks[i].PukIndex, puks[i].PukHash, puks[i].Status)
		if err != nil {
			return err
		}
		pukID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		puks[i].ID = pukID
	}
	return tx.Commit()
}

// FindRecoveryCode returns the code row or ErrNotFound.
func (r *RecoveryRepo) FindRecoveryCode(ctx context.Context, id int64) (*model.RecoveryCode, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+recoveryCodeColumns+` FROM recovery_codes WHERE id = ? LIMIT 1`, id)
	return scanRecoveryCode(row)
}

// FindRecoveryCodeByValue resolves a full recovery code value within an
// application.
func (r *RecoveryRepo) FindRecoveryCodeByValue(ctx context.Context, applicationID, code string) (*model.RecoveryCode, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+recoveryCodeColumns+` FROM recovery_codes
         WHERE application_id = ? AND code = ? LIMIT 1`,
		applicationID, code)
	return scanRecoveryCode(row)
}

// CountRecoveryCodes counts codes with the given value in an
// application; the uniqueness retry loop relies on this.
func (r *RecoveryRepo) CountRecoveryCodes(ctx context.Context, applicationID, code string) (int64, error) {
	var n int64
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recovery_codes WHERE application_id = ? AND code = ?`,
		applicationID, code).Scan(&n)
	return n, err
}

// ListRecoveryCodes returns codes matching the filter; empty filter
// fields are not applied.
func (r *RecoveryRepo) ListRecoveryCodes(ctx context.Context, filter model.RecoveryCodeFilter) ([]model.RecoveryCode, error) {
	query := `SELECT ` + recoveryCodeColumns + ` FROM recovery_codes WHERE 1=1`
	args := make([]interface{}, 0, 3)
	if filter.ApplicationID != "" {
		query += ` AND application_id = ?`
		args = append(args, filter.ApplicationID)
	}
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.ActivationID != "" {
		query += ` AND activation_id = ?`
		args = append(args, filter.ActivationID)
	}
	query += ` ORDER BY id`

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var codes []model.RecoveryCode
	for rows.Next() {
		var c model.RecoveryCode
		if err := rows.Scan(&c.ID, &c.Code, &c.UserID, &c.ApplicationID, &c.ActivationID,
			&c.Status, &c.FailedAttempts, &c.MaxFailedAttempts, &c.CreatedAt, &c.LastChangeAt); err != nil {
			return nil, err
		}
		codes = append(codes, c)
	}
	return codes, rows.Err()
}

// ListRecoveryPuks returns the PUK rows of a code ordered by index.
func (r *RecoveryRepo) ListRecoveryPuks(ctx context.Context, recoveryCodeID int64) ([]model.RecoveryPuk, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, recovery_code_id, puk_index, puk_hash, status, last_change_at
         FROM recovery_puks WHERE recovery_code_id = ? ORDER BY puk_index`,
		recoveryCodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var puks []model.RecoveryPuk
	for rows.Next() {
		var p model.RecoveryPuk
		if err := rows.Scan(&p.ID, &p.RecoveryCodeID, &p.PukIndex, &p.PukHash, &p.Status, &p.LastChangeAt); err != nil {
			return nil, err
		}
		puks = append(puks, p)
	}
	return puks, rows.Err()
}

// UpdateRecoveryCodeStatus sets the code status and last-change time.
func (r *RecoveryRepo) UpdateRecoveryCodeStatus(ctx context.Context, id int64, status model.RecoveryCodeStatus, at time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE recovery_codes SET status = ?, last_change_at = ? WHERE id = ?`,
		status, at.UTC().Format("2006-01-02 15:04:05"), id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// UpdateRecoveryPukStatus sets a PUK status and last-change time.
func (r *RecoveryRepo) UpdateRecoveryPukStatus(ctx context.Context, id int64, status model.RecoveryPukStatus, at time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE recovery_puks SET status = ?, last_change_at = ? WHERE id = ?`,
		status, at.UTC().Format("2006-01-02 15:04:05"), id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// FindRecoveryConfig returns the application's recovery configuration or
// ErrNotFound.
func (r *RecoveryRepo) FindRecoveryConfig(ctx context.Context, applicationID string) (*model.RecoveryConfig, error) {
	var c model.RecoveryConfig
	err := r.DB.QueryRowContext(ctx,
		`SELECT application_id, activation_recovery_enabled, postcard_recovery_enabled,
                allow_multiple_codes, postcard_private_key, private_key_encryption,
                postcard_public_key, remote_postcard_public_key
         FROM recovery_configs WHERE application_id = ? LIMIT 1`,
		applicationID).Scan(&c.ApplicationID, &c.ActivationRecovery, &c.PostcardRecovery,
		&c.AllowMultipleCodes, &c.PostcardPrivateKey, &c.PrivateKeyEncryption,
		&c.PostcardPublicKey, &c.RemotePostcardPublic)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// SaveRecoveryConfig upserts the application's recovery configuration.
func (r *RecoveryRepo) SaveRecoveryConfig(ctx context.Context, cfg *model.RecoveryConfig) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO recovery_configs
         (application_id, activation_recovery_enabled, postcard_recovery_enabled,
          allow_multiple_codes, postcard_private_key, private_key_encryption,
          postcard_public_key, remote_postcard_public_key)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)
         ON DUPLICATE KEY UPDATE
          activation_recovery_enabled = VALUES(activation_recovery_enabled),
          postcard_recovery_enabled = VALUES(postcard_recovery_enabled),
          allow_multiple_codes = VALUES(allow_multiple_codes),
          postcard_private_key = VALUES(postcard_private_key),
          private_key_encryption = VALUES(private_key_encryption),
          postcard_public_key = VALUES(postcard_public_key),
          remote_postcard_public_key = VALUES(remote_postcard_public_key)`,
		cfg.ApplicationID, cfg.ActivationRecovery, cfg.PostcardRecovery,
		cfg.AllowMultipleCodes, cfg.PostcardPrivateKey, cfg.PrivateKeyEncryption,
		cfg.PostcardPublicKey, cfg.RemotePostcardPublic)
	return err
}

func scanRecoveryCode(row *sql.Row) (*model.RecoveryCode, error) {
	var c model.RecoveryCode
	err := row.Scan(&c.ID, &c.Code, &c.UserID, &c.ApplicationID, &c.ActivationID,
		&c.Status, &c.FailedAttempts, &c.MaxFailedAttempts, &c.CreatedAt, &c.LastChangeAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// requireAffected maps a zero-row update to ErrNotFound.
func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
