package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/activation-server/internal/model"
)

// ApplicationRepo resolves applications and their issued credential
// versions.
type ApplicationRepo struct{ DB *sql.DB }

func NewApplicationRepo(db *sql.DB) *ApplicationRepo { return &ApplicationRepo{DB: db} }

// FindApplication returns the application row or ErrNotFound.
func (r *ApplicationRepo) FindApplication(ctx context.Context, applicationID string) (*model.Application, error) {
	var (
		a     model.Application
		roles sql.NullString
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, roles FROM applications WHERE id = ? LIMIT 1`,
		applicationID).Scan(&a.ID, &roles)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.Roles = splitFlags(roles.String)
	return &a, nil
}

// FindApplicationVersionByKey resolves the application key presented on
// the wire to its version row.
func (r *ApplicationRepo) FindApplicationVersionByKey(ctx context.Context, applicationKey string) (*model.ApplicationVersion, error) {
	var v model.ApplicationVersion
	err := r.DB.QueryRowContext(ctx,
		`SELECT application_key, application_id, application_secret, supported
         FROM application_versions WHERE application_key = ? LIMIT 1`,
		applicationKey).Scan(&v.ApplicationKey, &v.ApplicationID, &v.ApplicationSecret, &v.Supported)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}
