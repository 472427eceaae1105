package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/activation-server/internal/model"
)

// TokenRepo persists MAC authentication tokens (one row per issued token).
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// FindToken returns the token row or ErrNotFound.
func (r *TokenRepo) FindToken(ctx context.Context, tokenID string) (*model.Token, error) {
	var t model.Token
	err := r.DB.QueryRowContext(ctx,
		`SELECT token_id, token_secret, activation_id, signature_type, created_at
         FROM tokens WHERE token_id = ? LIMIT 1`,
		tokenID).Scan(&t.TokenID, &t.TokenSecret, &t.ActivationID, &t.SignatureType, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// SaveToken inserts a token row.
func (r *TokenRepo) SaveToken(ctx context.Context, token *model.Token) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO tokens (token_id, token_secret, activation_id, signature_type, created_at)
         VALUES (?, ?, ?, ?, ?)`,
		token.TokenID, token.TokenSecret, token.ActivationID, token.SignatureType,
		token.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
	if isDuplicateErr(err) {
		return ErrDuplicate
	}
	return err
}

// DeleteToken removes a token row. Deleting an absent token is not an error.
func (r *TokenRepo) DeleteToken(ctx context.Context, tokenID string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM tokens WHERE token_id = ?`, tokenID)
	return err
}
