package service

import (
	"context"
	"time"

	"github.com/iliyamo/activation-server/internal/model"
)

// Store interfaces consumed by the services. The repository package
// provides the MySQL implementations; tests substitute in-memory fakes.
// Absent rows are reported with repository.ErrNotFound, duplicate
// inserts with repository.ErrDuplicate.

// ActivationStore reads and mutates activation rows. FindActivation is
// the lock-free lookup used by read-only operations; mutating operations
// go through WithLockedActivation, which holds a pessimistic write lock
// on the row for the whole read-check-write sequence and persists the
// activation only when fn reports save.
type ActivationStore interface {
	FindActivation(ctx context.Context, activationID string) (*model.Activation, error)
	WithLockedActivation(ctx context.Context, activationID string, fn func(a *model.Activation) (save bool, err error)) error
}

// TokenStore persists MAC tokens.
type TokenStore interface {
	FindToken(ctx context.Context, tokenID string) (*model.Token, error)
	SaveToken(ctx context.Context, token *model.Token) error
	DeleteToken(ctx context.Context, tokenID string) error
}

// UniqueValueStore backs the replay guard. InsertUniqueValue must be
// atomic per value: of two concurrent inserts of the same value exactly
// one succeeds and the other returns repository.ErrDuplicate.
type UniqueValueStore interface {
	InsertUniqueValue(ctx context.Context, value model.UniqueValue) error
	DeleteExpiredUniqueValues(ctx context.Context, now time.Time) (int64, error)
}

// ApplicationStore resolves applications and their issued versions.
type ApplicationStore interface {
	FindApplication(ctx context.Context, applicationID string) (*model.Application, error)
	FindApplicationVersionByKey(ctx context.Context, applicationKey string) (*model.ApplicationVersion, error)
}

// RecoveryStore persists recovery codes, their PUKs and the
// per-application recovery configuration.
type RecoveryStore interface {
	SaveRecoveryCode(ctx context.Context, code *model.RecoveryCode, puks []model.RecoveryPuk) error
	FindRecoveryCode(ctx context.Context, id int64) (*model.RecoveryCode, error)
	FindRecoveryCodeByValue(ctx context.Context, applicationID, code string) (*model.RecoveryCode, error)
	CountRecoveryCodes(ctx context.Context, applicationID, code string) (int64, error)
	ListRecoveryCodes(ctx context.Context, filter model.RecoveryCodeFilter) ([]model.RecoveryCode, error)
	ListRecoveryPuks(ctx context.Context, recoveryCodeID int64) ([]model.RecoveryPuk, error)
	UpdateRecoveryCodeStatus(ctx context.Context, id int64, status model.RecoveryCodeStatus, at time.Time) error
	UpdateRecoveryPukStatus(ctx context.Context, id int64, status model.RecoveryPukStatus, at time.Time) error
	FindRecoveryConfig(ctx context.Context, applicationID string) (*model.RecoveryConfig, error)
	SaveRecoveryConfig(ctx context.Context, cfg *model.RecoveryConfig) error
}
