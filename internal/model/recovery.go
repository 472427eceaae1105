package model

import "time"

// RecoveryCodeStatus enumerates recovery code states. CREATED advances to
// ACTIVE on confirmation; REVOKED is terminal.
type RecoveryCodeStatus string

const (
	RecoveryCodeCreated RecoveryCodeStatus = "CREATED"
	RecoveryCodeActive  RecoveryCodeStatus = "ACTIVE"
	RecoveryCodeRevoked RecoveryCodeStatus = "REVOKED"
)

// RecoveryPukStatus enumerates PUK states. A VALID PUK becomes USED when
// consumed during recovery, or INVALID when its parent code is revoked.
type RecoveryPukStatus string

const (
	RecoveryPukValid   RecoveryPukStatus = "VALID"
	RecoveryPukUsed    RecoveryPukStatus = "USED"
	RecoveryPukInvalid RecoveryPukStatus = "INVALID"
)

// RecoveryCode is a postcard recovery credential. A postcard code is bound
// to a user only (ActivationID nil); codes issued during activation carry
// the activation ID.
//
// Fields:
//  ID                – numeric primary key.
//  Code              – the full recovery code value.
//  UserID            – user the code belongs to.
//  ApplicationID     – owning application.
//  ActivationID      – bound activation, nil for postcard codes.
//  Status            – current state.
//  FailedAttempts    – consecutive failed recovery attempts.
//  MaxFailedAttempts – configured limit.
//  CreatedAt         – creation timestamp.
//  LastChangeAt      – last status change (nullable).
type RecoveryCode struct {
	ID                int64              // recovery_codes.id
	Code              string             // recovery_codes.code
	UserID            string             // recovery_codes.user_id
	ApplicationID     string             // recovery_codes.application_id
	ActivationID      *string            // recovery_codes.activation_id (nullable)
	Status            RecoveryCodeStatus // recovery_codes.status
	FailedAttempts    int64              // recovery_codes.failed_attempts
	MaxFailedAttempts int64              // recovery_codes.max_failed_attempts
	CreatedAt         time.Time          // recovery_codes.created_at
	LastChangeAt      *time.Time         // recovery_codes.last_change_at (nullable)
}

// RecoveryPuk is one single-use secret under a recovery code. Only the
// bcrypt hash of the PUK is ever stored; indices are unique and contiguous
// (1..N) within one code.
//
// Fields:
//  ID             – numeric primary key.
//  RecoveryCodeID – parent recovery code.
//  PukIndex       – 1-based index within the code.
//  PukHash        – bcrypt hash of the PUK value.
//  Status         – current state.
//  LastChangeAt   – last status change (nullable).
type RecoveryPuk struct {
	ID             int64             // recovery_puks.id
	RecoveryCodeID int64             // recovery_puks.recovery_code_id
	PukIndex       int64             // recovery_puks.puk_index
	PukHash        string            // recovery_puks.puk_hash
	Status         RecoveryPukStatus // recovery_puks.status
	LastChangeAt   *time.Time        // recovery_puks.last_change_at (nullable)
}

// RecoveryCodeFilter selects recovery codes in listing queries. Empty
// fields are not applied.
type RecoveryCodeFilter struct {
	ApplicationID string
	UserID        string
	ActivationID  string
}

// RecoveryConfig holds the per-application recovery settings. A missing
// row is lazily created with every feature disabled.
//
// Fields:
//  ApplicationID         – owning application (primary key).
//  ActivationRecovery    – whether activation recovery is enabled at all.
//  PostcardRecovery      – whether postcard-based recovery is enabled.
//  AllowMultipleCodes    – whether a user may hold several postcard codes.
//  PostcardPrivateKey    – base64 postcard private key, possibly sealed.
//  PrivateKeyEncryption  – how PostcardPrivateKey is stored at rest.
//  PostcardPublicKey     – base64 postcard public key (nullable).
//  RemotePostcardPublic  – base64 public key of the printing partner (nullable).
type RecoveryConfig struct {
	ApplicationID        string         // recovery_configs.application_id
	ActivationRecovery   bool           // recovery_configs.activation_recovery_enabled
	PostcardRecovery     bool           // recovery_configs.postcard_recovery_enabled
	AllowMultipleCodes   bool           // recovery_configs.allow_multiple_codes
	PostcardPrivateKey   *string        // recovery_configs.postcard_private_key (nullable)
	PrivateKeyEncryption EncryptionMode // recovery_configs.private_key_encryption
	PostcardPublicKey    *string        // recovery_configs.postcard_public_key (nullable)
	RemotePostcardPublic *string        // recovery_configs.remote_postcard_public_key (nullable)
}
