package model

import "time"

// ActivationStatus enumerates the lifecycle states of an activation.
// The values are stored as strings in the `activations.status` column.
type ActivationStatus string

const (
	ActivationCreated       ActivationStatus = "CREATED"
	ActivationPendingCommit ActivationStatus = "PENDING_COMMIT"
	ActivationActive        ActivationStatus = "ACTIVE"
	ActivationBlocked       ActivationStatus = "BLOCKED"
	ActivationRemoved       ActivationStatus = "REMOVED"
)

// EncryptionMode tags how a private key column is stored at rest.
type EncryptionMode string

const (
	// NoEncryption means the key bytes are stored base64 encoded in clear.
	NoEncryption EncryptionMode = "NO_ENCRYPTION"
	// AESGCMEncryption means the key bytes are sealed with AES-256-GCM
	// under a per-row key derived from the configured master key.
	AESGCMEncryption EncryptionMode = "AES_GCM"
)

// Activation binds a device's public key to a user within an application.
// Rows are created during activation initiation and mutated only through
// lifecycle transitions; they are never physically deleted (REMOVED is a
// terminal, retained state).
//
// Fields:
//  ActivationID        – unique activation identifier (primary key).
//  UserID              – user the activation belongs to.
//  ApplicationID       – owning application.
//  Status              – current lifecycle state.
//  Version             – protocol version of the activation, 2 or 3.
//  ServerPrivateKey    – base64 server private key, possibly sealed.
//  ServerKeyEncryption – how ServerPrivateKey is stored at rest.
//  DevicePublicKey     – base64 device public key.
//  CtrData             – base64 hash-based counter seed (nil until the
//                        first v3 upgrade initializes it).
//  BlockedReason       – reason the activation was blocked (nullable).
//  Flags               – free-form activation flags.
//  FailedAttempts      – consecutive failed authentication attempts.
//  MaxFailedAttempts   – configured limit before blocking.
//  CreatedAt           – creation timestamp.
//  UpdatedAt           – last change timestamp.
type Activation struct {
	ActivationID        string           // activations.activation_id
	UserID              string           // activations.user_id
	ApplicationID       string           // activations.application_id
	Status              ActivationStatus // activations.status
	Version             int              // activations.version
	ServerPrivateKey    string           // activations.server_private_key
	ServerKeyEncryption EncryptionMode   // activations.server_key_encryption
	DevicePublicKey     string           // activations.device_public_key
	CtrData             *string          // activations.ctr_data (nullable)
	BlockedReason       *string          // activations.blocked_reason (nullable)
	Flags               []string         // activations.flags (comma separated)
	FailedAttempts      int64            // activations.failed_attempts
	MaxFailedAttempts   int64            // activations.max_failed_attempts
	CreatedAt           time.Time        // activations.created_at
	UpdatedAt           time.Time        // activations.updated_at
}
