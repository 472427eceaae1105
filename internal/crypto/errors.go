// Package crypto implements the protocol cryptography: EC key material,
// the authenticated encryption envelope, the hash-based counter, MAC
// token generation/verification and recovery code derivation. All
// functions are pure; persistence and business rules live in the service
// layer.
package crypto

import "errors"

// ErrInvalidKeyFormat is returned when key bytes cannot be parsed as a
// valid key on the protocol curve.
var ErrInvalidKeyFormat = errors.New("invalid key format")

// ErrDecryptionFailed is returned on MAC/tag mismatch or a malformed
// cryptogram.
var ErrDecryptionFailed = errors.New("decryption failed")

// ErrEncryptionFailed is returned when a payload cannot be encrypted.
var ErrEncryptionFailed = errors.New("encryption failed")

// ErrInvalidInputFormat is returned when decryption succeeds but yields
// an empty plaintext; every operation requires a non-empty payload.
var ErrInvalidInputFormat = errors.New("invalid input format")

// ErrGenericCrypto covers unexpected failures inside cryptographic
// primitives.
var ErrGenericCrypto = errors.New("generic cryptography error")
