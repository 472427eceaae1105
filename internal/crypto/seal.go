package crypto

import (
	"encoding/base64"
	"fmt"
)

// At-rest sealing for stored private keys. When a master key is
// configured, key bytes are sealed with AES-256-GCM under a per-row key
// derived from the master key and a row context (user ID and activation
// ID, or the application ID for postcard keys). The nonce is prefixed to
// the ciphertext.

const sealKDFLabel = "at-rest-seal"

// SealPrivateKey encrypts keyBytes for storage and returns the base64
// value. The context must be reproduced exactly to open the value again.
func SealPrivateKey(masterKey, context, keyBytes []byte) (string, error) {
	key, err := DeriveKey(masterKey, nil, append([]byte(sealKDFLabel), context...), envKeySize)
	if err != nil {
		return "", err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce, err := RandomBytes(gcmNonceSize)
	if err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, keyBytes, context)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// OpenPrivateKey reverses SealPrivateKey.
func OpenPrivateKey(masterKey, context []byte, stored string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFormat, err)
	}
	if len(sealed) < gcmNonceSize+gcmTagSize {
		return nil, ErrInvalidKeyFormat
	}
	key, err := DeriveKey(masterKey, nil, append([]byte(sealKDFLabel), context...), envKeySize)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, sealed[:gcmNonceSize], sealed[gcmNonceSize:], context)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
