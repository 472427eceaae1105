package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"

	"github.com/google/uuid"
)

const tokenSecretLength = 16

// GenerateTokenID returns a candidate token identifier. Uniqueness is
// enforced by the caller with an existence check.
func GenerateTokenID() string {
	return uuid.NewString()
}

// GenerateTokenSecret returns a fresh random token secret.
func GenerateTokenSecret() ([]byte, error) {
	return RandomBytes(tokenSecretLength)
}

// ComputeTokenDigest computes the MAC token digest over the nonce and
// timestamp with the token secret.
func ComputeTokenDigest(nonce []byte, timestamp int64, tokenSecret []byte) []byte {
	mac := hmac.New(sha256.New, tokenSecret)
	mac.Write(nonce)
	mac.Write(binary.BigEndian.AppendUint64(nil, uint64(timestamp)))
	return mac.Sum(nil)
}

// ValidateTokenDigest verifies a presented digest in constant time.
func ValidateTokenDigest(nonce []byte, timestamp int64, tokenSecret, digest []byte) bool {
	expected := ComputeTokenDigest(nonce, timestamp, tokenSecret)
	return hmac.Equal(expected, digest)
}
