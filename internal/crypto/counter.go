package crypto

import "crypto/sha256"

// Hash-based counter used by protocol version 3 signatures. The counter
// starts from a random seed and advances by hashing, so the server and
// device stay in sync without transmitting counter values.

const counterLength = 16

// InitCounter returns a fresh random counter seed.
func InitCounter() ([]byte, error) {
	return RandomBytes(counterLength)
}

// NextCounter advances the counter one step.
func NextCounter(ctrData []byte) []byte {
	sum := sha256.Sum256(ctrData)
	return sum[:counterLength]
}
