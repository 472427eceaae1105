package crypto

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Recovery codes are 20 Crockford base32 characters in four dash-separated
// groups of five. The last character is a check character over the first
// nineteen. PUKs are eight-digit numbers derived per random derivation
// index, so the printing partner can re-derive them from the shared
// secret and the seed alone.

const recoveryAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

const (
	recoveryCodeChars = 20
	recoveryGroupSize = 5
	pukDigits         = 8

	// MaxPukCount bounds the number of PUKs under one recovery code.
	MaxPukCount = 100
)

const (
	recoveryCodeKDFLabel = "recovery-code"
	recoveryPukKDFLabel  = "recovery-puk"
)

// RecoverySeed is the public derivation material returned with a new
// recovery code. Together with the ECDH shared secret it determines the
// code and all PUK values.
type RecoverySeed struct {
	Nonce                []byte
	PukDerivationIndexes map[int]uint64
}

// RecoveryInfo is one generated recovery code with its PUKs in plaintext.
// The plaintext PUKs exist only in this value; storage keeps hashes.
type RecoveryInfo struct {
	RecoveryCode string
	Puks         map[int]string
	Seed         RecoverySeed
}

// GenerateRecoveryCode derives a recovery code and pukCount PUKs from the
// (reduced) ECDH shared secret under a fresh random seed nonce.
func GenerateRecoveryCode(sharedSecret []byte, pukCount int) (*RecoveryInfo, error) {
	if pukCount < 1 || pukCount > MaxPukCount {
		return nil, fmt.Errorf("%w: puk count %d out of range", ErrGenericCrypto, pukCount)
	}
	nonce, err := RandomBytes(32)
	if err != nil {
		return nil, err
	}
	codeBytes, err := DeriveKey(sharedSecret, nonce, []byte(recoveryCodeKDFLabel), recoveryCodeChars-1)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	checksum := 0
	for i, c := range codeBytes {
		if i > 0 && i%recoveryGroupSize == 0 {
			b.WriteByte('-')
		}
		idx := int(c) % len(recoveryAlphabet)
		checksum += idx
		b.WriteByte(recoveryAlphabet[idx])
	}
	b.WriteByte(recoveryAlphabet[checksum%len(recoveryAlphabet)])
	code := b.String()

	puks := make(map[int]string, pukCount)
	indexes := make(map[int]uint64, pukCount)
	for i := 1; i <= pukCount; i++ {
		idxBytes, err := RandomBytes(8)
		if err != nil {
			return nil, err
		}
		derivationIndex := binary.BigEndian.Uint64(idxBytes)
		puk, err := derivePuk(sharedSecret, nonce, derivationIndex)
		if err != nil {
			return nil, err
		}
		puks[i] = puk
		indexes[i] = derivationIndex
	}
	return &RecoveryInfo{
		RecoveryCode: code,
		Puks:         puks,
		Seed:         RecoverySeed{Nonce: nonce, PukDerivationIndexes: indexes},
	}, nil
}

// DerivePuk re-derives one PUK from the shared secret, seed nonce and its
// derivation index.
func DerivePuk(sharedSecret, nonce []byte, derivationIndex uint64) (string, error) {
	return derivePuk(sharedSecret, nonce, derivationIndex)
}

func derivePuk(sharedSecret, nonce []byte, derivationIndex uint64) (string, error) {
	info := append([]byte(recoveryPukKDFLabel), binary.BigEndian.AppendUint64(nil, derivationIndex)...)
	pukBytes, err := DeriveKey(sharedSecret, nonce, info, 8)
	if err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint64(pukBytes) % 100_000_000
	return fmt.Sprintf("%0*d", pukDigits, n), nil
}

// ValidateRecoveryCodeFormat checks the grouped shape, the character set
// and the trailing check character.
func ValidateRecoveryCodeFormat(code string) bool {
	groups := strings.Split(code, "-")
	if len(groups) != recoveryCodeChars/recoveryGroupSize {
		return false
	}
	compact := strings.Join(groups, "")
	if len(compact) != recoveryCodeChars {
		return false
	}
	checksum := 0
	for i := 0; i < recoveryCodeChars-1; i++ {
		idx := strings.IndexByte(recoveryAlphabet, compact[i])
		if idx < 0 {
			return false
		}
		checksum += idx
	}
	return compact[recoveryCodeChars-1] == recoveryAlphabet[checksum%len(recoveryAlphabet)]
}

// MaskRecoveryCode hides all but the last group of a recovery code.
func MaskRecoveryCode(code string) string {
	groups := strings.Split(code, "-")
	for i := 0; i < len(groups)-1; i++ {
		groups[i] = strings.Repeat("X", len(groups[i]))
	}
	return strings.Join(groups, "-")
}
