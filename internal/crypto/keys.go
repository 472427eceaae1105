package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// The protocol runs on NIST P-256. Public keys travel as uncompressed
// points, private keys as raw scalars.
var curve = ecdh.P256()

// GenerateKeyPair returns a fresh EC key pair on the protocol curve.
func GenerateKeyPair() (*ecdh.PrivateKey, error) {
	priv, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenericCrypto, err)
	}
	return priv, nil
}

// PublicKeyFromBytes parses an uncompressed EC point.
func PublicKeyFromBytes(b []byte) (*ecdh.PublicKey, error) {
	pub, err := curve.NewPublicKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFormat, err)
	}
	return pub, nil
}

// PrivateKeyFromBytes parses a raw private scalar.
func PrivateKeyFromBytes(b []byte) (*ecdh.PrivateKey, error) {
	priv, err := curve.NewPrivateKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFormat, err)
	}
	return priv, nil
}

// PublicKeyToBytes serializes a public key to its uncompressed point form.
func PublicKeyToBytes(pub *ecdh.PublicKey) []byte { return pub.Bytes() }

// PrivateKeyToBytes serializes a private key to its raw scalar form.
func PrivateKeyToBytes(priv *ecdh.PrivateKey) []byte { return priv.Bytes() }

// ComputeSharedSecret performs ECDH between a private key and a
// counterpart public key. With reduce set, the 32-byte secret is folded
// to 16 bytes by XOR-ing its halves; the recovery derivation uses the
// reduced form.
func ComputeSharedSecret(priv *ecdh.PrivateKey, pub *ecdh.PublicKey, reduce bool) ([]byte, error) {
	secret, err := priv.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFormat, err)
	}
	if !reduce {
		return secret, nil
	}
	return reduceSharedSecret(secret), nil
}

// reduceSharedSecret folds a 32-byte secret into 16 bytes.
func reduceSharedSecret(secret []byte) []byte {
	half := len(secret) / 2
	out := make([]byte, half)
	for i := 0; i < half; i++ {
		out[i] = secret[i] ^ secret[half+i]
	}
	return out
}

// SharedSecretToKeyBytes converts a derived shared secret into transport
// key bytes used in envelope key derivation.
func SharedSecretToKeyBytes(secret []byte) []byte {
	sum := sha256.Sum256(secret)
	return sum[:16]
}

// DeriveKey derives keyLength bytes from the input key material using
// HKDF-SHA256. Different info values yield independent keys.
func DeriveKey(ikm, salt, info []byte, keyLength int) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, salt, info)
	key := make([]byte, keyLength)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenericCrypto, err)
	}
	return key, nil
}

// RandomBytes returns n cryptographically secure random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenericCrypto, err)
	}
	return b, nil
}
