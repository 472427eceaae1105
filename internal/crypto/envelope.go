package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"encoding/binary"
	"fmt"
)

const (
	// Wire nonce length. The GCM nonce is the first 12 bytes.
	NonceLength = 16

	gcmNonceSize = 12
	gcmTagSize   = 16
	envKeySize   = 32
)

// Scope says whether a payload is bound to an activation or only to an
// application. It is the first byte of the associated data.
type Scope byte

const (
	ScopeApplication Scope = 0x00
	ScopeActivation  Scope = 0x01
)

// OperationTag is the domain-separation label mixed into envelope key
// derivation. A decryptor built for one tag can never verify payloads
// produced under another.
type OperationTag string

const (
	TagCreateToken     OperationTag = "create-token"
	TagUpgrade         OperationTag = "upgrade"
	TagConfirmRecovery OperationTag = "confirm-recovery-code"
)

const envelopeKDFLabel = "ec-envelope/v1"

// Directional labels keep request and response message keys independent,
// so pre-3.2 responses may reuse the request nonce.
const (
	directionRequest  = "request"
	directionResponse = "response"
)

// RequiresTimestamp reports whether the protocol version carries request
// timestamps and fresh response nonces.
func RequiresTimestamp(version string) bool {
	return version >= "3.2"
}

// Cryptogram is the encrypted part of an envelope payload.
type Cryptogram struct {
	EphemeralPublicKey []byte
	EncryptedData      []byte
	Mac                []byte
}

// Parameters are the authenticated-but-not-encrypted envelope inputs.
// Timestamp is zero for protocol versions that omit it.
type Parameters struct {
	Nonce          []byte
	AssociatedData []byte
	Timestamp      int64
}

// Payload bundles a cryptogram with its parameters.
type Payload struct {
	Cryptogram Cryptogram
	Parameters Parameters
}

// AssociatedData derives the associated data authenticated with every
// payload. It must match bit for bit between encrypt and decrypt.
func AssociatedData(scope Scope, version, applicationKey, activationID string) []byte {
	fields := []string{version, applicationKey}
	if scope == ScopeActivation {
		fields = append(fields, activationID)
	}
	buf := []byte{byte(scope)}
	for _, f := range fields {
		buf = binary.AppendUvarint(buf, uint64(len(f)))
		buf = append(buf, f...)
	}
	return buf
}

// EnvelopeKey is the session key shared by one request/response pair. The
// decryptor derives it once and the response encryptor must reuse the
// same value instead of re-deriving it.
type EnvelopeKey struct {
	key []byte
}

// Decryptor decrypts one request payload. It is single-use: constructed
// with the request's ephemeral public key and the server's static private
// key.
type Decryptor struct {
	envelopeKey  *EnvelopeKey
	appSecret    []byte
	transportKey []byte
	params       Parameters
}

// NewDecryptor performs ECDH between the server private key and the
// request's ephemeral public key and derives the envelope key under the
// given operation tag.
func NewDecryptor(serverPrivateKey *ecdh.PrivateKey, applicationSecret, transportKey []byte, tag OperationTag, params Parameters, ephemeralPublicKey []byte) (*Decryptor, error) {
	ephemeralPub, err := PublicKeyFromBytes(ephemeralPublicKey)
	if err != nil {
		return nil, err
	}
	secret, err := ComputeSharedSecret(serverPrivateKey, ephemeralPub, false)
	if err != nil {
		return nil, err
	}
	envKey, err := DeriveKey(secret, nil, append([]byte(envelopeKDFLabel), tag...), envKeySize)
	if err != nil {
		return nil, err
	}
	return &Decryptor{
		envelopeKey:  &EnvelopeKey{key: envKey},
		appSecret:    applicationSecret,
		transportKey: transportKey,
		params:       params,
	}, nil
}

// EnvelopeKey exposes the derived session key for building the response
// encryptor.
func (d *Decryptor) EnvelopeKey() *EnvelopeKey { return d.envelopeKey }

// Decrypt opens the request cryptogram. An empty plaintext is rejected;
// every protocol operation sends at least an empty JSON object.
func (d *Decryptor) Decrypt(p Payload) ([]byte, error) {
	plaintext, err := openEnvelope(d.envelopeKey, directionRequest, d.appSecret, d.transportKey, p.Parameters, p.Cryptogram)
	if err != nil {
		return nil, err
	}
	if len(plaintext) == 0 {
		return nil, ErrInvalidInputFormat
	}
	return plaintext, nil
}

// Encryptor encrypts one response payload with a previously derived
// envelope key.
type Encryptor struct {
	envelopeKey  *EnvelopeKey
	appSecret    []byte
	transportKey []byte
	direction    string
}

// NewEncryptor builds the response encryptor for an envelope key obtained
// from the request decryptor.
func NewEncryptor(envelopeKey *EnvelopeKey, applicationSecret, transportKey []byte) *Encryptor {
	return &Encryptor{
		envelopeKey:  envelopeKey,
		appSecret:    applicationSecret,
		transportKey: transportKey,
		direction:    directionResponse,
	}
}

// Encrypt seals the plaintext under the given parameters and returns the
// cryptogram. The ephemeral public key field is left empty; responses
// ride on the request's key agreement.
func (e *Encryptor) Encrypt(plaintext []byte, params Parameters) (Cryptogram, error) {
	return sealEnvelope(e.envelopeKey, e.direction, e.appSecret, e.transportKey, params, plaintext)
}

// RequestEncryptor produces device-side request payloads. The server does
// not use it in its request path; it backs tests and client tooling.
type RequestEncryptor struct {
	envelopeKey  *EnvelopeKey
	appSecret    []byte
	transportKey []byte
	ephemeralPub []byte
}

// NewRequestEncryptor generates an ephemeral key pair, performs ECDH with
// the server public key and derives the envelope key under the operation
// tag, mirroring NewDecryptor.
func NewRequestEncryptor(serverPublicKey *ecdh.PublicKey, applicationSecret, transportKey []byte, tag OperationTag) (*RequestEncryptor, error) {
	ephemeral, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	secret, err := ComputeSharedSecret(ephemeral, serverPublicKey, false)
	if err != nil {
		return nil, err
	}
	envKey, err := DeriveKey(secret, nil, append([]byte(envelopeKDFLabel), tag...), envKeySize)
	if err != nil {
		return nil, err
	}
	return &RequestEncryptor{
		envelopeKey:  &EnvelopeKey{key: envKey},
		appSecret:    applicationSecret,
		transportKey: transportKey,
		ephemeralPub: PublicKeyToBytes(ephemeral.PublicKey()),
	}, nil
}

// EnvelopeKey exposes the derived session key so a client can decrypt the
// matching response.
func (e *RequestEncryptor) EnvelopeKey() *EnvelopeKey { return e.envelopeKey }

// Encrypt seals a request plaintext. The returned cryptogram carries the
// ephemeral public key.
func (e *RequestEncryptor) Encrypt(plaintext []byte, params Parameters) (Cryptogram, error) {
	c, err := sealEnvelope(e.envelopeKey, directionRequest, e.appSecret, e.transportKey, params, plaintext)
	if err != nil {
		return Cryptogram{}, err
	}
	c.EphemeralPublicKey = e.ephemeralPub
	return c, nil
}

// DecryptResponse opens a response cryptogram on the client side.
func (e *RequestEncryptor) DecryptResponse(c Cryptogram, params Parameters) ([]byte, error) {
	return openEnvelope(e.envelopeKey, directionResponse, e.appSecret, e.transportKey, params, c)
}

// messageKey derives the per-message AES key. The direction label,
// application secret, transport key and (for v3.2+) the timestamp are
// all bound into the derivation; the wire nonce acts as salt.
func messageKey(env *EnvelopeKey, direction string, appSecret, transportKey []byte, params Parameters) ([]byte, error) {
	info := make([]byte, 0, len(direction)+len(appSecret)+len(transportKey)+10)
	info = append(info, direction...)
	info = append(info, 0x00)
	info = append(info, appSecret...)
	info = append(info, 0x00)
	info = append(info, transportKey...)
	if params.Timestamp != 0 {
		info = append(info, 0x00)
		info = binary.BigEndian.AppendUint64(info, uint64(params.Timestamp))
	}
	return DeriveKey(env.key, params.Nonce, info, envKeySize)
}

func gcmNonce(params Parameters) []byte {
	nonce := make([]byte, gcmNonceSize)
	copy(nonce, params.Nonce)
	return nonce
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenericCrypto, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenericCrypto, err)
	}
	return gcm, nil
}

func sealEnvelope(env *EnvelopeKey, direction string, appSecret, transportKey []byte, params Parameters, plaintext []byte) (Cryptogram, error) {
	key, err := messageKey(env, direction, appSecret, transportKey, params)
	if err != nil {
		return Cryptogram{}, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return Cryptogram{}, err
	}
	sealed := gcm.Seal(nil, gcmNonce(params), plaintext, params.AssociatedData)
	split := len(sealed) - gcmTagSize
	return Cryptogram{
		EncryptedData: sealed[:split],
		Mac:           sealed[split:],
	}, nil
}

func openEnvelope(env *EnvelopeKey, direction string, appSecret, transportKey []byte, params Parameters, c Cryptogram) ([]byte, error) {
	if len(c.Mac) != gcmTagSize {
		return nil, ErrDecryptionFailed
	}
	key, err := messageKey(env, direction, appSecret, transportKey, params)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, 0, len(c.EncryptedData)+gcmTagSize)
	sealed = append(sealed, c.EncryptedData...)
	sealed = append(sealed, c.Mac...)
	plaintext, err := gcm.Open(nil, gcmNonce(params), sealed, params.AssociatedData)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
