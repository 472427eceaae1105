package service

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/iliyamo/activation-server/internal/crypto"
	"github.com/iliyamo/activation-server/internal/model"
	"github.com/iliyamo/activation-server/internal/repository"
)

// EncryptedRequest carries the recurring envelope fields of a protocol
// request after base64 decoding at the transport boundary. Timestamp is
// epoch milliseconds and zero for protocol versions that omit it.
type EncryptedRequest struct {
	ActivationID       string
	ApplicationKey     string
	EphemeralPublicKey []byte
	EncryptedData      []byte
	Mac                []byte
	Nonce              []byte
	Timestamp          int64
	ProtocolVersion    string
}

// EncryptedResponse carries the envelope fields of a protocol response.
// Nonce and Timestamp are set only for protocol versions from 3.2 on.
type EncryptedResponse struct {
	EncryptedData []byte
	Mac           []byte
	Nonce         []byte
	Timestamp     int64
}

func (r EncryptedRequest) validate() error {
	if r.ActivationID == "" || r.ApplicationKey == "" || len(r.EphemeralPublicKey) == 0 ||
		len(r.EncryptedData) == 0 || len(r.Mac) == 0 || r.ProtocolVersion == "" {
		return errCode(ErrCodeInvalidRequest)
	}
	if crypto.RequiresTimestamp(r.ProtocolVersion) && (r.Timestamp == 0 || len(r.Nonce) == 0) {
		return errCode(ErrCodeInvalidRequest)
	}
	return nil
}

// openedEnvelope is a decrypted request together with the session state
// needed to encrypt the matching response with the same envelope key.
type openedEnvelope struct {
	plaintext      []byte
	envelopeKey    *crypto.EnvelopeKey
	appSecret      []byte
	transportKey   []byte
	associatedData []byte
	requestNonce   []byte
	version        string
}

// envelopeOpener performs the shared envelope-decryption sequence:
// resolve the application version, open the server private key, derive
// the transport key from ECDH with the device public key and decrypt
// under the operation tag.
type envelopeOpener struct {
	apps  ApplicationStore
	vault *KeyVault
}

func (o *envelopeOpener) open(ctx context.Context, req EncryptedRequest, tag crypto.OperationTag, activation *model.Activation) (*openedEnvelope, error) {
	appVersion, err := o.apps.FindApplicationVersionByKey(ctx, req.ApplicationKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errCode(ErrCodeInvalidApplication)
		}
		return nil, err
	}
	if !appVersion.Supported {
		return nil, errCode(ErrCodeInvalidApplication)
	}
	appSecret := []byte(appVersion.ApplicationSecret)

	serverPrivateKey, err := o.vault.ServerPrivateKey(activation)
	if err != nil {
		return nil, err
	}
	devicePublicKey, err := crypto.PublicKeyFromBytes(mustDecodeKey(activation.DevicePublicKey))
	if err != nil {
		return nil, mapCryptoError(err)
	}
	sharedSecret, err := crypto.ComputeSharedSecret(serverPrivateKey, devicePublicKey, false)
	if err != nil {
		return nil, mapCryptoError(err)
	}
	transportKey := crypto.SharedSecretToKeyBytes(sharedSecret)

	associatedData := crypto.AssociatedData(crypto.ScopeActivation, req.ProtocolVersion, req.ApplicationKey, req.ActivationID)
	params := crypto.Parameters{
		Nonce:          req.Nonce,
		AssociatedData: associatedData,
		Timestamp:      req.Timestamp,
	}
	decryptor, err := crypto.NewDecryptor(serverPrivateKey, appSecret, transportKey, tag, params, req.EphemeralPublicKey)
	if err != nil {
		return nil, mapCryptoError(err)
	}
	plaintext, err := decryptor.Decrypt(crypto.Payload{
		Cryptogram: crypto.Cryptogram{
			EphemeralPublicKey: req.EphemeralPublicKey,
			EncryptedData:      req.EncryptedData,
			Mac:                req.Mac,
		},
		Parameters: params,
	})
	if err != nil {
		return nil, mapCryptoError(err)
	}
	return &openedEnvelope{
		plaintext:      plaintext,
		envelopeKey:    decryptor.EnvelopeKey(),
		appSecret:      appSecret,
		transportKey:   transportKey,
		associatedData: associatedData,
		requestNonce:   req.Nonce,
		version:        req.ProtocolVersion,
	}, nil
}

// encryptResponse seals the response plaintext reusing the request's
// envelope key. Versions from 3.2 on get a fresh nonce and a server
// timestamp; earlier versions echo the request nonce and omit the
// timestamp.
func (e *openedEnvelope) encryptResponse(plaintext []byte) (EncryptedResponse, error) {
	nonce := e.requestNonce
	var timestamp int64
	if crypto.RequiresTimestamp(e.version) {
		fresh, err := crypto.RandomBytes(crypto.NonceLength)
		if err != nil {
			return EncryptedResponse{}, mapCryptoError(err)
		}
		nonce = fresh
		timestamp = time.Now().UnixMilli()
	}
	params := crypto.Parameters{
		Nonce:          nonce,
		AssociatedData: e.associatedData,
		Timestamp:      timestamp,
	}
	encryptor := crypto.NewEncryptor(e.envelopeKey, e.appSecret, e.transportKey)
	cryptogram, err := encryptor.Encrypt(plaintext, params)
	if err != nil {
		return EncryptedResponse{}, mapCryptoError(err)
	}
	resp := EncryptedResponse{
		EncryptedData: cryptogram.EncryptedData,
		Mac:           cryptogram.Mac,
		Timestamp:     timestamp,
	}
	if crypto.RequiresTimestamp(e.version) {
		resp.Nonce = nonce
	}
	return resp, nil
}

func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// mustDecodeKey tolerates stored base64 by returning nil on corruption;
// the subsequent key parse reports InvalidKeyFormat.
func mustDecodeKey(stored string) []byte {
	b, err := decodeBase64(stored)
	if err != nil {
		return nil
	}
	return b
}
