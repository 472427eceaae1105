package service

import (
	"crypto/ecdh"
	"encoding/base64"
	"errors"
	"log"

	"github.com/iliyamo/activation-server/internal/crypto"
	"github.com/iliyamo/activation-server/internal/model"
)

// KeyVault opens and seals the private keys stored on activation and
// recovery-config rows. When no master key is configured, keys are kept
// base64 encoded with the NO_ENCRYPTION mode tag.
type KeyVault struct {
	masterKey []byte
}

// NewKeyVault builds a vault; masterKey may be nil to disable sealing.
func NewKeyVault(masterKey []byte) *KeyVault {
	return &KeyVault{masterKey: masterKey}
}

func (v *KeyVault) open(stored string, mode model.EncryptionMode, context []byte) ([]byte, error) {
	switch mode {
	case model.NoEncryption:
		b, err := base64.StdEncoding.DecodeString(stored)
		if err != nil {
			return nil, errCode(ErrCodeInvalidKeyFormat)
		}
		return b, nil
	case model.AESGCMEncryption:
		if len(v.masterKey) == 0 {
			log.Printf("keyvault: sealed key found but no master key is configured")
			return nil, errCode(ErrCodeCryptoProviderUnavailable)
		}
		b, err := crypto.OpenPrivateKey(v.masterKey, context, stored)
		if err != nil {
			return nil, mapCryptoError(err)
		}
		return b, nil
	default:
		return nil, errCode(ErrCodeInvalidKeyFormat)
	}
}

// Seal prepares key bytes for storage and reports the mode used.
func (v *KeyVault) Seal(keyBytes, context []byte) (string, model.EncryptionMode, error) {
	if len(v.masterKey) == 0 {
		return base64.StdEncoding.EncodeToString(keyBytes), model.NoEncryption, nil
	}
	sealed, err := crypto.SealPrivateKey(v.masterKey, context, keyBytes)
	if err != nil {
		return "", "", mapCryptoError(err)
	}
	return sealed, model.AESGCMEncryption, nil
}

// ServerPrivateKey opens the activation's server private key. The seal
// context binds the key to its user and activation.
func (v *KeyVault) ServerPrivateKey(a *model.Activation) (*ecdh.PrivateKey, error) {
	context := []byte(a.UserID + "\x00" + a.ActivationID)
	keyBytes, err := v.open(a.ServerPrivateKey, a.ServerKeyEncryption, context)
	if err != nil {
		return nil, err
	}
	priv, err := crypto.PrivateKeyFromBytes(keyBytes)
	if err != nil {
		return nil, mapCryptoError(err)
	}
	return priv, nil
}

// PostcardPrivateKey opens the recovery postcard private key of an
// application.
func (v *KeyVault) PostcardPrivateKey(cfg *model.RecoveryConfig) (*ecdh.PrivateKey, error) {
	if cfg.PostcardPrivateKey == nil {
		return nil, errCode(ErrCodeInvalidRecoveryConfiguration)
	}
	keyBytes, err := v.open(*cfg.PostcardPrivateKey, cfg.PrivateKeyEncryption, []byte(cfg.ApplicationID))
	if err != nil {
		return nil, err
	}
	priv, err := crypto.PrivateKeyFromBytes(keyBytes)
	if err != nil {
		return nil, mapCryptoError(err)
	}
	return priv, nil
}

// SealPostcardKey seals a freshly generated postcard private key for the
// application.
func (v *KeyVault) SealPostcardKey(applicationID string, keyBytes []byte) (string, model.EncryptionMode, error) {
	return v.Seal(keyBytes, []byte(applicationID))
}

// mapCryptoError converts crypto package sentinels into business errors.
// Unexpected internals are logged and collapsed into the generic
// cryptography code so no primitive detail leaks to callers.
func mapCryptoError(err error) *ServiceError {
	switch {
	case errors.Is(err, crypto.ErrInvalidKeyFormat):
		return errCode(ErrCodeInvalidKeyFormat)
	case errors.Is(err, crypto.ErrDecryptionFailed):
		return errCode(ErrCodeDecryptionFailed)
	case errors.Is(err, crypto.ErrEncryptionFailed):
		return errCode(ErrCodeEncryptionFailed)
	case errors.Is(err, crypto.ErrInvalidInputFormat):
		return errCode(ErrCodeInvalidInputFormat)
	default:
		log.Printf("crypto: %v", err)
		return errCode(ErrCodeGenericCryptography)
	}
}
