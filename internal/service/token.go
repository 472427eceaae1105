package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/iliyamo/activation-server/internal/crypto"
	"github.com/iliyamo/activation-server/internal/model"
	"github.com/iliyamo/activation-server/internal/repository"
)

// TokenService issues, validates and removes MAC authentication tokens.
type TokenService struct {
	activations ActivationStore
	tokens      TokenStore
	apps        ApplicationStore
	opener      *envelopeOpener
	replay      *ReplayGuard
	iterations  int
}

// NewTokenService wires the token operations. iterations bounds the
// token ID generation retry loop.
func NewTokenService(activations ActivationStore, tokens TokenStore, apps ApplicationStore, vault *KeyVault, replay *ReplayGuard, iterations int) *TokenService {
	return &TokenService{
		activations: activations,
		tokens:      tokens,
		apps:        apps,
		opener:      &envelopeOpener{apps: apps, vault: vault},
		replay:      replay,
		iterations:  iterations,
	}
}

// tokenInfo is the plaintext of the create-token response.
type tokenInfo struct {
	TokenID     string `json:"tokenId"`
	TokenSecret string `json:"tokenSecret"`
}

// CreateToken decrypts the request envelope, generates a unique token ID
// and secret, encrypts them with the request's envelope key and persists
// the token row as the last step.
func (s *TokenService) CreateToken(ctx context.Context, req EncryptedRequest, signatureType string) (EncryptedResponse, error) {
	if err := req.validate(); err != nil {
		log.Printf("token: invalid create token request")
		return EncryptedResponse{}, err
	}

	activation, err := s.activations.FindActivation(ctx, req.ActivationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Printf("token: activation not found, activation ID: %s", req.ActivationID)
			return EncryptedResponse{}, errCode(ErrCodeActivationNotFound)
		}
		return EncryptedResponse{}, err
	}
	if err := requireActive(activation); err != nil {
		return EncryptedResponse{}, err
	}

	if crypto.RequiresTimestamp(req.ProtocolVersion) {
		err := s.replay.CheckAndPersist(ctx, model.UniqueEnvelopeActivationScope,
			time.UnixMilli(req.Timestamp), req.EphemeralPublicKey, req.Nonce, []byte(req.ActivationID))
		if err != nil {
			return EncryptedResponse{}, err
		}
	}

	envelope, err := s.opener.open(ctx, req, crypto.TagCreateToken, activation)
	if err != nil {
		return EncryptedResponse{}, err
	}

	// Generate a unique token ID within the configured iteration bound.
	tokenID := ""
	for i := 0; i < s.iterations; i++ {
		candidate := crypto.GenerateTokenID()
		_, err := s.tokens.FindToken(ctx, candidate)
		if errors.Is(err, repository.ErrNotFound) {
			tokenID = candidate
			break
		}
		if err != nil {
			return EncryptedResponse{}, err
		}
	}
	if tokenID == "" {
		log.Printf("token: unable to generate token")
		return EncryptedResponse{}, errCode(ErrCodeUnableToGenerateToken)
	}

	secret, err := crypto.GenerateTokenSecret()
	if err != nil {
		return EncryptedResponse{}, mapCryptoError(err)
	}
	tokenSecret := base64.StdEncoding.EncodeToString(secret)

	payload, err := json.Marshal(tokenInfo{TokenID: tokenID, TokenSecret: tokenSecret})
	if err != nil {
		return EncryptedResponse{}, errCode(ErrCodeEncryptionFailed)
	}
	response, err := envelope.encryptResponse(payload)
	if err != nil {
		return EncryptedResponse{}, err
	}

	// Persist only after all fallible work has succeeded.
	token := &model.Token{
		TokenID:       tokenID,
		TokenSecret:   tokenSecret,
		ActivationID:  activation.ActivationID,
		SignatureType: signatureType,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.tokens.SaveToken(ctx, token); err != nil {
		return EncryptedResponse{}, err
	}
	return response, nil
}

// ValidateTokenRequest carries the MAC token credentials presented by a
// caller. Timestamp is epoch milliseconds.
type ValidateTokenRequest struct {
	TokenID     string
	TokenDigest []byte
	Nonce       []byte
	Timestamp   int64
}

// TokenValidation reports the validation result. The activation fields
// are filled whenever the token row exists, regardless of validity, so
// callers can tell an invalid token from a changed activation state.
type TokenValidation struct {
	TokenValid       bool
	ActivationID     string
	UserID           string
	ApplicationID    string
	ActivationStatus model.ActivationStatus
	BlockedReason    *string
	ActivationFlags  []string
	ApplicationRoles []string
	SignatureType    string
}

// ValidateToken verifies a presented token digest. An unknown token
// yields an invalid result rather than an error; validation doubles as
// an authentication check and must not leak why it failed.
func (s *TokenService) ValidateToken(ctx context.Context, req ValidateTokenRequest) (*TokenValidation, error) {
	token, err := s.tokens.FindToken(ctx, req.TokenID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &TokenValidation{TokenValid: false}, nil
		}
		return nil, err
	}

	activation, err := s.activations.FindActivation(ctx, token.ActivationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &TokenValidation{TokenValid: false}, nil
		}
		return nil, err
	}

	valid := false
	if activation.Status != model.ActivationActive {
		log.Printf("token: activation is not ACTIVE, activation ID: %s", activation.ActivationID)
	} else {
		err := s.replay.CheckAndPersist(ctx, model.UniqueMACToken,
			time.UnixMilli(req.Timestamp), req.Nonce, []byte(token.TokenID))
		if err != nil {
			return nil, err
		}
		secret, decErr := decodeBase64(token.TokenSecret)
		if decErr != nil {
			log.Printf("token: stored secret is corrupted, token ID: %s", token.TokenID)
			return nil, errCode(ErrCodeGenericCryptography)
		}
		valid = crypto.ValidateTokenDigest(req.Nonce, req.Timestamp, secret, req.TokenDigest)
	}

	var roles []string
	if app, err := s.apps.FindApplication(ctx, activation.ApplicationID); err == nil {
		roles = app.Roles
	}
	return &TokenValidation{
		TokenValid:       valid,
		ActivationID:     activation.ActivationID,
		UserID:           activation.UserID,
		ApplicationID:    activation.ApplicationID,
		ActivationStatus: activation.Status,
		BlockedReason:    activation.BlockedReason,
		ActivationFlags:  activation.Flags,
		ApplicationRoles: roles,
		SignatureType:    token.SignatureType,
	}, nil
}

// RemoveToken deletes a token when the caller-supplied activation ID
// matches the token's owner. A mismatch or unknown token reports
// removed=false without error.
func (s *TokenService) RemoveToken(ctx context.Context, tokenID, activationID string) (bool, error) {
	token, err := s.tokens.FindToken(ctx, tokenID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if token.ActivationID != activationID {
		return false, nil
	}
	if err := s.tokens.DeleteToken(ctx, tokenID); err != nil {
		return false, err
	}
	return true, nil
}
