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
	"github.com/iliyamo/activation-server/internal/utils"
)

// RecoveryEngine implements postcard recovery code issuance, lookup,
// revocation, confirmation and the per-application recovery
// configuration.
type RecoveryEngine struct {
	activations       ActivationStore
	recovery          RecoveryStore
	apps              ApplicationStore
	vault             *KeyVault
	opener            *envelopeOpener
	replay            *ReplayGuard
	iterations        int
	maxFailedAttempts int64
	bcryptCost        int
}

// NewRecoveryEngine wires the recovery operations. iterations bounds
// the recovery code uniqueness retry loop, maxFailedAttempts is the
// attempt budget assigned to new recovery codes, bcryptCost is the PUK
// hash cost.
func NewRecoveryEngine(activations ActivationStore, recovery RecoveryStore, apps ApplicationStore, vault *KeyVault, replay *ReplayGuard, iterations, maxFailedAttempts, bcryptCost int) *RecoveryEngine {
	return &RecoveryEngine{
		activations:       activations,
		recovery:          recovery,
		apps:              apps,
		vault:             vault,
		opener:            &envelopeOpener{apps: apps, vault: vault},
		replay:            replay,
		iterations:        iterations,
		maxFailedAttempts: int64(maxFailedAttempts),
		bcryptCost:        bcryptCost,
	}
}

// CreateRecoveryCodeRequest asks for a new postcard recovery code for a
// user of an application with PukCount single-use PUKs.
type CreateRecoveryCodeRequest struct {
	ApplicationID string
	UserID        string
	PukCount      int
}

// CreatedRecoveryCode is returned once, with the PUK plaintexts that are
// never stored. The code itself is masked; the printing partner
// re-derives the full code from the shared secret and the seed.
type CreatedRecoveryCode struct {
	RecoveryCodeID   int64
	MaskedCode       string
	Status           model.RecoveryCodeStatus
	SeedNonce        string
	Puks             map[int]string
	PukDerivationIdx map[int]uint64
}

// CreateRecoveryCode derives a recovery code and its PUKs from the
// postcard ECDH shared secret, retrying on the rare code collision, and
// persists the code with bcrypt-hashed PUKs as the last step.
func (e *RecoveryEngine) CreateRecoveryCode(ctx context.Context, req CreateRecoveryCodeRequest) (*CreatedRecoveryCode, error) {
	if req.ApplicationID == "" || req.UserID == "" {
		return nil, errCode(ErrCodeInvalidRequest)
	}
	if req.PukCount < 1 || req.PukCount > crypto.MaxPukCount {
		log.Printf("recovery: puk count %d out of range", req.PukCount)
		return nil, errCode(ErrCodeUnableToGenerateRecoveryCode)
	}

	cfg, err := e.loadConfig(ctx, req.ApplicationID)
	if err != nil {
		return nil, err
	}
	if !cfg.ActivationRecovery || !cfg.PostcardRecovery {
		log.Printf("recovery: postcard recovery is disabled, application ID: %s", req.ApplicationID)
		return nil, errCode(ErrCodeInvalidRequest)
	}
	if cfg.PostcardPrivateKey == nil || cfg.RemotePostcardPublic == nil {
		log.Printf("recovery: postcard keys are not configured, application ID: %s", req.ApplicationID)
		return nil, errCode(ErrCodeInvalidRecoveryConfiguration)
	}

	if !cfg.AllowMultipleCodes {
		existing, err := e.recovery.ListRecoveryCodes(ctx, model.RecoveryCodeFilter{
			ApplicationID: req.ApplicationID,
			UserID:        req.UserID,
		})
		if err != nil {
			return nil, err
		}
		for _, code := range existing {
			if code.ActivationID == nil &&
				(code.Status == model.RecoveryCodeCreated || code.Status == model.RecoveryCodeActive) {
				log.Printf("recovery: recovery code already exists, user ID: %s", req.UserID)
				return nil, errCode(ErrCodeRecoveryCodeAlreadyExists)
			}
		}
	}

	privateKey, err := e.vault.PostcardPrivateKey(cfg)
	if err != nil {
		return nil, err
	}
	remotePublic, err := crypto.PublicKeyFromBytes(mustDecodeKey(*cfg.RemotePostcardPublic))
	if err != nil {
		return nil, mapCryptoError(err)
	}
	sharedSecret, err := crypto.ComputeSharedSecret(privateKey, remotePublic, true)
	if err != nil {
		return nil, mapCryptoError(err)
	}

	// Retry derivation until the code is unique for the application.
	var info *crypto.RecoveryInfo
	for i := 0; i < e.iterations; i++ {
		candidate, err := crypto.GenerateRecoveryCode(sharedSecret, req.PukCount)
		if err != nil {
			return nil, mapCryptoError(err)
		}
		count, err := e.recovery.CountRecoveryCodes(ctx, req.ApplicationID, candidate.RecoveryCode)
		if err != nil {
			return nil, err
		}
		if count == 0 {
			info = candidate
			break
		}
	}
	if info == nil || len(info.Puks) != req.PukCount {
		log.Printf("recovery: unable to generate recovery code, application ID: %s", req.ApplicationID)
		return nil, errCode(ErrCodeUnableToGenerateRecoveryCode)
	}

	now := time.Now().UTC()
	code := &model.RecoveryCode{
		Code:              info.RecoveryCode,
		UserID:            req.UserID,
		ApplicationID:     req.ApplicationID,
		Status:            model.RecoveryCodeCreated,
		MaxFailedAttempts: e.maxFailedAttempts,
		CreatedAt:         now,
	}
	puks := make([]model.RecoveryPuk, 0, req.PukCount)
	for i := 1; i <= req.PukCount; i++ {
		hash, err := utils.HashPassword(info.Puks[i], e.bcryptCost)
		if err != nil {
			return nil, errCode(ErrCodeGenericCryptography)
		}
		puks = append(puks, model.RecoveryPuk{
			PukIndex: int64(i),
			PukHash:  hash,
			Status:   model.RecoveryPukValid,
		})
	}
	if err := e.recovery.SaveRecoveryCode(ctx, code, puks); err != nil {
		return nil, err
	}

	return &CreatedRecoveryCode{
		RecoveryCodeID:   code.ID,
		MaskedCode:       crypto.MaskRecoveryCode(info.RecoveryCode),
		Status:           code.Status,
		SeedNonce:        base64.StdEncoding.EncodeToString(info.Seed.Nonce),
		Puks:             info.Puks,
		PukDerivationIdx: info.Seed.PukDerivationIndexes,
	}, nil
}

// confirmRecoveryPayload is the plaintext of the confirm request and
// response.
type confirmRecoveryPayload struct {
	RecoveryCode string `json:"recoveryCode"`
}

type confirmRecoveryResult struct {
	AlreadyConfirmed bool `json:"alreadyConfirmed"`
}

// ConfirmRecoveryCode activates a CREATED recovery code after the device
// proves possession of the printed code inside an encrypted envelope.
// Confirming an already ACTIVE code is reported, not failed, so a client
// retry after a lost response converges.
func (e *RecoveryEngine) ConfirmRecoveryCode(ctx context.Context, req EncryptedRequest) (EncryptedResponse, error) {
	if err := req.validate(); err != nil {
		log.Printf("recovery: invalid confirm request")
		return EncryptedResponse{}, err
	}

	activation, err := e.activations.FindActivation(ctx, req.ActivationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Printf("recovery: activation not found, activation ID: %s", req.ActivationID)
			return EncryptedResponse{}, errCode(ErrCodeActivationNotFound)
		}
		return EncryptedResponse{}, err
	}
	if err := requireActive(activation); err != nil {
		return EncryptedResponse{}, err
	}

	cfg, err := e.loadConfig(ctx, activation.ApplicationID)
	if err != nil {
		return EncryptedResponse{}, err
	}
	if !cfg.ActivationRecovery {
		log.Printf("recovery: activation recovery is disabled, application ID: %s", activation.ApplicationID)
		return EncryptedResponse{}, errCode(ErrCodeInvalidRecoveryConfiguration)
	}

	if crypto.RequiresTimestamp(req.ProtocolVersion) {
		err := e.replay.CheckAndPersist(ctx, model.UniqueEnvelopeActivationScope,
			time.UnixMilli(req.Timestamp), req.EphemeralPublicKey, req.Nonce, []byte(req.ActivationID))
		if err != nil {
			return EncryptedResponse{}, err
		}
	}

	envelope, err := e.opener.open(ctx, req, crypto.TagConfirmRecovery, activation)
	if err != nil {
		return EncryptedResponse{}, err
	}
	var payload confirmRecoveryPayload
	if err := json.Unmarshal(envelope.plaintext, &payload); err != nil {
		return EncryptedResponse{}, errCode(ErrCodeInvalidRequest)
	}
	if !crypto.ValidateRecoveryCodeFormat(payload.RecoveryCode) {
		log.Printf("recovery: malformed recovery code in confirm request")
		return EncryptedResponse{}, errCode(ErrCodeInvalidRequest)
	}

	code, err := e.recovery.FindRecoveryCodeByValue(ctx, activation.ApplicationID, payload.RecoveryCode)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return EncryptedResponse{}, errCode(ErrCodeRecoveryCodeNotFound)
		}
		return EncryptedResponse{}, err
	}
	if code.UserID != activation.UserID {
		log.Printf("recovery: recovery code user mismatch, activation ID: %s", activation.ActivationID)
		return EncryptedResponse{}, errCode(ErrCodeInvalidRequest)
	}
	switch code.Status {
	case model.RecoveryCodeCreated, model.RecoveryCodeActive:
	default:
		log.Printf("recovery: recovery code is not confirmable, recovery code ID: %d", code.ID)
		return EncryptedResponse{}, errCode(ErrCodeInvalidRequest)
	}
	alreadyConfirmed := code.Status == model.RecoveryCodeActive

	result, err := json.Marshal(confirmRecoveryResult{AlreadyConfirmed: alreadyConfirmed})
	if err != nil {
		return EncryptedResponse{}, errCode(ErrCodeEncryptionFailed)
	}
	response, err := envelope.encryptResponse(result)
	if err != nil {
		return EncryptedResponse{}, err
	}

	if !alreadyConfirmed {
		if err := e.recovery.UpdateRecoveryCodeStatus(ctx, code.ID, model.RecoveryCodeActive, time.Now().UTC()); err != nil {
			return EncryptedResponse{}, err
		}
	}
	return response, nil
}

// LookupRecoveryCodesRequest filters the recovery code listing. At least
// a user ID or an activation ID must be given; the optional status
// fields filter codes and PUKs after the fetch.
type LookupRecoveryCodesRequest struct {
	ApplicationID      string
	UserID             string
	ActivationID       string
	RecoveryCodeStatus model.RecoveryCodeStatus
	RecoveryPukStatus  model.RecoveryPukStatus
}

// RecoveryCodeDetail is one listed recovery code. The code value is
// masked.
type RecoveryCodeDetail struct {
	RecoveryCodeID int64
	MaskedCode     string
	ApplicationID  string
	UserID         string
	ActivationID   *string
	Status         model.RecoveryCodeStatus
	Puks           []model.RecoveryPuk
}

// LookupRecoveryCodes lists recovery codes with their PUKs. Lookups by
// application alone would enumerate every user's codes and are rejected.
func (e *RecoveryEngine) LookupRecoveryCodes(ctx context.Context, req LookupRecoveryCodesRequest) ([]RecoveryCodeDetail, error) {
	if req.UserID == "" && req.ActivationID == "" {
		log.Printf("recovery: lookup requires a user ID or an activation ID")
		return nil, errCode(ErrCodeInvalidRequest)
	}
	if req.ApplicationID != "" {
		if _, err := e.apps.FindApplication(ctx, req.ApplicationID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, errCode(ErrCodeInvalidApplication)
			}
			return nil, err
		}
	}

	codes, err := e.recovery.ListRecoveryCodes(ctx, model.RecoveryCodeFilter{
		ApplicationID: req.ApplicationID,
		UserID:        req.UserID,
		ActivationID:  req.ActivationID,
	})
	if err != nil {
		return nil, err
	}

	details := make([]RecoveryCodeDetail, 0, len(codes))
	for _, code := range codes {
		if req.RecoveryCodeStatus != "" && code.Status != req.RecoveryCodeStatus {
			continue
		}
		puks, err := e.recovery.ListRecoveryPuks(ctx, code.ID)
		if err != nil {
			return nil, err
		}
		if req.RecoveryPukStatus != "" {
			filtered := puks[:0]
			for _, puk := range puks {
				if puk.Status == req.RecoveryPukStatus {
					filtered = append(filtered, puk)
				}
			}
			puks = filtered
			if len(puks) == 0 {
				continue
			}
		}
		details = append(details, RecoveryCodeDetail{
			RecoveryCodeID: code.ID,
			MaskedCode:     crypto.MaskRecoveryCode(code.Code),
			ApplicationID:  code.ApplicationID,
			UserID:         code.UserID,
			ActivationID:   code.ActivationID,
			Status:         code.Status,
			Puks:           puks,
		})
	}
	return details, nil
}

// RevokeRecoveryCodes revokes the given recovery codes and invalidates
// their remaining VALID PUKs. Unknown IDs are skipped; the result
// reports whether anything changed.
func (e *RecoveryEngine) RevokeRecoveryCodes(ctx context.Context, recoveryCodeIDs []int64) (bool, error) {
	for _, id := range recoveryCodeIDs {
		if id <= 0 {
			return false, errCode(ErrCodeInvalidRequest)
		}
	}
	now := time.Now().UTC()
	revoked := 0
	for _, id := range recoveryCodeIDs {
		code, err := e.recovery.FindRecoveryCode(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return false, err
		}
		if code.Status == model.RecoveryCodeRevoked {
			continue
		}
		if err := e.recovery.UpdateRecoveryCodeStatus(ctx, code.ID, model.RecoveryCodeRevoked, now); err != nil {
			return false, err
		}
		puks, err := e.recovery.ListRecoveryPuks(ctx, code.ID)
		if err != nil {
			return false, err
		}
		for _, puk := range puks {
			if puk.Status != model.RecoveryPukValid {
				continue
			}
			if err := e.recovery.UpdateRecoveryPukStatus(ctx, puk.ID, model.RecoveryPukInvalid, now); err != nil {
				return false, err
			}
		}
		revoked++
	}
	return revoked > 0, nil
}

// GetRecoveryConfig returns the application's recovery configuration,
// creating the default disabled one on first access.
func (e *RecoveryEngine) GetRecoveryConfig(ctx context.Context, applicationID string) (*model.RecoveryConfig, error) {
	if applicationID == "" {
		return nil, errCode(ErrCodeInvalidRequest)
	}
	if _, err := e.apps.FindApplication(ctx, applicationID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errCode(ErrCodeInvalidApplication)
		}
		return nil, err
	}
	return e.loadConfig(ctx, applicationID)
}

// UpdateRecoveryConfigRequest carries the new configuration flags and
// the optional remote postcard public key. An empty RemotePostcardPublic
// with Remove set clears the stored key.
type UpdateRecoveryConfigRequest struct {
	ApplicationID        string
	ActivationRecovery   bool
	PostcardRecovery     bool
	AllowMultipleCodes   bool
	RemotePostcardPublic *string
}

// UpdateRecoveryConfig stores new settings. Enabling postcard recovery
// for the first time generates and seals the server-side postcard key
// pair; its public half is returned in the config for the printing
// partner.
func (e *RecoveryEngine) UpdateRecoveryConfig(ctx context.Context, req UpdateRecoveryConfigRequest) (*model.RecoveryConfig, error) {
	if req.ApplicationID == "" {
		return nil, errCode(ErrCodeInvalidRequest)
	}
	if _, err := e.apps.FindApplication(ctx, req.ApplicationID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errCode(ErrCodeInvalidApplication)
		}
		return nil, err
	}
	cfg, err := e.loadConfig(ctx, req.ApplicationID)
	if err != nil {
		return nil, err
	}

	if req.PostcardRecovery && cfg.PostcardPrivateKey == nil {
		private, err := crypto.GenerateKeyPair()
		if err != nil {
			return nil, mapCryptoError(err)
		}
		sealed, mode, err := e.vault.SealPostcardKey(req.ApplicationID, crypto.PrivateKeyToBytes(private))
		if err != nil {
			return nil, err
		}
		publicEncoded := base64.StdEncoding.EncodeToString(crypto.PublicKeyToBytes(private.PublicKey()))
		cfg.PostcardPrivateKey = &sealed
		cfg.PrivateKeyEncryption = mode
		cfg.PostcardPublicKey = &publicEncoded
	}

	if req.RemotePostcardPublic != nil {
		if *req.RemotePostcardPublic == "" {
			cfg.RemotePostcardPublic = nil
		} else {
			if _, err := crypto.PublicKeyFromBytes(mustDecodeKey(*req.RemotePostcardPublic)); err != nil {
				return nil, mapCryptoError(err)
			}
			cfg.RemotePostcardPublic = req.RemotePostcardPublic
		}
	}

	cfg.ActivationRecovery = req.ActivationRecovery
	cfg.PostcardRecovery = req.PostcardRecovery
	cfg.AllowMultipleCodes = req.AllowMultipleCodes
	if err := e.recovery.SaveRecoveryConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadConfig fetches the application's recovery configuration, creating
// the disabled default on first access.
func (e *RecoveryEngine) loadConfig(ctx context.Context, applicationID string) (*model.RecoveryConfig, error) {
	cfg, err := e.recovery.FindRecoveryConfig(ctx, applicationID)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	cfg = &model.RecoveryConfig{
		ApplicationID:        applicationID,
		PrivateKeyEncryption: model.NoEncryption,
	}
	if err := e.recovery.SaveRecoveryConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
