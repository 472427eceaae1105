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
	"github.com/iliyamo/activation-server/internal/queue"
	"github.com/iliyamo/activation-server/internal/repository"
)

// UpgradeService drives the version 2 to version 3 upgrade of an
// activation: StartUpgrade bootstraps the hash-based counter and returns
// it inside an encrypted envelope, CommitUpgrade advances the version.
// Both run under a pessimistic row lock because of their cross-request
// read-then-write sequences.
type UpgradeService struct {
	activations ActivationStore
	opener      *envelopeOpener
	replay      *ReplayGuard
	history     HistoryPublisher
}

// NewUpgradeService wires the upgrade state machine.
func NewUpgradeService(activations ActivationStore, apps ApplicationStore, vault *KeyVault, replay *ReplayGuard, history HistoryPublisher) *UpgradeService {
	return &UpgradeService{
		activations: activations,
		opener:      &envelopeOpener{apps: apps, vault: vault},
		replay:      replay,
		history:     history,
	}
}

// upgradeResponsePayload is the plaintext of the start-upgrade response.
type upgradeResponsePayload struct {
	CtrData string `json:"ctrData"`
}

// StartUpgrade checks the encrypted request, initializes the hash-based
// counter if the activation has none yet and returns the counter in the
// encrypted response. An existing counter is reused so a client may
// safely retry after a lost response.
func (s *UpgradeService) StartUpgrade(ctx context.Context, req EncryptedRequest) (EncryptedResponse, error) {
	if err := req.validate(); err != nil {
		log.Printf("upgrade: invalid start upgrade request")
		return EncryptedResponse{}, err
	}

	if crypto.RequiresTimestamp(req.ProtocolVersion) {
		err := s.replay.CheckAndPersist(ctx, model.UniqueEnvelopeActivationScope,
			time.UnixMilli(req.Timestamp), req.EphemeralPublicKey, req.Nonce, []byte(req.ActivationID))
		if err != nil {
			return EncryptedResponse{}, err
		}
	}

	var response EncryptedResponse
	err := s.activations.WithLockedActivation(ctx, req.ActivationID, func(a *model.Activation) (bool, error) {
		if a.Status != model.ActivationActive || a.Version != 2 {
			log.Printf("upgrade: activation state is invalid, activation ID: %s", a.ActivationID)
			return false, errCode(ErrCodeActivationIncorrectState)
		}

		envelope, err := s.opener.open(ctx, req, crypto.TagUpgrade, a)
		if err != nil {
			return false, err
		}

		// Reuse an existing counter; the upgrade response may not have
		// reached the client, so a retry must see the same value.
		save := false
		var ctrData string
		if a.CtrData == nil {
			seed, err := crypto.InitCounter()
			if err != nil {
				return false, mapCryptoError(err)
			}
			ctrData = base64.StdEncoding.EncodeToString(seed)
			a.CtrData = &ctrData
			save = true
		} else {
			ctrData = *a.CtrData
		}

		payload, err := json.Marshal(upgradeResponsePayload{CtrData: ctrData})
		if err != nil {
			return false, errCode(ErrCodeEncryptionFailed)
		}
		response, err = envelope.encryptResponse(payload)
		if err != nil {
			return false, err
		}
		return save, nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Printf("upgrade: activation not found, activation ID: %s", req.ActivationID)
			return EncryptedResponse{}, errCode(ErrCodeActivationNotFound)
		}
		return EncryptedResponse{}, err
	}
	return response, nil
}

// CommitUpgrade advances an ACTIVE version-2 activation with an
// initialized counter to version 3. Committing without a prior
// StartUpgrade is an incorrect-state error.
func (s *UpgradeService) CommitUpgrade(ctx context.Context, activationID, applicationKey string) (bool, error) {
	if activationID == "" || applicationKey == "" {
		log.Printf("upgrade: invalid commit upgrade request")
		return false, errCode(ErrCodeInvalidRequest)
	}

	appVersion, err := s.opener.apps.FindApplicationVersionByKey(ctx, applicationKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, errCode(ErrCodeInvalidApplication)
		}
		return false, err
	}
	if !appVersion.Supported {
		log.Printf("upgrade: application version is not supported, application key: %s", applicationKey)
		return false, errCode(ErrCodeInvalidApplication)
	}

	var changed model.Activation
	err = s.activations.WithLockedActivation(ctx, activationID, func(a *model.Activation) (bool, error) {
		if a.Status != model.ActivationActive || a.Version != 2 {
			log.Printf("upgrade: activation state is invalid, activation ID: %s", a.ActivationID)
			return false, errCode(ErrCodeActivationIncorrectState)
		}
		if a.CtrData == nil {
			log.Printf("upgrade: activation counter data is missing, activation ID: %s", a.ActivationID)
			return false, errCode(ErrCodeActivationIncorrectState)
		}
		a.Version = 3
		changed = *a
		return true, nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Printf("upgrade: activation not found, activation ID: %s", activationID)
			return false, errCode(ErrCodeActivationNotFound)
		}
		return false, err
	}

	publishHistory(ctx, s.history, &changed, queue.ReasonVersionChanged)
	return true, nil
}
