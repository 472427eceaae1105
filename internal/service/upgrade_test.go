package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/activation-server/internal/crypto"
	"github.com/iliyamo/activation-server/internal/model"
	"github.com/iliyamo/activation-server/internal/queue"
)

func newUpgradeService(bed *testBed, history HistoryPublisher) *UpgradeService {
	return NewUpgradeService(bed.activations, bed.apps, bed.vault, bed.newReplayGuard(), history)
}

func startUpgradeCtr(t *testing.T, svc *UpgradeService, bed *testBed, version string) string {
	t.Helper()
	req, client := bed.encryptRequest(t, crypto.TagUpgrade, version, []byte(`{}`))
	resp, err := svc.StartUpgrade(context.Background(), req)
	require.NoError(t, err)

	var payload struct {
		CtrData string `json:"ctrData"`
	}
	require.NoError(t, json.Unmarshal(client.openResponse(t, resp), &payload))
	require.NotEmpty(t, payload.CtrData)
	return payload.CtrData
}

func TestStartUpgradeInitializesCounter(t *testing.T) {
	bed := newTestBed(t)
	svc := newUpgradeService(bed, nil)

	ctr := startUpgradeCtr(t, svc, bed, "3.2")

	stored := bed.activations.get(bed.activationID)
	require.NotNil(t, stored.CtrData)
	require.Equal(t, ctr, *stored.CtrData)
	require.Equal(t, 2, stored.Version, "version advances only on commit")
}

func TestStartUpgradeRetryReturnsSameCounter(t *testing.T) {
	bed := newTestBed(t)
	svc := newUpgradeService(bed, nil)

	first := startUpgradeCtr(t, svc, bed, "3.2")
	second := startUpgradeCtr(t, svc, bed, "3.2")
	require.Equal(t, first, second, "a client retry after a lost response must see the same counter")
}

func TestStartUpgradeLegacyVersionEchoesNonce(t *testing.T) {
	bed := newTestBed(t)
	svc := newUpgradeService(bed, nil)

	req, client := bed.encryptRequest(t, crypto.TagUpgrade, "3.0", []byte(`{}`))
	resp, err := svc.StartUpgrade(context.Background(), req)
	require.NoError(t, err)
	require.Empty(t, resp.Nonce)
	require.Zero(t, resp.Timestamp)
	require.NotEmpty(t, client.openResponse(t, resp))
}

func TestStartUpgradeReplayRejected(t *testing.T) {
	bed := newTestBed(t)
	svc := newUpgradeService(bed, nil)

	req, _ := bed.encryptRequest(t, crypto.TagUpgrade, "3.2", []byte(`{}`))
	_, err := svc.StartUpgrade(context.Background(), req)
	require.NoError(t, err)

	_, err = svc.StartUpgrade(context.Background(), req)
	require.ErrorIs(t, err, errCode(ErrCodeReplayDetected))
}

func TestStartUpgradeWrongState(t *testing.T) {
	for name, mutate := range map[string]func(a *model.Activation){
		"blocked activation": func(a *model.Activation) { a.Status = model.ActivationBlocked },
		"already version 3":  func(a *model.Activation) { a.Version = 3 },
	} {
		t.Run(name, func(t *testing.T) {
			bed := newTestBed(t)
			a := bed.activations.get(bed.activationID)
			mutate(a)
			bed.activations.put(a)
			svc := newUpgradeService(bed, nil)

			req, _ := bed.encryptRequest(t, crypto.TagUpgrade, "3.2", []byte(`{}`))
			_, err := svc.StartUpgrade(context.Background(), req)
			require.ErrorIs(t, err, errCode(ErrCodeActivationIncorrectState))
		})
	}
}

func TestStartUpgradeUnknownActivation(t *testing.T) {
	bed := newTestBed(t)
	svc := newUpgradeService(bed, nil)

	req, _ := bed.encryptRequest(t, crypto.TagUpgrade, "3.2", []byte(`{}`))
	req.ActivationID = "missing"
	_, err := svc.StartUpgrade(context.Background(), req)
	require.ErrorIs(t, err, errCode(ErrCodeActivationNotFound))
}

func TestStartUpgradeUnsupportedApplicationVersion(t *testing.T) {
	bed := newTestBed(t)
	bed.apps.versions[bed.applicationKey].Supported = false
	svc := newUpgradeService(bed, nil)

	req, _ := bed.encryptRequest(t, crypto.TagUpgrade, "3.2", []byte(`{}`))
	_, err := svc.StartUpgrade(context.Background(), req)
	require.ErrorIs(t, err, errCode(ErrCodeInvalidApplication))
}

func TestCommitUpgrade(t *testing.T) {
	bed := newTestBed(t)
	history := &fakeHistoryPublisher{}
	svc := newUpgradeService(bed, history)

	startUpgradeCtr(t, svc, bed, "3.2")

	committed, err := svc.CommitUpgrade(context.Background(), bed.activationID, bed.applicationKey)
	require.NoError(t, err)
	require.True(t, committed)

	stored := bed.activations.get(bed.activationID)
	require.Equal(t, 3, stored.Version)

	events := history.published()
	require.Len(t, events, 1)
	require.Equal(t, queue.ReasonVersionChanged, events[0].Reason)
	require.Equal(t, bed.activationID, events[0].ActivationID)
	require.Equal(t, 3, events[0].Version)
}

func TestCommitUpgradeIsNotIdempotent(t *testing.T) {
	bed := newTestBed(t)
	svc := newUpgradeService(bed, nil)

	startUpgradeCtr(t, svc, bed, "3.2")
	_, err := svc.CommitUpgrade(context.Background(), bed.activationID, bed.applicationKey)
	require.NoError(t, err)

	// The activation is on version 3 now; a second commit fails.
	_, err = svc.CommitUpgrade(context.Background(), bed.activationID, bed.applicationKey)
	require.ErrorIs(t, err, errCode(ErrCodeActivationIncorrectState))
}

func TestCommitUpgradeWithoutStart(t *testing.T) {
	bed := newTestBed(t)
	svc := newUpgradeService(bed, nil)

	_, err := svc.CommitUpgrade(context.Background(), bed.activationID, bed.applicationKey)
	require.ErrorIs(t, err, errCode(ErrCodeActivationIncorrectState))
}

func TestCommitUpgradeValidation(t *testing.T) {
	bed := newTestBed(t)
	svc := newUpgradeService(bed, nil)

	_, err := svc.CommitUpgrade(context.Background(), "", bed.applicationKey)
	require.ErrorIs(t, err, errCode(ErrCodeInvalidRequest))

	_, err = svc.CommitUpgrade(context.Background(), bed.activationID, "unknown-key")
	require.ErrorIs(t, err, errCode(ErrCodeInvalidApplication))
}
