package service

import (
	"context"
	"log"
	"time"

	"github.com/iliyamo/activation-server/internal/model"
	"github.com/iliyamo/activation-server/internal/queue"
)

// HistoryPublisher is the audit collaborator notified on activation
// status and version changes. Publish failures are logged by callers and
// never fail the operation that triggered them.
type HistoryPublisher interface {
	PublishActivationChange(ctx context.Context, event queue.ActivationChangedEvent) error
}

// requireActive fails unless the activation is in the ACTIVE state.
func requireActive(a *model.Activation) error {
	if a.Status != model.ActivationActive {
		log.Printf("activation: not ACTIVE, activation ID: %s", a.ActivationID)
		return errCode(ErrCodeActivationIncorrectState)
	}
	return nil
}

// publishHistory sends an activation change to the audit collaborator,
// best effort.
func publishHistory(ctx context.Context, publisher HistoryPublisher, a *model.Activation, reason string) {
	if publisher == nil {
		return
	}
	event := queue.ActivationChangedEvent{
		ActivationID:  a.ActivationID,
		UserID:        a.UserID,
		ApplicationID: a.ApplicationID,
		Status:        string(a.Status),
		Version:       a.Version,
		Reason:        reason,
		ChangedAt:     time.Now().UTC().Format(time.RFC3339),
	}
	if err := publisher.PublishActivationChange(ctx, event); err != nil {
		log.Printf("activation: history publish failed: %v", err)
	}
}
