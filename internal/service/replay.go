package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"log"
	"time"

	"github.com/iliyamo/activation-server/internal/model"
	"github.com/iliyamo/activation-server/internal/repository"
)

// ReplayGuard records single-use request values so that a structurally
// identical request is rejected until the record expires. The composite
// value derives from the operation type and the identifying byte
// sequences of the request (ephemeral key and nonce for envelope
// operations, nonce and token ID for MAC token validation).
type ReplayGuard struct {
	store  UniqueValueStore
	window time.Duration
	now    func() time.Time
}

// NewReplayGuard builds a guard with the configured request-expiration
// window. The window bounds both record lifetime and accepted clock skew
// of request timestamps.
func NewReplayGuard(store UniqueValueStore, window time.Duration) *ReplayGuard {
	return &ReplayGuard{store: store, window: window, now: time.Now}
}

// CheckAndPersist rejects requests whose timestamp falls outside the
// replay window, derives the composite value and inserts it. A duplicate
// insert means the request was seen before; both cases surface as
// ReplayDetected (fail closed).
func (g *ReplayGuard) CheckAndPersist(ctx context.Context, typ model.UniqueValueType, timestamp time.Time, identifiers ...[]byte) error {
	now := g.now()
	if timestamp.Before(now.Add(-g.window)) || timestamp.After(now.Add(g.window)) {
		log.Printf("replay: request timestamp outside window, type=%s", typ)
		return errCode(ErrCodeReplayDetected)
	}
	record := model.UniqueValue{
		Value:     deriveUniqueValue(typ, identifiers),
		Type:      typ,
		ExpiresAt: now.Add(g.window),
	}
	if err := g.store.InsertUniqueValue(ctx, record); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			log.Printf("replay: duplicate request detected, type=%s", typ)
			return errCode(ErrCodeReplayDetected)
		}
		return err
	}
	return nil
}

// SweepExpired removes expired replay records. Failures are reported to
// the caller for logging but never block request processing.
func (g *ReplayGuard) SweepExpired(ctx context.Context) (int64, error) {
	return g.store.DeleteExpiredUniqueValues(ctx, g.now())
}

// RunSweeper runs the periodic sweep until the context is cancelled.
// Sweep failures are logged and the loop continues.
func (g *ReplayGuard) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := g.SweepExpired(ctx)
			if err != nil {
				log.Printf("replay: sweep failed: %v", err)
				continue
			}
			if removed > 0 {
				log.Printf("replay: removed %d expired unique values", removed)
			}
		}
	}
}

// deriveUniqueValue hashes the type and length-prefixed identifier parts
// into the stored composite value.
func deriveUniqueValue(typ model.UniqueValueType, identifiers [][]byte) string {
	h := sha256.New()
	h.Write([]byte(typ))
	for _, part := range identifiers {
		h.Write(binary.BigEndian.AppendUint32(nil, uint32(len(part))))
		h.Write(part)
	}
	return string(typ) + "_" + base64.StdEncoding.EncodeToString(h.Sum(nil))
}
