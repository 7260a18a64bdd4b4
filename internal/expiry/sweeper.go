package expiry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"signetry/internal/audit"
	"signetry/internal/envelope/models"
	"signetry/internal/envelope/store"
	"signetry/internal/notify"
)

// ActorSweeper marks audit events produced by the expiry sweep.
const ActorSweeper = "expiry-sweeper"

const sweepBatchSize = 100

// Sweeper periodically moves overdue active envelopes to EXPIRED. The
// transition goes through the store's idempotent event path, so a racing
// provider-side expiry webhook and a sweep cannot both apply.
type Sweeper struct {
	store    store.Store
	audits   audit.Store
	notifier notify.Notifier
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time
}

func NewSweeper(envStore store.Store, audits audit.Store, notifier notify.Notifier, interval time.Duration, log *slog.Logger) *Sweeper {
	return &Sweeper{
		store:    envStore,
		audits:   audits,
		notifier: notifier,
		interval: interval,
		log:      log,
		now:      time.Now,
	}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.Sweep(ctx); err != nil {
				s.log.Error("expiry sweep failed", "error", err)
			} else if n > 0 {
				s.log.Info("expiry sweep", "expired", n)
			}
		}
	}
}

// Sweep expires every overdue envelope once and returns how many it expired.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	due, err := s.store.ListDueForExpiry(ctx, s.now(), sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("expiry: list due envelopes: %w", err)
	}

	expired := 0
	for _, env := range due {
		if env.ProviderEnvelopeID == nil {
			continue
		}
		updated, applied, err := s.store.ApplyProviderEvent(ctx, *env.ProviderEnvelopeID,
			models.EventExpired, models.EventPayload{})
		if err != nil {
			s.log.Error("expire envelope failed", "envelope_id", env.ID, "error", err)
			continue
		}
		if !applied {
			continue
		}
		expired++

		if err := s.audits.Append(ctx, audit.Event{
			ID:         uuid.New(),
			EnvelopeID: updated.ID,
			Action:     audit.ActionExpired,
			Actor:      ActorSweeper,
			Details:    map[string]any{"expires_at": updated.ExpiresAt},
			CreatedAt:  time.Now().UTC(),
		}); err != nil {
			s.log.Error("audit append failed", "envelope_id", updated.ID, "error", err)
		}

		data := map[string]any{"envelope_id": updated.ID.String()}
		msg := fmt.Sprintf("Envelope %q expired before all parties signed.", updated.Name)
		if err := s.notifier.Notify(ctx, updated.CreatedByID, "envelope_expired", "Envelope expired", msg, data); err != nil {
			s.log.Warn("notification dispatch failed", "envelope_id", updated.ID, "error", err)
		}
	}
	return expired, nil
}
