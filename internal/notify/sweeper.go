package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tundeakins/ajopool/internal/db"
	"github.com/tundeakins/ajopool/internal/metrics"
)

// LedgerSweepStore is the sweeper's view of the delivery ledger.
type LedgerSweepStore interface {
	ListRetryable(ctx context.Context, maxRetries int, cutoff, claimedBefore time.Time) ([]*db.DeliveryLedgerEntry, error)
	MarkRetryOutcome(ctx context.Context, id uuid.UUID, status string, externalID, failureReason *string) error
}

// ContactReader resolves a recipient's current address for re-dispatch.
type ContactReader interface {
	GetContact(ctx context.Context, userID uuid.UUID) (*db.Contact, error)
}

// SweepOutcome aggregates one RetryFailed call.
type SweepOutcome struct {
	Retried   int
	Succeeded int
	Failed    int
}

// Sweeper re-dispatches recent failed ledger entries. It is the only code
// path that moves an entry from failed back toward sent. The message is
// rebuilt from the subject/body snapshot captured at first attempt; the
// original scheduling context is not reloaded.
type Sweeper struct {
	ledger   LedgerSweepStore
	contacts ContactReader
	drivers  *DriverSet
	timeout  time.Duration
	logger   *zap.Logger
}

// NewSweeper creates a Sweeper.
func NewSweeper(ledger LedgerSweepStore, contacts ContactReader, drivers *DriverSet, timeout time.Duration, logger *zap.Logger) *Sweeper {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Sweeper{
		ledger:   ledger,
		contacts: contacts,
		drivers:  drivers,
		timeout:  timeout,
		logger:   logger,
	}
}

// RetryFailed re-attempts failed entries with retry_count below maxRetries
// and a first attempt no older than maxAge. Entries past the age bound are
// permanently abandoned and never selected again.
//
// An unfinalized claim from another invocation looks exactly like a failed
// entry. A live claim is at most one dispatch timeout old plus the finalize
// write, so only claims older than twice the timeout are treated as orphaned
// and retried; younger ones are left to their owning invocation.
func (w *Sweeper) RetryFailed(ctx context.Context, maxRetries int, maxAge time.Duration) (SweepOutcome, error) {
	now := time.Now()
	cutoff := now.Add(-maxAge)
	claimedBefore := now.Add(-2 * w.timeout)

	entries, err := w.ledger.ListRetryable(ctx, maxRetries, cutoff, claimedBefore)
	if err != nil {
		return SweepOutcome{}, fmt.Errorf("list retryable entries: %w", err)
	}

	var out SweepOutcome
	for _, entry := range entries {
		if isLiveClaim(entry, claimedBefore) {
			continue
		}
		w.retryOne(ctx, entry, &out)
	}

	if out.Retried > 0 {
		w.logger.Info("retry sweep complete",
			zap.Int("retried", out.Retried),
			zap.Int("succeeded", out.Succeeded),
			zap.Int("failed", out.Failed),
		)
	}
	return out, nil
}

func (w *Sweeper) retryOne(ctx context.Context, entry *db.DeliveryLedgerEntry, out *SweepOutcome) {
	contact, err := w.contacts.GetContact(ctx, entry.RecipientID)
	if errors.Is(err, db.ErrContactNotFound) {
		// The member left or was removed; nothing to deliver to. Skipped
		// silently, the age bound eventually drops the entry from sweeps.
		return
	}
	if err != nil {
		w.logger.Error("failed to resolve retry contact",
			zap.Error(err),
			zap.String("entry_id", entry.ID.String()),
		)
		return
	}

	msg := RenderedMessage{
		Channel:   entry.Channel,
		To:        retryAddress(entry.Channel, contact),
		UserID:    entry.RecipientID,
		PoolID:    entry.PoolID,
		EventType: entry.EventType,
		Subject:   entry.Subject,
		TextBody:  entry.Body,
		HTMLBody:  htmlBody(entry.Channel, entry.Subject, entry.Body),
	}

	out.Retried++
	externalID, err := w.dispatch(ctx, msg)
	if err != nil {
		out.Failed++
		errMsg := err.Error()
		if merr := w.ledger.MarkRetryOutcome(ctx, entry.ID, db.StatusFailed, nil, &errMsg); merr != nil {
			w.logger.Error("failed to record retry outcome", zap.Error(merr), zap.String("entry_id", entry.ID.String()))
		}
		metrics.RecordReminderRetried(db.StatusFailed)
		w.logger.Warn("retry dispatch failed",
			zap.Error(err),
			zap.String("entry_id", entry.ID.String()),
			zap.String("channel", string(entry.Channel)),
			zap.Int("retry_count", entry.RetryCount+1),
		)
		return
	}

	out.Succeeded++
	var extPtr *string
	if externalID != "" {
		extPtr = &externalID
	}
	if merr := w.ledger.MarkRetryOutcome(ctx, entry.ID, db.StatusSent, extPtr, nil); merr != nil {
		w.logger.Error("failed to record retry outcome", zap.Error(merr), zap.String("entry_id", entry.ID.String()))
	}
	metrics.RecordReminderRetried(db.StatusSent)
	w.logger.Info("retry succeeded",
		zap.String("entry_id", entry.ID.String()),
		zap.String("channel", string(entry.Channel)),
	)
}

// isLiveClaim reports whether the entry is an in-flight claim another
// invocation may still be dispatching. The store already filters these;
// the check repeats here so no LedgerSweepStore implementation can hand
// the sweeper a double-send.
func isLiveClaim(entry *db.DeliveryLedgerEntry, claimedBefore time.Time) bool {
	return entry.FailureReason != nil &&
		*entry.FailureReason == db.ReasonDispatchInProgress &&
		!entry.UpdatedAt.Before(claimedBefore)
}

func retryAddress(ch db.Channel, contact *db.Contact) string {
	switch ch {
	case db.ChannelEmail:
		return contact.Email
	case db.ChannelSMS:
		if contact.Phone != nil {
			return *contact.Phone
		}
		return ""
	default:
		return contact.UserID.String()
	}
}

func (w *Sweeper) dispatch(ctx context.Context, msg RenderedMessage) (string, error) {
	driver, ok := w.drivers.For(msg.Channel)
	if !ok {
		return "", fmt.Errorf("no driver for channel %s", msg.Channel)
	}

	dctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	return driver.Deliver(dctx, msg)
}
