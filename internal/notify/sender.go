// Package notify renders and dispatches pending reminders, and owns the two
// code paths that write the delivery ledger: the sender's first attempt and
// the retry sweeper's bounded re-dispatch.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tundeakins/ajopool/internal/db"
	"github.com/tundeakins/ajopool/internal/metrics"
	"github.com/tundeakins/ajopool/internal/scheduler"
)

// LedgerWriter is the sender's write access to the delivery ledger.
type LedgerWriter interface {
	Claim(ctx context.Context, e *db.DeliveryLedgerEntry) (bool, error)
	Finalize(ctx context.Context, id uuid.UUID, status string, externalID, failureReason *string) error
}

// Outcome aggregates one Process call.
type Outcome struct {
	Sent   int
	Failed int
	Errors []string
}

// Sender dispatches pending reminders sequentially. Outbound channels are
// rate sensitive; one reminder at a time bounds burst load and keeps failure
// attribution per item trivial.
type Sender struct {
	ledger  LedgerWriter
	drivers *DriverSet
	timeout time.Duration
	logger  *zap.Logger
}

// NewSender creates a Sender. timeout bounds each channel dispatch; a timed
// out dispatch is recorded as a failed, retryable attempt.
func NewSender(ledger LedgerWriter, drivers *DriverSet, timeout time.Duration, logger *zap.Logger) *Sender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Sender{
		ledger:  ledger,
		drivers: drivers,
		timeout: timeout,
		logger:  logger,
	}
}

// Process attempts every pending reminder. Each reminder is first claimed in
// the ledger; the unique attempt constraint means a claim lost to a
// concurrent invocation is skipped without dispatching, which is the
// at-most-one-attempt guarantee. Failures never abort the loop.
func (s *Sender) Process(ctx context.Context, pending []scheduler.PendingReminder) Outcome {
	var out Outcome
	for i := range pending {
		s.processOne(ctx, pending[i], &out)
	}

	s.logger.Info("sender pass complete",
		zap.Int("pending", len(pending)),
		zap.Int("sent", out.Sent),
		zap.Int("failed", out.Failed),
	)
	return out
}

func (s *Sender) processOne(ctx context.Context, p scheduler.PendingReminder, out *Outcome) {
	msg := Render(p)

	// The claim is persisted as a failed attempt before dispatch. If the
	// process dies mid-send the row stays retryable; the sweeper skips it
	// only while the claiming invocation could still be running.
	reason := db.ReasonDispatchInProgress
	entry := &db.DeliveryLedgerEntry{
		ID:            uuid.New(),
		ScheduleID:    p.ScheduleID,
		RecipientID:   p.RecipientID,
		PoolID:        p.PoolID,
		EventType:     p.EventType,
		EventInstant:  p.EventInstant,
		Channel:       p.Channel,
		Status:        db.StatusFailed,
		Subject:       msg.Subject,
		Body:          msg.TextBody,
		FailureReason: &reason,
	}

	claimed, err := s.ledger.Claim(ctx, entry)
	if err != nil {
		out.Failed++
		out.Errors = append(out.Errors, fmt.Sprintf("%s/%s: claim ledger: %v", p.EventType, p.Channel, err))
		s.logger.Error("failed to claim ledger entry",
			zap.Error(err),
			zap.String("schedule_id", p.ScheduleID.String()),
			zap.String("recipient_id", p.RecipientID.String()),
		)
		return
	}
	if !claimed {
		// Another invocation already owns this attempt.
		return
	}

	externalID, err := s.dispatch(ctx, msg)
	if err != nil {
		out.Failed++
		out.Errors = append(out.Errors, fmt.Sprintf("%s/%s: %v", p.EventType, p.Channel, err))
		errMsg := err.Error()
		if ferr := s.ledger.Finalize(ctx, entry.ID, db.StatusFailed, nil, &errMsg); ferr != nil {
			s.logger.Error("failed to finalize ledger entry",
				zap.Error(ferr),
				zap.String("entry_id", entry.ID.String()),
			)
		}
		metrics.RecordReminderDispatched(string(p.Channel), db.StatusFailed)
		s.logger.Warn("reminder dispatch failed",
			zap.Error(err),
			zap.String("event_type", string(p.EventType)),
			zap.String("channel", string(p.Channel)),
			zap.String("recipient_id", p.RecipientID.String()),
		)
		return
	}

	out.Sent++
	var extPtr *string
	if externalID != "" {
		extPtr = &externalID
	}
	if ferr := s.ledger.Finalize(ctx, entry.ID, db.StatusSent, extPtr, nil); ferr != nil {
		s.logger.Error("failed to finalize ledger entry",
			zap.Error(ferr),
			zap.String("entry_id", entry.ID.String()),
		)
	}
	metrics.RecordReminderDispatched(string(p.Channel), db.StatusSent)
	s.logger.Info("reminder sent",
		zap.String("event_type", string(p.EventType)),
		zap.String("channel", string(p.Channel)),
		zap.String("recipient_id", p.RecipientID.String()),
		zap.String("external_id", externalID),
	)
}

func (s *Sender) dispatch(ctx context.Context, msg RenderedMessage) (string, error) {
	driver, ok := s.drivers.For(msg.Channel)
	if !ok {
		return "", fmt.Errorf("no driver for channel %s", msg.Channel)
	}

	dctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	externalID, err := driver.Deliver(dctx, msg)
	metrics.RecordDispatchLatency(string(msg.Channel), time.Since(start))
	if err != nil {
		if dctx.Err() != nil {
			return "", fmt.Errorf("dispatch timed out after %s: %w", s.timeout, err)
		}
		return "", err
	}
	return externalID, nil
}
