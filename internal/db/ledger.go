package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LedgerRepository handles the delivery ledger, the append-only record of
// every attempted (schedule, recipient, event instant, channel) tuple.
type LedgerRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewLedgerRepository creates a ledger repository.
func NewLedgerRepository(db *DB, logger *zap.Logger) *LedgerRepository {
	return &LedgerRepository{db: db, logger: logger}
}

const ledgerColumns = `
	id, schedule_id, recipient_id, pool_id, event_type, event_instant,
	channel, status, subject, body, external_id, failure_reason,
	retry_count, sent_at, updated_at
`

// Exists reports whether an attempt has already been recorded for the
// idempotency tuple. Both sent and failed entries suppress re-emission by
// the scheduler; failed ones are only revisited by the retry sweeper.
func (r *LedgerRepository) Exists(ctx context.Context, scheduleID, recipientID uuid.UUID, eventInstant time.Time, channel Channel) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM delivery_ledger
			WHERE schedule_id = $1 AND recipient_id = $2
			  AND event_instant = $3 AND channel = $4
		)
	`

	var exists bool
	err := r.db.Pool().QueryRow(ctx, query, scheduleID, recipientID, eventInstant, channel).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query ledger existence: %w", err)
	}
	return exists, nil
}

// Claim inserts the entry, relying on the unique constraint over
// (schedule_id, recipient_id, event_instant, channel). It returns false when
// another invocation already holds the tuple, which is what makes concurrent
// invocations unable to double-send without any external locking.
func (r *LedgerRepository) Claim(ctx context.Context, e *DeliveryLedgerEntry) (bool, error) {
	query := `
		INSERT INTO delivery_ledger (
			id, schedule_id, recipient_id, pool_id, event_type, event_instant,
			channel, status, subject, body, failure_reason, retry_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0)
		ON CONFLICT ON CONSTRAINT delivery_ledger_attempt_key DO NOTHING
	`

	result, err := r.db.Pool().Exec(ctx, query,
		e.ID,
		e.ScheduleID,
		e.RecipientID,
		e.PoolID,
		e.EventType,
		e.EventInstant,
		e.Channel,
		e.Status,
		e.Subject,
		e.Body,
		e.FailureReason,
	)
	if err != nil {
		return false, fmt.Errorf("insert ledger entry: %w", err)
	}

	if result.RowsAffected() == 0 {
		r.logger.Debug("ledger claim lost to concurrent invocation",
			zap.String("schedule_id", e.ScheduleID.String()),
			zap.String("recipient_id", e.RecipientID.String()),
			zap.String("channel", string(e.Channel)),
		)
		return false, nil
	}

	return true, nil
}

// Finalize records the outcome of the dispatch that followed a claim.
func (r *LedgerRepository) Finalize(ctx context.Context, id uuid.UUID, status string, externalID, failureReason *string) error {
	query := `
		UPDATE delivery_ledger
		SET status = $1, external_id = $2, failure_reason = $3, updated_at = NOW()
		WHERE id = $4
	`

	result, err := r.db.Pool().Exec(ctx, query, status, externalID, failureReason, id)
	if err != nil {
		return fmt.Errorf("finalize ledger entry: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("ledger entry not found: %s", id)
	}
	return nil
}

// ListRetryable returns failed entries still eligible for retry: fewer than
// maxRetries attempts and first attempted after cutoff. Older failures are
// permanently abandoned. In-flight claims are excluded unless last touched
// before claimedBefore; a concurrent invocation may still be dispatching a
// younger claim, and re-selecting it would deliver the reminder twice.
func (r *LedgerRepository) ListRetryable(ctx context.Context, maxRetries int, cutoff, claimedBefore time.Time) ([]*DeliveryLedgerEntry, error) {
	query := `
		SELECT ` + ledgerColumns + `
		FROM delivery_ledger
		WHERE status = $1 AND retry_count < $2 AND sent_at >= $3
		  AND (failure_reason IS DISTINCT FROM $4 OR updated_at < $5)
		ORDER BY sent_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, StatusFailed, maxRetries, cutoff, ReasonDispatchInProgress, claimedBefore)
	if err != nil {
		return nil, fmt.Errorf("query retryable entries: %w", err)
	}
	defer rows.Close()

	var entries []*DeliveryLedgerEntry
	for rows.Next() {
		var e DeliveryLedgerEntry
		err := rows.Scan(
			&e.ID,
			&e.ScheduleID,
			&e.RecipientID,
			&e.PoolID,
			&e.EventType,
			&e.EventInstant,
			&e.Channel,
			&e.Status,
			&e.Subject,
			&e.Body,
			&e.ExternalID,
			&e.FailureReason,
			&e.RetryCount,
			&e.SentAt,
			&e.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return entries, nil
}

// MarkRetryOutcome records a sweeper re-dispatch: retry_count always
// increments; status flips to sent on success (clearing the failure reason)
// or stays failed with the updated reason. This is the only path that moves
// an entry from failed back toward sent.
func (r *LedgerRepository) MarkRetryOutcome(ctx context.Context, id uuid.UUID, status string, externalID, failureReason *string) error {
	query := `
		UPDATE delivery_ledger
		SET status = $1, external_id = COALESCE($2, external_id),
		    failure_reason = $3, retry_count = retry_count + 1, updated_at = NOW()
		WHERE id = $4
	`

	result, err := r.db.Pool().Exec(ctx, query, status, externalID, failureReason, id)
	if err != nil {
		return fmt.Errorf("mark retry outcome: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("ledger entry not found: %s", id)
	}
	return nil
}

// ListByPool retrieves ledger entries for a pool, newest first, for the
// audit listing endpoint.
func (r *LedgerRepository) ListByPool(ctx context.Context, poolID uuid.UUID, limit, offset int) ([]*DeliveryLedgerEntry, error) {
	query := `
		SELECT ` + ledgerColumns + `
		FROM delivery_ledger
		WHERE pool_id = $1
		ORDER BY sent_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, poolID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*DeliveryLedgerEntry
	for rows.Next() {
		var e DeliveryLedgerEntry
		err := rows.Scan(
			&e.ID,
			&e.ScheduleID,
			&e.RecipientID,
			&e.PoolID,
			&e.EventType,
			&e.EventInstant,
			&e.Channel,
			&e.Status,
			&e.Subject,
			&e.Body,
			&e.ExternalID,
			&e.FailureReason,
			&e.RetryCount,
			&e.SentAt,
			&e.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return entries, nil
}
