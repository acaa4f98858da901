// Package scheduler decides which reminders are due on an invocation. The
// computation is a pure read over domain state, schedule templates,
// preferences and the delivery ledger: it writes nothing, so it is safe to
// run repeatedly and concurrently.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tundeakins/ajopool/internal/db"
	"github.com/tundeakins/ajopool/internal/prefs"
)

// paymentDueLead is the fixed gap between a round's payment deadline and its
// payout instant. The source application uses one day regardless of pool
// frequency; longer-frequency pools arguably deserve a proportional lead,
// but the behavior is kept as-is.
const paymentDueLead = 24 * time.Hour

// PendingReminder is one reminder the sender should attempt on this
// invocation. It carries enough denormalized pool context to render a
// message without a second domain lookup, and exists only in memory.
type PendingReminder struct {
	ScheduleID   uuid.UUID
	RecipientID  uuid.UUID
	PoolID       uuid.UUID
	EventType    db.EventType
	EventInstant time.Time
	Channel      db.Channel

	PoolName       string
	AmountCents    int64
	Currency       string
	Frequency      string
	Round          int
	Position       int
	RecipientName  string
	RecipientEmail string
	RecipientPhone string
	DueAt          time.Time

	// Optional admin-authored overrides from the schedule template.
	CustomSubject *string
	CustomBody    *string
}

// PoolReader lists live pools with members and current-round payment state.
type PoolReader interface {
	ListActive(ctx context.Context) ([]*db.Pool, error)
}

// ScheduleReader lists the active reminder templates for a pool.
type ScheduleReader interface {
	ListActiveByPool(ctx context.Context, poolID uuid.UUID) ([]*db.ReminderSchedule, error)
}

// PreferenceReader resolves a recipient's stored (or default) preferences.
type PreferenceReader interface {
	Get(ctx context.Context, userID uuid.UUID) (*db.NotificationPreference, error)
}

// LedgerReader answers whether an attempt tuple is already recorded.
type LedgerReader interface {
	Exists(ctx context.Context, scheduleID, recipientID uuid.UUID, eventInstant time.Time, channel db.Channel) (bool, error)
}

// Scheduler computes pending reminders for one invocation window.
type Scheduler struct {
	pools     PoolReader
	schedules ScheduleReader
	prefs     PreferenceReader
	ledger    LedgerReader
	logger    *zap.Logger
}

// New creates a Scheduler.
func New(pools PoolReader, schedules ScheduleReader, preferences PreferenceReader, ledger LedgerReader, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		pools:     pools,
		schedules: schedules,
		prefs:     preferences,
		ledger:    ledger,
		logger:    logger,
	}
}

// ComputePending scans active pools against their schedule templates and
// returns every reminder whose fire instant has been crossed within the
// lookahead window and that has no ledger entry yet.
//
// A reminder is considered due once its fire instant has passed; one that
// passed more than lookahead ago is permanently abandoned. The ledger check
// makes the first invocation past the fire instant the only one that emits,
// so the window only bounds how stale a missed reminder may be before it is
// dropped instead of sent late.
func (s *Scheduler) ComputePending(ctx context.Context, now time.Time, lookahead time.Duration) ([]PendingReminder, error) {
	pools, err := s.pools.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active pools: %w", err)
	}

	var pending []PendingReminder
	for _, pool := range pools {
		reminders, err := s.computeForPool(ctx, pool, now, lookahead)
		if err != nil {
			return nil, err
		}
		pending = append(pending, reminders...)
	}

	s.logger.Info("pending reminders computed",
		zap.Int("pools", len(pools)),
		zap.Int("pending", len(pending)),
		zap.Duration("lookahead", lookahead),
	)
	return pending, nil
}

func (s *Scheduler) computeForPool(ctx context.Context, pool *db.Pool, now time.Time, lookahead time.Duration) ([]PendingReminder, error) {
	schedules, err := s.schedules.ListActiveByPool(ctx, pool.ID)
	if err != nil {
		return nil, fmt.Errorf("list schedules for pool %s: %w", pool.ID, err)
	}
	if len(schedules) == 0 {
		return nil, nil
	}

	// Preferences are resolved once per recipient per pool; the same user
	// commonly appears for several schedules in one pass.
	prefCache := make(map[uuid.UUID]*db.NotificationPreference)

	var pending []PendingReminder
	for _, sched := range schedules {
		eventInstant, fireAt, ok := instants(pool, sched)
		if !ok {
			continue
		}

		if fireAt.After(now) || now.Sub(fireAt) > lookahead {
			continue
		}

		for _, member := range s.recipients(pool, sched.EventType) {
			reminders, err := s.evaluateRecipient(ctx, pool, sched, member, eventInstant, now, prefCache)
			if err != nil {
				return nil, err
			}
			pending = append(pending, reminders...)
		}
	}
	return pending, nil
}

// instants derives the ledger event instant and the fire instant for a pool
// and schedule. Pools with missing timing state are skipped silently: that
// is a domain inconsistency, not a delivery failure, and nothing is ledgered
// for it.
//
// The offset magnitude counts away from the anchor in the direction the type
// implies. Due and payout reminders anchor on the payout instant and fire
// ahead of it; the default 1-day due template therefore fires exactly at the
// due instant, which trails the payout by the fixed lead. Overdue reminders
// anchor on the due instant and fire after it once the offset has elapsed.
func instants(pool *db.Pool, sched *db.ReminderSchedule) (eventInstant, fireAt time.Time, ok bool) {
	offset := sched.TimingOffset
	if offset < 0 {
		offset = -offset
	}
	d := sched.TimingUnit.Duration(offset)

	switch sched.EventType {
	case db.EventPaymentDue:
		if pool.NextPayoutAt == nil {
			return time.Time{}, time.Time{}, false
		}
		due := pool.NextPayoutAt.Add(-paymentDueLead)
		return due, pool.NextPayoutAt.Add(-d), true
	case db.EventPaymentOverdue:
		if pool.NextPayoutAt == nil {
			return time.Time{}, time.Time{}, false
		}
		due := pool.NextPayoutAt.Add(-paymentDueLead)
		return due, due.Add(d), true
	case db.EventPayoutComing:
		if pool.NextPayoutAt == nil {
			return time.Time{}, time.Time{}, false
		}
		return *pool.NextPayoutAt, pool.NextPayoutAt.Add(-d), true
	case db.EventRoundStart:
		if pool.RoundStartedAt == nil {
			return time.Time{}, time.Time{}, false
		}
		return *pool.RoundStartedAt, pool.RoundStartedAt.Add(-d), true
	case db.EventAnnouncement:
		// Announcements are dispatched ad hoc, never by the scan.
		return time.Time{}, time.Time{}, false
	default:
		return time.Time{}, time.Time{}, false
	}
}

// recipients applies the per-type recipient rule. Members without a linked
// account are never reminded. Payment reminders exclude the current round's
// payout recipient: the rotation rule says the receiving member does not
// contribute to their own round.
func (s *Scheduler) recipients(pool *db.Pool, eventType db.EventType) []db.PoolMember {
	recipient := pool.CurrentRecipient()

	var out []db.PoolMember
	switch eventType {
	case db.EventPaymentDue, db.EventPaymentOverdue:
		for _, m := range pool.Members {
			if m.UserID == nil || m.HasPaid {
				continue
			}
			if recipient != nil && m.ID == recipient.ID {
				continue
			}
			out = append(out, m)
		}
	case db.EventPayoutComing:
		if recipient != nil && recipient.UserID != nil {
			out = append(out, *recipient)
		}
	case db.EventRoundStart:
		for _, m := range pool.Members {
			if m.UserID != nil {
				out = append(out, m)
			}
		}
	case db.EventAnnouncement:
	}
	return out
}

func (s *Scheduler) evaluateRecipient(
	ctx context.Context,
	pool *db.Pool,
	sched *db.ReminderSchedule,
	member db.PoolMember,
	eventInstant time.Time,
	now time.Time,
	prefCache map[uuid.UUID]*db.NotificationPreference,
) ([]PendingReminder, error) {
	userID := *member.UserID

	pref, ok := prefCache[userID]
	if !ok {
		var err error
		pref, err = s.prefs.Get(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("resolve preferences for %s: %w", userID, err)
		}
		prefCache[userID] = pref
	}

	if prefs.IsPoolMuted(pref, pool.ID, now) {
		return nil, nil
	}
	// Overdue reminders are treated as high priority and ignore quiet hours.
	if sched.EventType != db.EventPaymentOverdue && prefs.IsQuietHours(pref, now) {
		return nil, nil
	}

	effective := prefs.EffectiveChannels(pref, sched.EventType)
	if len(effective) == 0 {
		return nil, nil
	}

	var pending []PendingReminder
	for _, ch := range sched.Channels {
		if !containsChannel(effective, ch) {
			continue
		}

		exists, err := s.ledger.Exists(ctx, sched.ID, userID, eventInstant, ch)
		if err != nil {
			return nil, fmt.Errorf("check ledger: %w", err)
		}
		if exists {
			continue
		}

		pending = append(pending, s.buildReminder(pool, sched, member, eventInstant, ch))
	}
	return pending, nil
}

func containsChannel(channels []db.Channel, ch db.Channel) bool {
	for _, c := range channels {
		if c == ch {
			return true
		}
	}
	return false
}

func (s *Scheduler) buildReminder(pool *db.Pool, sched *db.ReminderSchedule, member db.PoolMember, eventInstant time.Time, ch db.Channel) PendingReminder {
	phone := ""
	if member.Phone != nil {
		phone = *member.Phone
	}

	dueAt := eventInstant
	if sched.EventType == db.EventPayoutComing && pool.NextPayoutAt != nil {
		dueAt = *pool.NextPayoutAt
	}

	return PendingReminder{
		ScheduleID:     sched.ID,
		RecipientID:    *member.UserID,
		PoolID:         pool.ID,
		EventType:      sched.EventType,
		EventInstant:   eventInstant,
		Channel:        ch,
		PoolName:       pool.Name,
		AmountCents:    pool.AmountCents,
		Currency:       pool.Currency,
		Frequency:      pool.Frequency,
		Round:          pool.CurrentRound,
		Position:       member.Position,
		RecipientName:  member.Name,
		RecipientEmail: member.Email,
		RecipientPhone: phone,
		DueAt:          dueAt,
		CustomSubject:  sched.Subject,
		CustomBody:     sched.Body,
	}
}
