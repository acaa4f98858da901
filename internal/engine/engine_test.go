package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tundeakins/ajopool/internal/db"
	"github.com/tundeakins/ajopool/internal/notify"
	"github.com/tundeakins/ajopool/internal/scheduler"
)

// memLedger backs the scheduler's existence check, the sender's claim and
// the sweeper's retry selection with one in-memory store, so a full
// invocation can run end to end against it.
type memLedger struct {
	byKey map[string]*db.DeliveryLedgerEntry
	byID  map[uuid.UUID]*db.DeliveryLedgerEntry
}

func newMemLedger() *memLedger {
	return &memLedger{
		byKey: map[string]*db.DeliveryLedgerEntry{},
		byID:  map[uuid.UUID]*db.DeliveryLedgerEntry{},
	}
}

func attemptKey(scheduleID, recipientID uuid.UUID, instant time.Time, ch db.Channel) string {
	return fmt.Sprintf("%s|%s|%s|%s", scheduleID, recipientID, instant.UTC().Format(time.RFC3339Nano), ch)
}

func (m *memLedger) Exists(_ context.Context, scheduleID, recipientID uuid.UUID, instant time.Time, ch db.Channel) (bool, error) {
	_, ok := m.byKey[attemptKey(scheduleID, recipientID, instant, ch)]
	return ok, nil
}

func (m *memLedger) Claim(_ context.Context, e *db.DeliveryLedgerEntry) (bool, error) {
	key := attemptKey(e.ScheduleID, e.RecipientID, e.EventInstant, e.Channel)
	if _, ok := m.byKey[key]; ok {
		return false, nil
	}
	stored := *e
	stored.SentAt = time.Now()
	stored.UpdatedAt = time.Now()
	m.byKey[key] = &stored
	m.byID[stored.ID] = &stored
	return true, nil
}

func (m *memLedger) Finalize(_ context.Context, id uuid.UUID, status string, externalID, failureReason *string) error {
	e, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("no entry %s", id)
	}
	e.Status = status
	e.ExternalID = externalID
	e.FailureReason = failureReason
	e.UpdatedAt = time.Now()
	return nil
}

func (m *memLedger) ListRetryable(_ context.Context, maxRetries int, cutoff, claimedBefore time.Time) ([]*db.DeliveryLedgerEntry, error) {
	var out []*db.DeliveryLedgerEntry
	for _, e := range m.byID {
		if e.Status != db.StatusFailed || e.RetryCount >= maxRetries || e.SentAt.Before(cutoff) {
			continue
		}
		if e.FailureReason != nil && *e.FailureReason == db.ReasonDispatchInProgress && !e.UpdatedAt.Before(claimedBefore) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *memLedger) MarkRetryOutcome(_ context.Context, id uuid.UUID, status string, externalID, failureReason *string) error {
	e, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("no entry %s", id)
	}
	e.Status = status
	e.RetryCount++
	if externalID != nil {
		e.ExternalID = externalID
	}
	e.FailureReason = failureReason
	e.UpdatedAt = time.Now()
	return nil
}

type staticPools struct{ pools []*db.Pool }

func (s *staticPools) ListActive(_ context.Context) ([]*db.Pool, error) { return s.pools, nil }

type staticSchedules struct{ schedules []*db.ReminderSchedule }

func (s *staticSchedules) ListActiveByPool(_ context.Context, _ uuid.UUID) ([]*db.ReminderSchedule, error) {
	return s.schedules, nil
}

type defaultPrefs struct{}

func (defaultPrefs) Get(_ context.Context, userID uuid.UUID) (*db.NotificationPreference, error) {
	return db.DefaultPreference(userID), nil
}

type staticContacts struct{}

func (staticContacts) GetContact(_ context.Context, userID uuid.UUID) (*db.Contact, error) {
	return &db.Contact{UserID: userID, Name: "Member", Email: "member@example.com"}, nil
}

type toggleDriver struct {
	channel db.Channel
	err     error
	calls   int
}

func (d *toggleDriver) Channel() db.Channel { return d.channel }

func (d *toggleDriver) Deliver(_ context.Context, _ notify.RenderedMessage) (string, error) {
	d.calls++
	if d.err != nil {
		return "", d.err
	}
	return fmt.Sprintf("ext-%d", d.calls), nil
}

func testFixture(now time.Time) (*db.Pool, *db.ReminderSchedule) {
	payout := now.Add(23 * time.Hour)
	recipientID := uuid.New()
	contributorID := uuid.New()
	pool := &db.Pool{
		ID:           uuid.New(),
		Name:         "Sisters Keepers",
		Status:       db.PoolStatusActive,
		AmountCents:  1000_00,
		Currency:     "NGN",
		Frequency:    "monthly",
		CurrentRound: 1,
		NextPayoutAt: &payout,
	}
	pool.Members = []db.PoolMember{
		{ID: uuid.New(), PoolID: pool.ID, UserID: &recipientID, Name: "Recipient", Email: "r@example.com", Position: 1},
		{ID: uuid.New(), PoolID: pool.ID, UserID: &contributorID, Name: "Contributor", Email: "c@example.com", Position: 2},
	}
	sched := &db.ReminderSchedule{
		ID:           uuid.New(),
		PoolID:       pool.ID,
		EventType:    db.EventPaymentDue,
		TimingOffset: -1,
		TimingUnit:   db.UnitDays,
		Channels:     []db.Channel{db.ChannelEmail, db.ChannelInApp},
		Active:       true,
	}
	return pool, sched
}

func newTestEngine(ledger *memLedger, pool *db.Pool, sched *db.ReminderSchedule, driver notify.ChannelDriver) *Engine {
	logger := zap.NewNop()
	drivers := notify.NewDriverSet(logger, driver)
	s := scheduler.New(&staticPools{pools: []*db.Pool{pool}}, &staticSchedules{schedules: []*db.ReminderSchedule{sched}}, defaultPrefs{}, ledger, logger)
	sender := notify.NewSender(ledger, drivers, time.Second, logger)
	sweeper := notify.NewSweeper(ledger, staticContacts{}, drivers, time.Second, logger)
	return New(s, sender, sweeper, Config{}, logger)
}

func TestRunTwiceProducesOneLedgerEntry(t *testing.T) {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	pool, sched := testFixture(now)
	ledger := newMemLedger()
	driver := &toggleDriver{channel: db.ChannelEmail}

	eng := newTestEngine(ledger, pool, sched, driver)

	first, err := eng.Run(context.Background(), now)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Pending != 1 || first.Sent != 1 || first.Failed != 0 {
		t.Fatalf("first run result %+v", first)
	}

	second, err := eng.Run(context.Background(), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Pending != 0 || second.Sent != 0 {
		t.Fatalf("second run must emit nothing, got %+v", second)
	}

	if len(ledger.byID) != 1 {
		t.Fatalf("expected exactly one ledger entry, got %d", len(ledger.byID))
	}
	for _, e := range ledger.byID {
		if e.Status != db.StatusSent {
			t.Errorf("expected sent entry, got %s", e.Status)
		}
	}
	if driver.calls != 1 {
		t.Errorf("expected exactly one dispatch, got %d", driver.calls)
	}
}

func TestRunFailedAttemptIsRetriedNotReemitted(t *testing.T) {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	pool, sched := testFixture(now)
	ledger := newMemLedger()
	driver := &toggleDriver{channel: db.ChannelEmail, err: notify.ErrEmailNotConfigured}

	eng := newTestEngine(ledger, pool, sched, driver)

	first, err := eng.Run(context.Background(), now)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Failed != 1 || first.Sent != 0 {
		t.Fatalf("first run result %+v", first)
	}
	if len(first.Errors) == 0 {
		t.Fatal("expected the driver failure in the error sample")
	}
	// The sweeper runs in the same invocation and already re-attempts the
	// fresh failure once, unsuccessfully.
	if first.Retried != 1 || first.RetryFailed != 1 {
		t.Fatalf("expected one failed in-run retry, got %+v", first)
	}

	// The transporter comes online before the next invocation. The
	// scheduler must not re-emit, but the sweeper re-attempts the failed
	// entry and flips it to sent.
	driver.err = nil

	second, err := eng.Run(context.Background(), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Pending != 0 {
		t.Fatalf("scheduler must not re-emit a ledgered failure, got %+v", second)
	}
	if second.Retried != 1 || second.RetrySucceeded != 1 || second.RetryFailed != 0 {
		t.Fatalf("expected one successful retry, got %+v", second)
	}

	if len(ledger.byID) != 1 {
		t.Fatalf("expected exactly one ledger entry, got %d", len(ledger.byID))
	}
	for _, e := range ledger.byID {
		if e.Status != db.StatusSent || e.RetryCount != 2 {
			t.Errorf("expected sent entry with retry_count 2, got status=%s retries=%d", e.Status, e.RetryCount)
		}
	}
}

func TestRunLeavesConcurrentClaimAlone(t *testing.T) {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	pool, sched := testFixture(now)
	ledger := newMemLedger()
	driver := &toggleDriver{channel: db.ChannelEmail}

	// Another invocation has claimed this attempt and its dispatch is still
	// in flight: the claim row exists but no outcome has been recorded.
	inProgress := db.ReasonDispatchInProgress
	claim := &db.DeliveryLedgerEntry{
		ID:            uuid.New(),
		ScheduleID:    sched.ID,
		RecipientID:   *pool.Members[1].UserID,
		PoolID:        pool.ID,
		EventType:     db.EventPaymentDue,
		EventInstant:  now.Add(-time.Hour),
		Channel:       db.ChannelEmail,
		Status:        db.StatusFailed,
		Subject:       "Payment reminder: Sisters Keepers",
		Body:          "Hi Contributor, your contribution is due.",
		FailureReason: &inProgress,
	}
	if ok, err := ledger.Claim(context.Background(), claim); err != nil || !ok {
		t.Fatalf("seed claim: ok=%v err=%v", ok, err)
	}

	eng := newTestEngine(ledger, pool, sched, driver)
	result, err := eng.Run(context.Background(), now)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// The scheduler sees the ledgered tuple and the sweeper must not pick up
	// a claim another invocation may still be dispatching.
	if result.Pending != 0 || result.Retried != 0 {
		t.Fatalf("expected the claimed attempt untouched, got %+v", result)
	}
	if driver.calls != 0 {
		t.Fatalf("in-flight claim was dispatched again: %d driver calls", driver.calls)
	}
	for _, e := range ledger.byID {
		if e.Status != db.StatusFailed || e.FailureReason == nil || *e.FailureReason != db.ReasonDispatchInProgress {
			t.Errorf("claim row must stay in flight, got %+v", e)
		}
	}
}

func TestRunCapsReportedErrors(t *testing.T) {
	errs := make([]string, 0, maxReportedErrors+5)
	for i := 0; i < maxReportedErrors+5; i++ {
		errs = append(errs, fmt.Sprintf("error %d", i))
	}
	capped := capErrors(errs)
	if len(capped) != maxReportedErrors {
		t.Errorf("expected %d errors, got %d", maxReportedErrors, len(capped))
	}

	few := []string{"one"}
	if got := capErrors(few); len(got) != 1 {
		t.Errorf("short error lists must pass through, got %d", len(got))
	}
}
