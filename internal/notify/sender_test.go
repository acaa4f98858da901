package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tundeakins/ajopool/internal/db"
	"github.com/tundeakins/ajopool/internal/scheduler"
)

type finalizeCall struct {
	id            uuid.UUID
	status        string
	externalID    *string
	failureReason *string
}

type fakeLedgerWriter struct {
	claims    []*db.DeliveryLedgerEntry
	finalized []finalizeCall
	denyClaim bool
	claimErr  error
}

func (f *fakeLedgerWriter) Claim(_ context.Context, e *db.DeliveryLedgerEntry) (bool, error) {
	if f.claimErr != nil {
		return false, f.claimErr
	}
	if f.denyClaim {
		return false, nil
	}
	f.claims = append(f.claims, e)
	return true, nil
}

func (f *fakeLedgerWriter) Finalize(_ context.Context, id uuid.UUID, status string, externalID, failureReason *string) error {
	f.finalized = append(f.finalized, finalizeCall{id, status, externalID, failureReason})
	return nil
}

type stubDriver struct {
	channel    db.Channel
	externalID string
	err        error
	calls      int
}

func (d *stubDriver) Channel() db.Channel { return d.channel }

func (d *stubDriver) Deliver(_ context.Context, _ RenderedMessage) (string, error) {
	d.calls++
	return d.externalID, d.err
}

func emailReminder() scheduler.PendingReminder {
	return scheduler.PendingReminder{
		ScheduleID:     uuid.New(),
		RecipientID:    uuid.New(),
		PoolID:         uuid.New(),
		EventType:      db.EventPaymentDue,
		EventInstant:   time.Date(2026, 1, 14, 11, 0, 0, 0, time.UTC),
		Channel:        db.ChannelEmail,
		PoolName:       "Market Women Susu",
		AmountCents:    2500_00,
		Currency:       "NGN",
		Frequency:      "weekly",
		Round:          2,
		Position:       3,
		RecipientName:  "Adaeze",
		RecipientEmail: "adaeze@example.com",
		DueAt:          time.Date(2026, 1, 14, 11, 0, 0, 0, time.UTC),
	}
}

func TestProcessSendsAndFinalizes(t *testing.T) {
	ledger := &fakeLedgerWriter{}
	driver := &stubDriver{channel: db.ChannelEmail, externalID: "ses-msg-1"}
	sender := NewSender(ledger, NewDriverSet(zap.NewNop(), driver), time.Second, zap.NewNop())

	out := sender.Process(context.Background(), []scheduler.PendingReminder{emailReminder()})

	if out.Sent != 1 || out.Failed != 0 {
		t.Fatalf("expected 1 sent, got %+v", out)
	}
	if driver.calls != 1 {
		t.Fatalf("expected 1 dispatch, got %d", driver.calls)
	}

	// The claim row is written as failed/in-progress before dispatch so a
	// crash mid-send leaves a retryable entry.
	if len(ledger.claims) != 1 {
		t.Fatalf("expected 1 claim, got %d", len(ledger.claims))
	}
	claim := ledger.claims[0]
	if claim.Status != db.StatusFailed || claim.FailureReason == nil || *claim.FailureReason != db.ReasonDispatchInProgress {
		t.Errorf("claim should be provisional failed with the in-progress marker, got %+v", claim)
	}
	if claim.Subject == "" || claim.Body == "" {
		t.Error("claim should snapshot the rendered subject and body")
	}

	if len(ledger.finalized) != 1 {
		t.Fatalf("expected 1 finalize, got %d", len(ledger.finalized))
	}
	fin := ledger.finalized[0]
	if fin.status != db.StatusSent || fin.externalID == nil || *fin.externalID != "ses-msg-1" {
		t.Errorf("expected sent finalize with external id, got %+v", fin)
	}
	if fin.failureReason != nil {
		t.Errorf("sent finalize must clear failure reason, got %q", *fin.failureReason)
	}
}

func TestProcessUnconfiguredDriverLedgersFailure(t *testing.T) {
	ledger := &fakeLedgerWriter{}
	driver := &stubDriver{channel: db.ChannelEmail, err: ErrEmailNotConfigured}
	sender := NewSender(ledger, NewDriverSet(zap.NewNop(), driver), time.Second, zap.NewNop())

	out := sender.Process(context.Background(), []scheduler.PendingReminder{emailReminder()})

	if out.Sent != 0 || out.Failed != 1 {
		t.Fatalf("expected 1 failed, got %+v", out)
	}
	if len(out.Errors) != 1 || !strings.Contains(out.Errors[0], "email transporter not configured") {
		t.Errorf("expected not-configured error in outcome, got %v", out.Errors)
	}

	if len(ledger.finalized) != 1 {
		t.Fatalf("expected 1 finalize, got %d", len(ledger.finalized))
	}
	fin := ledger.finalized[0]
	if fin.status != db.StatusFailed || fin.failureReason == nil {
		t.Fatalf("expected failed finalize with reason, got %+v", fin)
	}
	if !strings.Contains(*fin.failureReason, "email transporter not configured") {
		t.Errorf("unexpected failure reason %q", *fin.failureReason)
	}
}

func TestProcessLostClaimSkipsDispatch(t *testing.T) {
	ledger := &fakeLedgerWriter{denyClaim: true}
	driver := &stubDriver{channel: db.ChannelEmail, externalID: "ses-msg-1"}
	sender := NewSender(ledger, NewDriverSet(zap.NewNop(), driver), time.Second, zap.NewNop())

	out := sender.Process(context.Background(), []scheduler.PendingReminder{emailReminder()})

	// A lost claim means another invocation owns the attempt: not a send,
	// not a failure, and above all not a dispatch.
	if out.Sent != 0 || out.Failed != 0 || len(out.Errors) != 0 {
		t.Fatalf("expected empty outcome for lost claim, got %+v", out)
	}
	if driver.calls != 0 {
		t.Fatalf("driver must not be called after a lost claim, got %d calls", driver.calls)
	}
	if len(ledger.finalized) != 0 {
		t.Fatalf("nothing to finalize after a lost claim, got %d", len(ledger.finalized))
	}
}

func TestProcessClaimErrorCountsFailed(t *testing.T) {
	ledger := &fakeLedgerWriter{claimErr: errors.New("connection refused")}
	driver := &stubDriver{channel: db.ChannelEmail}
	sender := NewSender(ledger, NewDriverSet(zap.NewNop(), driver), time.Second, zap.NewNop())

	out := sender.Process(context.Background(), []scheduler.PendingReminder{emailReminder()})

	if out.Failed != 1 || len(out.Errors) != 1 {
		t.Fatalf("expected claim error to count as failure, got %+v", out)
	}
	if driver.calls != 0 {
		t.Fatal("driver must not be called when the claim write fails")
	}
}

func TestProcessMissingDriverFails(t *testing.T) {
	ledger := &fakeLedgerWriter{}
	sender := NewSender(ledger, NewDriverSet(zap.NewNop()), time.Second, zap.NewNop())

	p := emailReminder()
	p.Channel = db.ChannelSMS
	out := sender.Process(context.Background(), []scheduler.PendingReminder{p})

	if out.Failed != 1 {
		t.Fatalf("expected failure for unrouted channel, got %+v", out)
	}
	if len(ledger.finalized) != 1 || ledger.finalized[0].status != db.StatusFailed {
		t.Fatalf("expected failed finalize, got %+v", ledger.finalized)
	}
}

func TestProcessContinuesAfterFailure(t *testing.T) {
	ledger := &fakeLedgerWriter{}
	email := &stubDriver{channel: db.ChannelEmail, err: errors.New("throttled")}
	inApp := &stubDriver{channel: db.ChannelInApp, externalID: "feed-1"}
	sender := NewSender(ledger, NewDriverSet(zap.NewNop(), email, inApp), time.Second, zap.NewNop())

	first := emailReminder()
	second := emailReminder()
	second.Channel = db.ChannelInApp

	out := sender.Process(context.Background(), []scheduler.PendingReminder{first, second})

	if out.Sent != 1 || out.Failed != 1 {
		t.Fatalf("expected one sent and one failed, got %+v", out)
	}
	if inApp.calls != 1 {
		t.Fatal("a failure must not abort the rest of the batch")
	}
}
