package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tundeakins/ajopool/internal/db"
)

func TestDriverSetRouting(t *testing.T) {
	email := &stubDriver{channel: db.ChannelEmail}
	sms := &stubDriver{channel: db.ChannelSMS}
	set := NewDriverSet(zap.NewNop(), email, sms)

	tests := []struct {
		channel db.Channel
		want    bool
	}{
		{db.ChannelEmail, true},
		{db.ChannelSMS, true},
		{db.ChannelPush, false},
		{db.ChannelInApp, false},
	}
	for _, tt := range tests {
		if got := set.Supports(tt.channel); got != tt.want {
			t.Errorf("Supports(%s) = %v, want %v", tt.channel, got, tt.want)
		}
	}

	d, ok := set.For(db.ChannelEmail)
	if !ok || d != ChannelDriver(email) {
		t.Error("For(email) should return the registered driver")
	}
}

func TestDriverSetLaterDriverReplacesEarlier(t *testing.T) {
	first := &stubDriver{channel: db.ChannelEmail}
	second := &stubDriver{channel: db.ChannelEmail}
	set := NewDriverSet(zap.NewNop(), first, second)

	d, _ := set.For(db.ChannelEmail)
	if d != ChannelDriver(second) {
		t.Error("the last registered driver for a channel should win")
	}
}

func TestPushDriverFailsDeterministically(t *testing.T) {
	d := NewPushDriver()
	if d.Channel() != db.ChannelPush {
		t.Fatalf("unexpected channel %s", d.Channel())
	}
	_, err := d.Deliver(context.Background(), RenderedMessage{Channel: db.ChannelPush})
	if !errors.Is(err, ErrPushNotImplemented) {
		t.Errorf("expected ErrPushNotImplemented, got %v", err)
	}
}

func TestLogDriverSucceeds(t *testing.T) {
	d := NewLogDriver(db.ChannelEmail, zap.NewNop())
	id, err := d.Deliver(context.Background(), RenderedMessage{Channel: db.ChannelEmail, To: "a@example.com"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if !strings.HasPrefix(id, "log-") {
		t.Errorf("expected synthetic external id, got %q", id)
	}
}

func TestUnconfiguredSESDriverReportsNotConfigured(t *testing.T) {
	d, err := NewSESDriver(context.Background(), SESConfig{}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSESDriver: %v", err)
	}

	_, err = d.Deliver(context.Background(), RenderedMessage{Channel: db.ChannelEmail, To: "a@example.com"})
	if !errors.Is(err, ErrEmailNotConfigured) {
		t.Errorf("expected ErrEmailNotConfigured, got %v", err)
	}
}

func TestUnconfiguredSNSDriverReportsNotConfigured(t *testing.T) {
	d, err := NewSNSDriver(context.Background(), SNSConfig{}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSNSDriver: %v", err)
	}

	_, err = d.Deliver(context.Background(), RenderedMessage{Channel: db.ChannelSMS, To: "+2348012345678"})
	if !errors.Is(err, ErrSMSNotConfigured) {
		t.Errorf("expected ErrSMSNotConfigured, got %v", err)
	}
}

type fakeInAppStore struct {
	lastSubject string
	id          uuid.UUID
	err         error
}

func (f *fakeInAppStore) Create(_ context.Context, _, _ uuid.UUID, _ db.EventType, subject, _ string) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, f.err
	}
	f.lastSubject = subject
	return f.id, nil
}

func TestInAppDriverWritesFeed(t *testing.T) {
	store := &fakeInAppStore{id: uuid.New()}
	d := NewInAppDriver(store, zap.NewNop())

	msg := RenderedMessage{
		Channel:   db.ChannelInApp,
		UserID:    uuid.New(),
		PoolID:    uuid.New(),
		EventType: db.EventPaymentDue,
		Subject:   "Payment reminder",
		TextBody:  "Your contribution is due.",
	}

	id, err := d.Deliver(context.Background(), msg)
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if id != store.id.String() {
		t.Errorf("external id = %q, want feed row id", id)
	}
	if store.lastSubject != "Payment reminder" {
		t.Errorf("stored subject = %q", store.lastSubject)
	}
}

func TestInAppDriverPropagatesStoreError(t *testing.T) {
	store := &fakeInAppStore{err: errors.New("insert failed")}
	d := NewInAppDriver(store, zap.NewNop())

	if _, err := d.Deliver(context.Background(), RenderedMessage{Channel: db.ChannelInApp}); err == nil {
		t.Fatal("expected error from store")
	}
}
