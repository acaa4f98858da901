package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tundeakins/ajopool/internal/db"
	"github.com/tundeakins/ajopool/internal/notify"
)

func TestCircuitBreakerStartsClosed(t *testing.T) {
	cb := New(DefaultConfig("test"), zap.NewNop())
	if cb.GetState() != StateClosed {
		t.Fatalf("expected StateClosed, got %s", cb.GetState())
	}
	for i := 0; i < 10; i++ {
		if !cb.Allow() {
			t.Fatalf("request %d should be allowed while closed", i)
		}
	}
}

func TestCircuitBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 3, RecoveryTimeout: time.Second}, zap.NewNop())
	for i := 0; i < 3; i++ {
		cb.Allow()
		cb.RecordFailure()
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("expected StateOpen, got %s", cb.GetState())
	}
	if cb.Allow() {
		t.Fatal("open breaker must reject requests")
	}
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 3, RecoveryTimeout: time.Second}, zap.NewNop())
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.GetState() != StateClosed {
		t.Fatalf("non-consecutive failures must not open the circuit, got %s", cb.GetState())
	}
}

func TestCircuitBreakerHalfOpenProbe(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 2, RecoveryTimeout: 50 * time.Millisecond}, zap.NewNop())
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatalf("expected StateOpen, got %s", cb.GetState())
	}

	time.Sleep(60 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("should allow one probe after the recovery timeout")
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen, got %s", cb.GetState())
	}
	if cb.Allow() {
		t.Fatal("only one probe is allowed while half-open")
	}
}

func TestCircuitBreakerProbeOutcome(t *testing.T) {
	t.Run("success closes", func(t *testing.T) {
		cb := New(Config{Name: "test", MaxFailures: 2, RecoveryTimeout: 50 * time.Millisecond}, zap.NewNop())
		cb.RecordFailure()
		cb.RecordFailure()
		time.Sleep(60 * time.Millisecond)
		cb.Allow()
		cb.RecordSuccess()
		if cb.GetState() != StateClosed {
			t.Fatalf("expected StateClosed after successful probe, got %s", cb.GetState())
		}
	})

	t.Run("failure reopens", func(t *testing.T) {
		cb := New(Config{Name: "test", MaxFailures: 2, RecoveryTimeout: 50 * time.Millisecond}, zap.NewNop())
		cb.RecordFailure()
		cb.RecordFailure()
		time.Sleep(60 * time.Millisecond)
		cb.Allow()
		cb.RecordFailure()
		if cb.GetState() != StateOpen {
			t.Fatalf("expected StateOpen after failed probe, got %s", cb.GetState())
		}
	})
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

type flakyDriver struct {
	err   error
	calls int
}

func (d *flakyDriver) Channel() db.Channel { return db.ChannelEmail }

func (d *flakyDriver) Deliver(_ context.Context, _ notify.RenderedMessage) (string, error) {
	d.calls++
	if d.err != nil {
		return "", d.err
	}
	return "ext-1", nil
}

func TestProtectedDriverTripsAndFailsFast(t *testing.T) {
	driver := &flakyDriver{err: errors.New("ses unavailable")}
	breaker := New(Config{Name: "ses-email", MaxFailures: 2, RecoveryTimeout: time.Minute}, zap.NewNop())
	protected := NewProtectedDriver(driver, breaker, zap.NewNop())

	msg := notify.RenderedMessage{Channel: db.ChannelEmail, To: "a@example.com"}

	for i := 0; i < 2; i++ {
		if _, err := protected.Deliver(context.Background(), msg); err == nil {
			t.Fatalf("dispatch %d should fail", i)
		}
	}

	// The breaker is open now: the provider is no longer called and the
	// error identifies the fast failure.
	_, err := protected.Deliver(context.Background(), msg)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if driver.calls != 2 {
		t.Fatalf("open breaker must not reach the provider, got %d calls", driver.calls)
	}
}

func TestProtectedDriverPassesThroughSuccess(t *testing.T) {
	driver := &flakyDriver{}
	protected := NewProtectedDriver(driver, New(DefaultConfig("ses-email"), zap.NewNop()), zap.NewNop())

	id, err := protected.Deliver(context.Background(), notify.RenderedMessage{Channel: db.ChannelEmail, To: "a@example.com"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if id != "ext-1" {
		t.Errorf("external id = %q", id)
	}
	if protected.Channel() != db.ChannelEmail {
		t.Errorf("channel = %s", protected.Channel())
	}
}
