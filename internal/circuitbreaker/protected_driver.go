package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tundeakins/ajopool/internal/db"
	"github.com/tundeakins/ajopool/internal/notify"
)

// ProtectedDriver wraps a channel driver with a circuit breaker. A rejected
// dispatch returns ErrCircuitOpen, which the sender ledgers as a failed,
// retryable attempt like any other delivery error.
type ProtectedDriver struct {
	driver  notify.ChannelDriver
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedDriver wraps a driver with breaker protection.
func NewProtectedDriver(driver notify.ChannelDriver, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedDriver {
	return &ProtectedDriver{
		driver:  driver,
		breaker: breaker,
		logger:  logger,
	}
}

// Channel returns the wrapped driver's channel.
func (p *ProtectedDriver) Channel() db.Channel {
	return p.driver.Channel()
}

// Deliver dispatches through the breaker, recording the outcome.
func (p *ProtectedDriver) Deliver(ctx context.Context, msg notify.RenderedMessage) (string, error) {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected dispatch",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("channel", string(msg.Channel)),
			zap.String("state", p.breaker.GetState().String()),
		)
		return "", fmt.Errorf("%w: %s provider unavailable", ErrCircuitOpen, p.breaker.config.Name)
	}

	externalID, err := p.driver.Deliver(ctx, msg)
	if err != nil {
		p.breaker.RecordFailure()
		return "", err
	}

	p.breaker.RecordSuccess()
	return externalID, nil
}
