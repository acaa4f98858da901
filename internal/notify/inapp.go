package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tundeakins/ajopool/internal/db"
)

// InAppStore persists messages for the in-app feed.
type InAppStore interface {
	Create(ctx context.Context, userID, poolID uuid.UUID, eventType db.EventType, subject, body string) (uuid.UUID, error)
}

// InAppDriver delivers by appending to the recipient's in-app message feed.
// Delivery is a local database write, so this driver has no degraded mode.
type InAppDriver struct {
	store  InAppStore
	logger *zap.Logger
}

func NewInAppDriver(store InAppStore, logger *zap.Logger) *InAppDriver {
	return &InAppDriver{store: store, logger: logger}
}

func (d *InAppDriver) Channel() db.Channel { return db.ChannelInApp }

func (d *InAppDriver) Deliver(ctx context.Context, msg RenderedMessage) (string, error) {
	id, err := d.store.Create(ctx, msg.UserID, msg.PoolID, msg.EventType, msg.Subject, msg.TextBody)
	if err != nil {
		return "", fmt.Errorf("store in-app message: %w", err)
	}

	d.logger.Debug("in-app message delivered",
		zap.String("user_id", msg.UserID.String()),
		zap.String("message_id", id.String()),
	)
	return id.String(), nil
}
