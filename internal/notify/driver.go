package notify

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tundeakins/ajopool/internal/db"
)

// RenderedMessage is a channel-ready reminder. To is the channel address:
// an email address, a phone number, or the recipient's user id for the
// in-app and push channels.
type RenderedMessage struct {
	Channel   db.Channel
	To        string
	UserID    uuid.UUID
	PoolID    uuid.UUID
	EventType db.EventType
	Subject   string
	TextBody  string
	HTMLBody  string
}

// ChannelDriver delivers a rendered message over one channel. Drivers either
// return the provider's delivery id or an error; an unconfigured driver
// returns its not-configured error instead of crashing, which the sender
// records as an ordinary ledgered failure.
type ChannelDriver interface {
	Channel() db.Channel
	Deliver(ctx context.Context, msg RenderedMessage) (externalID string, err error)
}

// DriverSet routes messages to the driver registered for their channel.
type DriverSet struct {
	drivers map[db.Channel]ChannelDriver
	logger  *zap.Logger
}

// NewDriverSet builds a channel router. Later drivers for the same channel
// replace earlier ones.
func NewDriverSet(logger *zap.Logger, drivers ...ChannelDriver) *DriverSet {
	set := &DriverSet{
		drivers: make(map[db.Channel]ChannelDriver, len(drivers)),
		logger:  logger,
	}
	for _, d := range drivers {
		set.drivers[d.Channel()] = d
	}
	return set
}

// For returns the driver for a channel.
func (s *DriverSet) For(ch db.Channel) (ChannelDriver, bool) {
	d, ok := s.drivers[ch]
	return d, ok
}

// Supports reports whether any driver handles the channel.
func (s *DriverSet) Supports(ch db.Channel) bool {
	_, ok := s.drivers[ch]
	return ok
}

// ErrPushNotImplemented is the push driver's deterministic failure until a
// real provider is wired in.
var ErrPushNotImplemented = errors.New("push delivery not implemented")

// PushDriver is a stub: the mobile apps have no device-token registration
// yet, so every dispatch fails deterministically and stays retryable in the
// ledger like any other failure.
type PushDriver struct{}

func NewPushDriver() *PushDriver { return &PushDriver{} }

func (d *PushDriver) Channel() db.Channel { return db.ChannelPush }

func (d *PushDriver) Deliver(ctx context.Context, msg RenderedMessage) (string, error) {
	return "", ErrPushNotImplemented
}

// LogDriver logs the message and reports success. It stands in for any
// channel in development and in tests.
type LogDriver struct {
	channel db.Channel
	logger  *zap.Logger
}

func NewLogDriver(channel db.Channel, logger *zap.Logger) *LogDriver {
	return &LogDriver{channel: channel, logger: logger}
}

func (d *LogDriver) Channel() db.Channel { return d.channel }

func (d *LogDriver) Deliver(ctx context.Context, msg RenderedMessage) (string, error) {
	d.logger.Info("logging reminder (development mode)",
		zap.String("channel", string(msg.Channel)),
		zap.String("to", msg.To),
		zap.String("event_type", string(msg.EventType)),
		zap.String("subject", msg.Subject),
	)
	return "log-" + uuid.NewString(), nil
}
