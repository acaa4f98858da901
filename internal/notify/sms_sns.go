package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/tundeakins/ajopool/internal/db"
)

// ErrSMSNotConfigured mirrors the email driver's degraded mode for SMS.
var ErrSMSNotConfigured = errors.New("sms transporter not configured")

// SNSDriver sends SMS via AWS SNS.
type SNSDriver struct {
	client *sns.Client
	logger *zap.Logger
}

// SNSConfig holds the SMS driver configuration.
type SNSConfig struct {
	Region string
}

// NewSNSDriver creates the SMS driver, degraded when no region is set.
func NewSNSDriver(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSDriver, error) {
	if cfg.Region == "" {
		logger.Warn("sms driver running unconfigured")
		return &SNSDriver{logger: logger}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}

	return &SNSDriver{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

func (d *SNSDriver) Channel() db.Channel { return db.ChannelSMS }

// Deliver publishes one reminder SMS. SMS gets the subject and plain body
// only; there is no rich variant for this channel.
func (d *SNSDriver) Deliver(ctx context.Context, msg RenderedMessage) (string, error) {
	if d.client == nil {
		return "", ErrSMSNotConfigured
	}
	if msg.To == "" {
		return "", fmt.Errorf("recipient has no verified phone number")
	}

	result, err := d.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(msg.To),
		Message:     aws.String(msg.Subject + "\n" + msg.TextBody),
	})
	if err != nil {
		return "", fmt.Errorf("sns publish failed: %w", err)
	}

	messageID := aws.ToString(result.MessageId)
	d.logger.Info("sms sent via SNS",
		zap.String("to", msg.To),
		zap.String("message_id", messageID),
	)
	return messageID, nil
}
