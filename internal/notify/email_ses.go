package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/tundeakins/ajopool/internal/db"
)

// ErrEmailNotConfigured is returned for every email dispatch while the
// sender identity is missing. It surfaces as an ordinary failed ledger
// entry, which the sweeper re-attempts once configuration arrives.
var ErrEmailNotConfigured = errors.New("email transporter not configured")

// SESDriver sends email via AWS SES.
type SESDriver struct {
	client *ses.Client
	from   string
	logger *zap.Logger
}

// SESConfig holds the two values the email driver needs.
type SESConfig struct {
	Region    string
	FromEmail string
}

// NewSESDriver creates the email driver. Missing configuration is not an
// error at construction time: the driver comes up in degraded mode and
// reports ErrEmailNotConfigured per dispatch instead of crashing the process.
func NewSESDriver(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESDriver, error) {
	if cfg.Region == "" || cfg.FromEmail == "" {
		logger.Warn("email driver running unconfigured",
			zap.Bool("region_set", cfg.Region != ""),
			zap.Bool("from_set", cfg.FromEmail != ""),
		)
		return &SESDriver{logger: logger}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}

	return &SESDriver{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

func (d *SESDriver) Channel() db.Channel { return db.ChannelEmail }

// Deliver sends one reminder email.
func (d *SESDriver) Deliver(ctx context.Context, msg RenderedMessage) (string, error) {
	if d.client == nil || d.from == "" {
		return "", ErrEmailNotConfigured
	}
	if msg.To == "" {
		return "", fmt.Errorf("recipient has no email address")
	}

	body := &types.Body{
		Text: &types.Content{
			Data:    aws.String(msg.TextBody),
			Charset: aws.String("UTF-8"),
		},
	}
	if msg.HTMLBody != "" {
		body.Html = &types.Content{
			Data:    aws.String(msg.HTMLBody),
			Charset: aws.String("UTF-8"),
		}
	}

	input := &ses.SendEmailInput{
		Source: aws.String(d.from),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(msg.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: body,
		},
	}

	result, err := d.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("ses send failed: %w", err)
	}

	messageID := aws.ToString(result.MessageId)
	d.logger.Info("email sent via SES",
		zap.String("to", msg.To),
		zap.String("message_id", messageID),
	)
	return messageID, nil
}
