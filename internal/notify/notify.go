package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/example/seat-scheduler/internal/config"
)

// Message is a completion notice. Empty To means the configured recipients.
type Message struct {
	To      []string
	Subject string
	Body    string
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// New builds the notifier named by cfg.Provider: "ses" or "log" (the default
// for anything else).
func New(cfg config.NotifyConfig, logger *zap.Logger) (Notifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case "ses":
		if cfg.From == "" {
			return nil, fmt.Errorf("NOTIFY_FROM is required for the ses provider")
		}
		awsCfg := aws.Config{
			Region: cfg.SESRegion,
			Credentials: aws.NewCredentialsCache(
				credentials.NewStaticCredentialsProvider(cfg.SESAccessKeyID, cfg.SESSecretAccessKey, ""),
			),
		}
		return &SESNotifier{client: ses.NewFromConfig(awsCfg), from: cfg.From, to: cfg.To, logger: logger}, nil
	case "log", "":
		return LogNotifier{Logger: logger}, nil
	default:
		logger.Warn("unknown notify provider, using log", zap.String("provider", cfg.Provider))
		return LogNotifier{Logger: logger}, nil
	}
}

type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Notify(_ context.Context, msg Message) error {
	n.Logger.Info("notification",
		zap.String("subject", msg.Subject),
		zap.Strings("to", msg.To),
		zap.String("body", msg.Body),
	)
	return nil
}

type sesAPI interface {
	SendEmail(ctx context.Context, in *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SESNotifier struct {
	client sesAPI
	from   string
	to     []string
	logger *zap.Logger
}

func (s *SESNotifier) Notify(ctx context.Context, msg Message) error {
	to := msg.To
	if len(to) == 0 {
		to = s.to
	}
	if len(to) == 0 {
		s.logger.Debug("notification dropped, no recipients", zap.String("subject", msg.Subject))
		return nil
	}
	input := &ses.SendEmailInput{
		Source:      aws.String(s.from),
		Destination: &types.Destination{ToAddresses: to},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
			},
		},
	}
	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("send notification via SES: %w", err)
	}
	s.logger.Info("notification sent", zap.String("message_id", aws.ToString(out.MessageId)), zap.String("to", strings.Join(to, ",")))
	return nil
}
