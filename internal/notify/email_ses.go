package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/wolfman30/clinic-functions/pkg/logging"
)

type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender sends emails via AWS SES.
type SESSender struct {
	client    sesAPI
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// SESConfig holds configuration for AWS SES.
type SESConfig struct {
	FromEmail string
	FromName  string
}

// NewSESSender creates a new AWS SES email sender.
func NewSESSender(client sesAPI, cfg SESConfig, logger *logging.Logger) *SESSender {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	return &SESSender{
		client:    client,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

func (s *SESSender) from() *string {
	return aws.String(fmt.Sprintf("%s <%s>", s.fromName, s.fromEmail))
}

// Send sends an email via AWS SES.
func (s *SESSender) Send(ctx context.Context, msg EmailMessage) error {
	if err := msg.validate(); err != nil {
		return err
	}

	body := &types.Body{}
	if msg.Body != "" {
		body.Text = &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")}
	}
	if msg.HTML != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")}
	}

	output, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: s.from(),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
	})
	if err != nil {
		s.logger.Error("SES send failed", "error", err, "email_domain", emailDomain(msg.To))
		return fmt.Errorf("notify: SES send failed: %w", err)
	}

	s.logger.Info("notice sent", "provider", "ses", "email_domain", emailDomain(msg.To), "message_id", aws.ToString(output.MessageId))
	return nil
}

// SESTemplateSender sends stored SES templates.
type SESTemplateSender struct {
	*SESSender
}

// NewSESTemplateSender wraps an SES client for templated sends.
func NewSESTemplateSender(client sesAPI, cfg SESConfig, logger *logging.Logger) *SESTemplateSender {
	sender := NewSESSender(client, cfg, logger)
	if sender == nil {
		return nil
	}
	return &SESTemplateSender{SESSender: sender}
}

// SendTemplate sends msg using the SES template named by TemplateID.
func (s *SESTemplateSender) SendTemplate(ctx context.Context, msg TemplateEmail) (string, error) {
	if err := msg.validate(); err != nil {
		return "", err
	}
	ctx, span := startSpan(ctx, "notify.ses.send_template", msg)
	defer span.End()

	data, err := json.Marshal(msg.Params)
	if err != nil {
		return "", fmt.Errorf("notify: encode template params: %w", err)
	}
	in := &sesv2.SendEmailInput{
		FromEmailAddress: s.from(),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Template: &types.Template{
				TemplateName: aws.String(msg.TemplateID),
				TemplateData: aws.String(string(data)),
			},
		},
	}
	if msg.ReplyTo != "" {
		in.ReplyToAddresses = []string{msg.ReplyTo}
	}

	out, err := s.client.SendEmail(ctx, in)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("SES template send failed", "error", err, "email_domain", emailDomain(msg.To), "template", msg.TemplateID)
		return "", fmt.Errorf("notify: SES template send failed: %w", err)
	}
	id := aws.ToString(out.MessageId)
	s.logger.Info("template email sent via SES", "email_domain", emailDomain(msg.To), "template", msg.TemplateID, "message_id", id)
	return id, nil
}

var (
	_ EmailSender    = (*SESSender)(nil)
	_ TemplateSender = (*SESTemplateSender)(nil)
)
