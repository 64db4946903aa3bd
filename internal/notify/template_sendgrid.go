package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/clinic-functions/pkg/logging"
)

// SendGridTemplateSender sends SendGrid dynamic templates.
type SendGridTemplateSender struct {
	client    sendgridClient
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// NewSendGridTemplateSender returns nil without an API key.
func NewSendGridTemplateSender(cfg SendGridConfig, logger *logging.Logger) *SendGridTemplateSender {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	return &SendGridTemplateSender{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

// SendTemplate returns the X-Message-Id SendGrid assigns to the send.
func (s *SendGridTemplateSender) SendTemplate(ctx context.Context, msg TemplateEmail) (string, error) {
	if err := msg.validate(); err != nil {
		return "", err
	}
	ctx, span := startSpan(ctx, "notify.sendgrid.send_template", msg)
	defer span.End()

	message := mail.NewV3Mail()
	message.SetFrom(mail.NewEmail(s.fromName, s.fromEmail))
	message.SetTemplateID(msg.TemplateID)
	if msg.ReplyTo != "" {
		message.SetReplyTo(mail.NewEmail("", msg.ReplyTo))
	}
	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail(msg.ToName, msg.To))
	for k, v := range msg.Params {
		p.SetDynamicTemplateData(k, v)
	}
	message.AddPersonalizations(p)

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("sendgrid template send failed", "error", err, "email_domain", emailDomain(msg.To))
		return "", fmt.Errorf("notify: sendgrid template send failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		detail := truncate(resp.Body)
		s.logger.Error("sendgrid returned error status", "status", resp.StatusCode, "body", detail, "email_domain", emailDomain(msg.To))
		return "", fmt.Errorf("notify: sendgrid returned status %d: %s", resp.StatusCode, detail)
	}

	var id string
	if values := resp.Headers["X-Message-Id"]; len(values) > 0 {
		id = values[0]
	}
	s.logger.Info("template email sent via sendgrid", "email_domain", emailDomain(msg.To), "template", msg.TemplateID, "message_id", id)
	return id, nil
}

var _ TemplateSender = (*SendGridTemplateSender)(nil)
