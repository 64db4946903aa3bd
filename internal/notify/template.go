package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/clinic-functions/pkg/logging"
)

var tracer = otel.Tracer("clinic.internal.notify")

// maxErrorBody caps provider response text carried in errors.
const maxErrorBody = 300

// TemplateEmail is a transactional email rendered by the provider from a
// stored template.
type TemplateEmail struct {
	To         string
	ToName     string
	ReplyTo    string
	TemplateID string
	Params     map[string]any
}

func (m TemplateEmail) validate() error {
	if _, err := mail.ParseAddress(m.To); err != nil {
		return fmt.Errorf("notify: invalid recipient %q", m.To)
	}
	if strings.TrimSpace(m.TemplateID) == "" {
		return fmt.Errorf("notify: template id is required")
	}
	return nil
}

// TemplateSender sends template emails and returns the provider message id.
type TemplateSender interface {
	SendTemplate(ctx context.Context, msg TemplateEmail) (string, error)
}

func startSpan(ctx context.Context, name string, msg TemplateEmail) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name)
	span.SetAttributes(attribute.String("email.template_id", msg.TemplateID))
	return ctx, span
}

// HTTPTemplateConfig configures HTTPTemplateSender.
type HTTPTemplateConfig struct {
	Endpoint  string
	APIKey    string
	FromEmail string
	FromName  string
	Timeout   time.Duration
}

// HTTPTemplateSender posts template sends to a transactional email API
// that takes numeric template ids and an api-key header.
type HTTPTemplateSender struct {
	endpoint   string
	apiKey     string
	fromEmail  string
	fromName   string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewHTTPTemplateSender returns nil without an API key or endpoint.
func NewHTTPTemplateSender(cfg HTTPTemplateConfig, logger *logging.Logger) *HTTPTemplateSender {
	if cfg.APIKey == "" || cfg.Endpoint == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTPTemplateSender{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		fromEmail:  cfg.FromEmail,
		fromName:   cfg.FromName,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

type contact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type templateRequest struct {
	Sender     contact        `json:"sender"`
	ReplyTo    *contact       `json:"replyTo,omitempty"`
	To         []contact      `json:"to"`
	TemplateID int64          `json:"templateId"`
	Params     map[string]any `json:"params,omitempty"`
}

type templateResponse struct {
	MessageID string `json:"messageId"`
}

// SendTemplate performs one POST and returns the provider message id.
func (s *HTTPTemplateSender) SendTemplate(ctx context.Context, msg TemplateEmail) (string, error) {
	if err := msg.validate(); err != nil {
		return "", err
	}
	templateID, err := strconv.ParseInt(strings.TrimSpace(msg.TemplateID), 10, 64)
	if err != nil {
		return "", fmt.Errorf("notify: template id %q is not numeric", msg.TemplateID)
	}
	ctx, span := startSpan(ctx, "notify.http.send_template", msg)
	defer span.End()

	payload := templateRequest{
		Sender:     contact{Email: s.fromEmail, Name: s.fromName},
		To:         []contact{{Email: msg.To, Name: msg.ToName}},
		TemplateID: templateID,
		Params:     msg.Params,
	}
	if msg.ReplyTo != "" {
		payload.ReplyTo = &contact{Email: msg.ReplyTo}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("notify: encode template request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("api-key", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("notify: template send: %s", s.redact(err.Error()))
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := truncate(s.redact(string(raw)))
		s.logger.Error("template send rejected", "status", resp.StatusCode, "email_domain", emailDomain(msg.To), "body", detail)
		return "", fmt.Errorf("notify: template send returned status %d: %s", resp.StatusCode, detail)
	}

	var out templateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("notify: decode template response: %w", err)
	}
	s.logger.Info("template email sent", "email_domain", emailDomain(msg.To), "template", templateID, "message_id", out.MessageID)
	return out.MessageID, nil
}

func (s *HTTPTemplateSender) redact(text string) string {
	if s.apiKey == "" {
		return text
	}
	return strings.ReplaceAll(text, s.apiKey, "[redacted]")
}

func truncate(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= maxErrorBody {
		return text
	}
	return text[:maxErrorBody] + "..."
}

// StubTemplateSender logs template sends without delivering them.
type StubTemplateSender struct {
	logger *logging.Logger
}

func NewStubTemplateSender(logger *logging.Logger) *StubTemplateSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubTemplateSender{logger: logger}
}

// SendTemplate returns a synthetic message id.
func (s *StubTemplateSender) SendTemplate(_ context.Context, msg TemplateEmail) (string, error) {
	if err := msg.validate(); err != nil {
		return "", err
	}
	s.logger.Info("stub template sender: would send email", "email_domain", emailDomain(msg.To), "template", msg.TemplateID)
	return "stub-" + strconv.FormatInt(time.Now().UnixNano(), 36), nil
}

var (
	_ TemplateSender = (*HTTPTemplateSender)(nil)
	_ TemplateSender = (*StubTemplateSender)(nil)
)
