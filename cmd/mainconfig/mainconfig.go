// Package mainconfig wires the function binaries from configuration so
// the Lambda handlers and the local API server run the same graph.
package mainconfig

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/wolfman30/clinic-functions/internal/browser"
	"github.com/wolfman30/clinic-functions/internal/callable"
	"github.com/wolfman30/clinic-functions/internal/compliance"
	appconfig "github.com/wolfman30/clinic-functions/internal/config"
	"github.com/wolfman30/clinic-functions/internal/docstore"
	"github.com/wolfman30/clinic-functions/internal/documents"
	"github.com/wolfman30/clinic-functions/internal/membership"
	"github.com/wolfman30/clinic-functions/internal/notify"
	"github.com/wolfman30/clinic-functions/internal/records"
	"github.com/wolfman30/clinic-functions/internal/scheduling"
	"github.com/wolfman30/clinic-functions/pkg/logging"
)

// Store is the document database surface the functions share.
type Store interface {
	Get(ctx context.Context, path string) (*docstore.Document, error)
	Set(ctx context.Context, path string, fields map[string]any) error
	Merge(ctx context.Context, path string, fields map[string]any) error
	Delete(ctx context.Context, path string) error
	Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error)
}

var (
	_ Store = (*docstore.Store)(nil)
	_ Store = (*docstore.Memory)(nil)
)

// OpenStore returns the DynamoDB-backed store, or an in-memory one when
// DOCUMENT_STORE=memory.
func OpenStore(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (Store, error) {
	switch cfg.DocumentStore {
	case "memory":
		logger.Warn("using in-memory document store; data is lost on exit")
		return docstore.NewMemory(), nil
	case "", "dynamodb":
		if cfg.DocumentsTable == "" {
			return nil, fmt.Errorf("DOCUMENTS_TABLE is required")
		}
		return docstore.New(dynamodb.NewFromConfig(awsCfg), cfg.DocumentsTable, cfg.CollectionGroupIndex, logger), nil
	default:
		return nil, fmt.Errorf("unknown DOCUMENT_STORE %q", cfg.DocumentStore)
	}
}

// EmailSenders builds the template and plain senders for EMAIL_PROVIDER.
func EmailSenders(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (notify.TemplateSender, notify.EmailSender, error) {
	switch cfg.EmailProvider {
	case "", "stub":
		return notify.NewStubTemplateSender(logger), notify.NewStubEmailSender(logger), nil
	case "http":
		templates := notify.NewHTTPTemplateSender(notify.HTTPTemplateConfig{
			Endpoint:  cfg.EmailAPIURL,
			APIKey:    cfg.EmailAPIKey,
			FromEmail: cfg.EmailFromEmail,
			FromName:  cfg.EmailFromName,
		}, logger)
		if templates == nil {
			return nil, nil, fmt.Errorf("EMAIL_API_URL and EMAIL_API_KEY are required for the http provider")
		}
		var notices notify.EmailSender = notify.NewStubEmailSender(logger)
		if sg := notify.NewSendGridSender(sendGridConfig(cfg), logger); sg != nil {
			notices = sg
		}
		return templates, notices, nil
	case "sendgrid":
		templates := notify.NewSendGridTemplateSender(sendGridConfig(cfg), logger)
		notices := notify.NewSendGridSender(sendGridConfig(cfg), logger)
		if templates == nil || notices == nil {
			return nil, nil, fmt.Errorf("SENDGRID_API_KEY is required for the sendgrid provider")
		}
		return templates, notices, nil
	case "ses":
		client := sesv2.NewFromConfig(awsCfg)
		sesCfg := notify.SESConfig{FromEmail: cfg.EmailFromEmail, FromName: cfg.EmailFromName}
		return notify.NewSESTemplateSender(client, sesCfg, logger), notify.NewSESSender(client, sesCfg, logger), nil
	default:
		return nil, nil, fmt.Errorf("unknown EMAIL_PROVIDER %q", cfg.EmailProvider)
	}
}

func sendGridConfig(cfg *appconfig.Config) notify.SendGridConfig {
	return notify.SendGridConfig{APIKey: cfg.SendGridAPIKey, FromEmail: cfg.EmailFromEmail, FromName: cfg.EmailFromName}
}

// OpenAudit connects the Postgres audit trail. Without DATABASE_URL the
// returned service is disabled and close is a no-op.
func OpenAudit(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*compliance.AuditService, func(), error) {
	if !cfg.AuditEnabled() {
		logger.Info("audit trail disabled; DATABASE_URL not set")
		return compliance.NewAuditService(nil, logger), func() {}, nil
	}
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping audit db: %w", err)
	}
	return compliance.NewAuditService(db, logger), func() { _ = db.Close() }, nil
}

// Documents builds the PDF archive. Storage stays disabled without a
// bucket.
func Documents(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) *documents.Store {
	if cfg.DocumentsBucket == "" {
		return documents.NewStore(nil, nil, "", cfg.PresignTTL, logger)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3UsePathStyle
	})
	return documents.NewStore(client, s3.NewPresignClient(client), cfg.DocumentsBucket, cfg.PresignTTL, logger)
}

// Functions holds the callable graph.
type Functions struct {
	Dispatcher *callable.Dispatcher
	Renderer   *browser.Client
}

// BuildFunctions registers every callable on a new dispatcher.
func BuildFunctions(cfg *appconfig.Config, awsCfg aws.Config, store Store, audit *compliance.AuditService, observer callable.Observer, logger *logging.Logger) (*Functions, error) {
	templates, notices, err := EmailSenders(cfg, awsCfg, logger)
	if err != nil {
		return nil, err
	}
	renderer := browser.NewClient(cfg.BrowserServiceURL, browser.WithLogger(logger), browser.WithTimeout(cfg.BrowserTimeout))

	fns, err := callable.NewFunctions(callable.Deps{
		Guard:    membership.NewGuard(store, logger),
		Booking:  scheduling.NewBooking(store, scheduling.NewClosureChecker(store, logger), logger),
		Patients: records.NewPatients(store, logger),
		Invites:  membership.NewInvites(store, cfg.InviteTTL, logger),
		Mailer: notify.NewService(templates, notices, notify.MailerConfig{
			InviteTemplateID:      cfg.InviteTemplateID,
			AppointmentTemplateID: cfg.AppointmentTemplateID,
			PublicBaseURL:         cfg.PublicBaseURL,
			DefaultReplyTo:        cfg.EmailReplyTo,
		}, logger),
		Renderer:  renderer,
		Documents: Documents(cfg, awsCfg, logger),
		Audit:     audit,
		Profiles:  store,
	}, logger)
	if err != nil {
		return nil, err
	}

	d := callable.NewDispatcher(observer, logger)
	fns.Register(d)
	return &Functions{Dispatcher: d, Renderer: renderer}, nil
}
