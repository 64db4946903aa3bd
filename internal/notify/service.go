package notify

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/wolfman30/clinic-functions/internal/clinic"
	"github.com/wolfman30/clinic-functions/pkg/logging"
)

// MailerConfig names the provider templates and links used in emails.
type MailerConfig struct {
	InviteTemplateID      string
	AppointmentTemplateID string
	PublicBaseURL         string
	// DefaultReplyTo is used for clinics without a reply-to address.
	DefaultReplyTo string
}

// Service composes the clinic's outbound emails: templated mail to
// patients and invitees, plain notices to clinic staff.
type Service struct {
	templates TemplateSender
	notices   EmailSender
	cfg       MailerConfig
	logger    *logging.Logger
}

// NewService creates a notification service. notices may be nil, in
// which case staff notices are skipped.
func NewService(templates TemplateSender, notices EmailSender, cfg MailerConfig, logger *logging.Logger) *Service {
	if templates == nil {
		panic("notify: template sender cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	return &Service{templates: templates, notices: notices, cfg: cfg, logger: logger}
}

func (s *Service) replyTo(profile *clinic.Profile) string {
	if addr := strings.TrimSpace(profile.ReplyToEmail); addr != "" {
		return addr
	}
	return s.cfg.DefaultReplyTo
}

// Invite is a pending clinic invitation.
type Invite struct {
	ID        string
	Email     string
	Role      string
	ExpiresAt time.Time
}

// InviteURL is the link an invitee follows to accept.
func (s *Service) InviteURL(clinicID, inviteID string) string {
	return fmt.Sprintf("%s/invites/%s/%s", s.cfg.PublicBaseURL, url.PathEscape(clinicID), url.PathEscape(inviteID))
}

// SendInvite emails the invitation and returns the provider message id.
func (s *Service) SendInvite(ctx context.Context, profile *clinic.Profile, inv Invite) (string, error) {
	return s.templates.SendTemplate(ctx, TemplateEmail{
		To:         inv.Email,
		ReplyTo:    s.replyTo(profile),
		TemplateID: s.cfg.InviteTemplateID,
		Params: map[string]any{
			"clinicName": profile.Name,
			"role":       inv.Role,
			"inviteUrl":  s.InviteURL(profile.ID, inv.ID),
			"expiresAt":  inv.ExpiresAt.In(profile.Location()).Format("January 2, 2006"),
		},
	})
}

// AppointmentEmail describes an appointment confirmation.
type AppointmentEmail struct {
	To           string
	ToName       string
	Title        string
	Details      string
	StartAt      time.Time
	EndAt        time.Time
	Practitioner string
}

// SendAppointment emails an appointment confirmation with an add-to-calendar
// link and returns the provider message id.
func (s *Service) SendAppointment(ctx context.Context, profile *clinic.Profile, appt AppointmentEmail) (string, error) {
	title := strings.TrimSpace(appt.Title)
	if title == "" {
		title = "Appointment at " + profile.Name
	}
	loc := profile.Location()
	link := CalendarLink(CalendarEvent{
		Title:    title,
		Start:    appt.StartAt,
		End:      appt.EndAt,
		Details:  appt.Details,
		Location: profile.Address,
	})
	return s.templates.SendTemplate(ctx, TemplateEmail{
		To:         appt.To,
		ToName:     appt.ToName,
		ReplyTo:    s.replyTo(profile),
		TemplateID: s.cfg.AppointmentTemplateID,
		Params: map[string]any{
			"clinicName":   profile.Name,
			"patientName":  appt.ToName,
			"title":        title,
			"date":         appt.StartAt.In(loc).Format("Monday, January 2, 2006"),
			"time":         appt.StartAt.In(loc).Format("3:04 PM MST"),
			"address":      profile.Address,
			"practitioner": appt.Practitioner,
			"calendarLink": link,
		},
	})
}

// Cancellation is a staff notice about a cancelled appointment.
type Cancellation struct {
	AppointmentID string
	Title         string
	StartAt       time.Time
	CancelledBy   string
}

// NotifyCancellation tells clinic staff at the clinic's reply-to address.
// Without one, and without a default, the notice is skipped.
func (s *Service) NotifyCancellation(ctx context.Context, profile *clinic.Profile, c Cancellation) error {
	staff := s.replyTo(profile)
	if s.notices == nil || staff == "" {
		s.logger.Debug("notify: no staff address, skipping cancellation notice", "clinic_id", profile.ID)
		return nil
	}
	when := "an unscheduled time"
	if !c.StartAt.IsZero() {
		when = c.StartAt.In(profile.Location()).Format("Monday, January 2 at 3:04 PM MST")
	}
	title := c.Title
	if title == "" {
		title = "Appointment " + c.AppointmentID
	}
	subject := fmt.Sprintf("Cancelled: %s", title)
	body := fmt.Sprintf("%s on %s was cancelled by %s.\n\nAppointment ID: %s\n\n- %s",
		title, when, c.CancelledBy, c.AppointmentID, profile.Name)
	htmlBody := fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px;">
<h2>Appointment cancelled</h2>
<p><strong>%s</strong> on %s was cancelled.</p>
<p style="color: #6b7280; font-size: 12px;">Appointment ID: %s</p>
</div>`, html.EscapeString(title), html.EscapeString(when), html.EscapeString(c.AppointmentID))

	if err := s.notices.Send(ctx, EmailMessage{
		To:      staff,
		ToName:  profile.Name,
		Subject: subject,
		Body:    body,
		HTML:    htmlBody,
	}); err != nil {
		return fmt.Errorf("notify: cancellation notice: %w", err)
	}
	return nil
}
