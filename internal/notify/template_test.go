package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-functions/pkg/logging"
)

func quietLogger() *logging.Logger {
	return logging.NewWithWriter("debug", &bytes.Buffer{})
}

func TestHTTPTemplateSender_Success(t *testing.T) {
	var got templateRequest
	var apiKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey = r.Header.Get("api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"messageId":"<abc@smtp>"}`)
	}))
	defer srv.Close()

	sender := NewHTTPTemplateSender(HTTPTemplateConfig{
		Endpoint:  srv.URL,
		APIKey:    "secret-key",
		FromEmail: "noreply@clinic.test",
	}, quietLogger())

	id, err := sender.SendTemplate(context.Background(), TemplateEmail{
		To:         "pat@example.com",
		ToName:     "Pat",
		ReplyTo:    "front@clinic.test",
		TemplateID: "12",
		Params:     map[string]any{"clinicName": "Main St"},
	})
	require.NoError(t, err)
	assert.Equal(t, "<abc@smtp>", id)
	assert.Equal(t, "secret-key", apiKey)
	assert.Equal(t, int64(12), got.TemplateID)
	assert.Equal(t, "noreply@clinic.test", got.Sender.Email)
	assert.Equal(t, "Clinic", got.Sender.Name)
	require.NotNil(t, got.ReplyTo)
	assert.Equal(t, "front@clinic.test", got.ReplyTo.Email)
	require.Len(t, got.To, 1)
	assert.Equal(t, "pat@example.com", got.To[0].Email)
	assert.Equal(t, "Main St", got.Params["clinicName"])
}

func TestHTTPTemplateSender_ErrorIsTruncatedAndRedacted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"message":"key secret-key is invalid"}`+strings.Repeat("x", 500))
	}))
	defer srv.Close()

	sender := NewHTTPTemplateSender(HTTPTemplateConfig{Endpoint: srv.URL, APIKey: "secret-key"}, quietLogger())
	_, err := sender.SendTemplate(context.Background(), TemplateEmail{To: "pat@example.com", TemplateID: "3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Contains(t, err.Error(), "[redacted]")
	assert.NotContains(t, err.Error(), "secret-key")
	assert.Less(t, len(err.Error()), 400)
}

func TestHTTPTemplateSender_Validation(t *testing.T) {
	sender := NewHTTPTemplateSender(HTTPTemplateConfig{Endpoint: "http://127.0.0.1:1", APIKey: "k"}, quietLogger())

	_, err := sender.SendTemplate(context.Background(), TemplateEmail{To: "not an email", TemplateID: "1"})
	assert.Error(t, err)
	_, err = sender.SendTemplate(context.Background(), TemplateEmail{To: "a@example.com", TemplateID: "welcome"})
	assert.ErrorContains(t, err, "not numeric")
	_, err = sender.SendTemplate(context.Background(), TemplateEmail{To: "a@example.com"})
	assert.ErrorContains(t, err, "template id")
}

func TestNewHTTPTemplateSender_NilWithoutKey(t *testing.T) {
	assert.Nil(t, NewHTTPTemplateSender(HTTPTemplateConfig{Endpoint: "http://x"}, nil))
}

type fakeSendGrid struct {
	sent *mail.SGMailV3
	resp *rest.Response
	err  error
}

func (f *fakeSendGrid) SendWithContext(_ context.Context, m *mail.SGMailV3) (*rest.Response, error) {
	f.sent = m
	return f.resp, f.err
}

func TestSendGridTemplateSender(t *testing.T) {
	fake := &fakeSendGrid{resp: &rest.Response{
		StatusCode: http.StatusAccepted,
		Headers:    map[string][]string{"X-Message-Id": {"sg-123"}},
	}}
	sender := &SendGridTemplateSender{client: fake, fromEmail: "noreply@clinic.test", fromName: "Clinic", logger: quietLogger()}

	id, err := sender.SendTemplate(context.Background(), TemplateEmail{
		To:         "pat@example.com",
		TemplateID: "d-abc",
		ReplyTo:    "front@clinic.test",
		Params:     map[string]any{"title": "Consult"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sg-123", id)
	assert.Equal(t, "d-abc", fake.sent.TemplateID)
	assert.Equal(t, "front@clinic.test", fake.sent.ReplyTo.Address)
	require.Len(t, fake.sent.Personalizations, 1)
	assert.Equal(t, "Consult", fake.sent.Personalizations[0].DynamicTemplateData["title"])
}

func TestSendGridTemplateSender_ErrorStatus(t *testing.T) {
	fake := &fakeSendGrid{resp: &rest.Response{StatusCode: http.StatusBadRequest, Body: `{"errors":[{"message":"bad template"}]}`}}
	sender := &SendGridTemplateSender{client: fake, logger: quietLogger()}

	_, err := sender.SendTemplate(context.Background(), TemplateEmail{To: "pat@example.com", TemplateID: "d-abc"})
	assert.ErrorContains(t, err, "bad template")
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

func TestSESTemplateSender(t *testing.T) {
	fake := &fakeSES{}
	sender := NewSESTemplateSender(fake, SESConfig{FromEmail: "noreply@clinic.test"}, quietLogger())

	id, err := sender.SendTemplate(context.Background(), TemplateEmail{
		To:         "pat@example.com",
		TemplateID: "AppointmentConfirmed",
		ReplyTo:    "front@clinic.test",
		Params:     map[string]any{"clinicName": "Main St"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ses-1", id)
	assert.Equal(t, "Clinic <noreply@clinic.test>", aws.ToString(fake.input.FromEmailAddress))
	assert.Equal(t, []string{"front@clinic.test"}, fake.input.ReplyToAddresses)
	assert.Equal(t, "AppointmentConfirmed", aws.ToString(fake.input.Content.Template.TemplateName))
	assert.JSONEq(t, `{"clinicName":"Main St"}`, aws.ToString(fake.input.Content.Template.TemplateData))
}

func TestSESSender_SendError(t *testing.T) {
	boom := errors.New("throttled")
	sender := NewSESSender(&fakeSES{err: boom}, SESConfig{FromEmail: "noreply@clinic.test"}, quietLogger())

	err := sender.Send(context.Background(), EmailMessage{To: "a@example.com", Subject: "s", Body: "b"})
	assert.ErrorIs(t, err, boom)
}

func TestSendGridSender(t *testing.T) {
	assert.Nil(t, NewSendGridSender(SendGridConfig{FromEmail: "a@example.com"}, nil))

	sender := NewSendGridSender(SendGridConfig{APIKey: "k", FromEmail: "a@example.com"}, nil)
	require.NotNil(t, sender)
	assert.Equal(t, "Clinic", sender.fromName)

	fake := &fakeSendGrid{resp: &rest.Response{StatusCode: http.StatusInternalServerError}}
	sender.client = fake
	err := sender.Send(context.Background(), EmailMessage{To: "b@example.com", Subject: "s", Body: "b"})
	assert.ErrorContains(t, err, "status 500")
}

func TestStubSenders(t *testing.T) {
	assert.NoError(t, NewStubEmailSender(nil).Send(context.Background(), EmailMessage{To: "a@example.com"}))

	id, err := NewStubTemplateSender(nil).SendTemplate(context.Background(), TemplateEmail{To: "a@example.com", TemplateID: "1"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "stub-"))
}
