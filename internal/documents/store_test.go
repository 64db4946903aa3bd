package documents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-functions/pkg/logging"
)

type putCall struct {
	key         string
	contentType string
	body        []byte
}

// mockS3Client records PutObject/GetObject calls for testing.
type mockS3Client struct {
	putCalls []putCall
	objects  map[string][]byte
	putErr   error
	getErr   error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	body, _ := io.ReadAll(in.Body)
	m.putCalls = append(m.putCalls, putCall{key: *in.Key, contentType: *in.ContentType, body: body})
	m.objects[*in.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[*in.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

type mockPresigner struct {
	expires time.Duration
}

func (m *mockPresigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	opts := s3.PresignOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	m.expires = opts.Expires
	return &v4.PresignedHTTPRequest{URL: "https://bucket.s3.test/" + *in.Key + "?X-Amz-Signature=abc", Method: "GET"}, nil
}

func newTestStore(s3c S3API, p Presigner) *Store {
	s := NewStore(s3c, p, "docs-bucket", 10*time.Minute, logging.NewWithWriter("debug", &bytes.Buffer{}))
	s.now = func() time.Time { return time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC) }
	s.newID = func() string { return "doc-1" }
	return s
}

func TestStore_Save(t *testing.T) {
	s3c := newMockS3()
	presigner := &mockPresigner{}
	store := newTestStore(s3c, presigner)

	stored, err := store.Save(context.Background(), Document{
		ClinicID:   "c1",
		Name:       "Visit Summary: Pat / Jan",
		PDF:        []byte("%PDF"),
		RenderedBy: "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, "clinics/c1/documents/2024/03/doc-1-visit-summary-pat-jan.pdf", stored.Key)
	assert.True(t, strings.HasPrefix(stored.URL, "https://bucket.s3.test/clinics/c1/documents/"))
	assert.Equal(t, 10*time.Minute, presigner.expires)
	assert.Equal(t, time.Date(2024, 3, 9, 12, 10, 0, 0, time.UTC), stored.ExpiresAt)

	require.Len(t, s3c.putCalls, 2)
	assert.Equal(t, "application/pdf", s3c.putCalls[0].contentType)
	assert.Equal(t, []byte("%PDF"), s3c.putCalls[0].body)

	manifest := s3c.objects[ManifestKey("c1", store.now())]
	var entry ManifestEntry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(manifest), &entry))
	assert.Equal(t, stored.Key, entry.Key)
	assert.Equal(t, "u1", entry.RenderedBy)
}

func TestStore_AppendManifestAppends(t *testing.T) {
	s3c := newMockS3()
	store := newTestStore(s3c, &mockPresigner{})
	key := ManifestKey("c1", store.now())
	s3c.objects[key] = []byte(`{"key":"old"}`)

	require.NoError(t, store.AppendManifest(context.Background(), "c1", ManifestEntry{Key: "new"}))
	lines := strings.Split(strings.TrimSpace(string(s3c.objects[key])), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], `"key":"new"`)
}

func TestStore_ManifestFailureDoesNotFailSave(t *testing.T) {
	s3c := newMockS3()
	s3c.getErr = errors.New("access denied")
	store := newTestStore(s3c, &mockPresigner{})

	stored, err := store.Save(context.Background(), Document{ClinicID: "c1", Name: "x", PDF: []byte("%PDF")})
	require.NoError(t, err)
	assert.NotEmpty(t, stored.URL)
	assert.Len(t, s3c.putCalls, 1)
}

func TestStore_SaveErrors(t *testing.T) {
	disabled := NewStore(nil, nil, "", 0, nil)
	assert.False(t, disabled.Enabled())
	_, err := disabled.Save(context.Background(), Document{PDF: []byte("x")})
	assert.Error(t, err)

	store := newTestStore(newMockS3(), &mockPresigner{})
	_, err = store.Save(context.Background(), Document{ClinicID: "c1"})
	assert.ErrorContains(t, err, "empty")

	failing := newMockS3()
	failing.putErr = errors.New("slow down")
	_, err = newTestStore(failing, &mockPresigner{}).Save(context.Background(), Document{ClinicID: "c1", PDF: []byte("x")})
	assert.ErrorContains(t, err, "slow down")
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "document", slug("  ///  "))
	assert.Equal(t, "consent-form", slug("Consent Form"))
	assert.LessOrEqual(t, len(slug(strings.Repeat("ab ", 50))), 60)
}
