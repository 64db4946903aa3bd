// Package documents stores rendered clinic documents in S3 and hands out
// short-lived download links.
package documents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-functions/internal/cleanup"
	"github.com/wolfman30/clinic-functions/pkg/logging"
)

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Presigner signs download URLs; *s3.PresignClient satisfies it.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Document is a rendered PDF ready to be stored.
type Document struct {
	ClinicID   string
	Name       string
	PDF        []byte
	RenderedBy string
}

// Stored describes an uploaded document.
type Stored struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
	Size      int       `json:"size"`
}

// ManifestEntry is one line of a clinic's monthly document manifest.
type ManifestEntry struct {
	Key        string `json:"key"`
	Name       string `json:"name"`
	RenderedBy string `json:"renderedBy"`
	Size       int    `json:"size"`
	StoredAt   string `json:"storedAt"`
}

// Store writes documents under clinics/{id}/documents in one bucket.
type Store struct {
	bucket    string
	s3Client  S3API
	presigner Presigner
	ttl       time.Duration
	now       func() time.Time
	newID     func() string
	logger    *logging.Logger
}

// NewStore creates a document Store. If bucket is empty, Enabled is false
// and Save fails.
func NewStore(s3Client S3API, presigner Presigner, bucket string, ttl time.Duration, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Store{
		bucket:    bucket,
		s3Client:  s3Client,
		presigner: presigner,
		ttl:       ttl,
		now:       time.Now,
		newID:     uuid.NewString,
		logger:    logger,
	}
}

// Enabled returns true if document storage is configured.
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil && s.presigner != nil
}

var unsafeName = regexp.MustCompile(`[^a-z0-9]+`)

func slug(name string) string {
	s := strings.Trim(unsafeName.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if len(s) > 60 {
		s = strings.TrimRight(s[:60], "-")
	}
	if s == "" {
		return "document"
	}
	return s
}

// Save uploads the PDF and returns a presigned download URL.
func (s *Store) Save(ctx context.Context, doc Document) (*Stored, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("documents: storage is not configured")
	}
	if len(doc.PDF) == 0 {
		return nil, fmt.Errorf("documents: empty document")
	}

	now := s.now().UTC()
	key := fmt.Sprintf("clinics/%s/documents/%d/%02d/%s-%s.pdf",
		doc.ClinicID, now.Year(), now.Month(), s.newID(), slug(doc.Name))

	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(s.bucket),
		Key:                aws.String(key),
		Body:               bytes.NewReader(doc.PDF),
		ContentType:        aws.String("application/pdf"),
		ContentDisposition: aws.String(fmt.Sprintf(`inline; filename="%s.pdf"`, slug(doc.Name))),
		Metadata: map[string]string{
			"clinic-id":   doc.ClinicID,
			"rendered-by": doc.RenderedBy,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("documents: s3 put %s: %w", key, err)
	}

	signed, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return nil, fmt.Errorf("documents: presign %s: %w", key, err)
	}

	s.logger.Info("stored document", "clinic_id", doc.ClinicID, "s3_key", key, "bytes", len(doc.PDF))

	cleanup.BestEffort(ctx, s.logger, "append document manifest", func(ctx context.Context) error {
		return s.AppendManifest(ctx, doc.ClinicID, ManifestEntry{
			Key:        key,
			Name:       doc.Name,
			RenderedBy: doc.RenderedBy,
			Size:       len(doc.PDF),
			StoredAt:   now.Format(time.RFC3339),
		})
	}, "clinic_id", doc.ClinicID)

	return &Stored{Key: key, URL: signed.URL, ExpiresAt: now.Add(s.ttl), Size: len(doc.PDF)}, nil
}

// ManifestKey is the monthly JSONL index of a clinic's documents.
func ManifestKey(clinicID string, at time.Time) string {
	return fmt.Sprintf("clinics/%s/documents/manifests/%d-%02d.jsonl", clinicID, at.Year(), at.Month())
}

// AppendManifest appends a JSONL line to the clinic's monthly manifest.
// Uses read-modify-write since S3 doesn't support append.
func (s *Store) AppendManifest(ctx context.Context, clinicID string, entry ManifestEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("documents: marshal manifest entry: %w", err)
	}
	manifestKey := ManifestKey(clinicID, s.now().UTC())

	var existing []byte
	getResp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(manifestKey),
	})
	switch {
	case err == nil:
		existing, err = io.ReadAll(getResp.Body)
		getResp.Body.Close()
		if err != nil {
			return fmt.Errorf("documents: read manifest: %w", err)
		}
	case isNotFound(err):
		s.logger.Debug("manifest not found, creating new", "key", manifestKey)
	default:
		return fmt.Errorf("documents: get manifest: %w", err)
	}

	var buf bytes.Buffer
	if len(existing) > 0 {
		buf.Write(existing)
		if existing[len(existing)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.Write(line)
	buf.WriteByte('\n')

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(manifestKey),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("documents: s3 put manifest: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound
	return errors.As(err, &nf)
}
