package assets

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/aws"
)

// DefaultURLTTL is the lifetime of a signed download link.
const DefaultURLTTL = 2 * time.Hour

// DestinationStore writes generated archives and mints signed download links.
type DestinationStore struct {
	client  aws.S3API
	presign aws.PresignAPI
	bucket  string
}

func NewDestinationStore(client aws.S3API, presign aws.PresignAPI, bucket string) *DestinationStore {
	return &DestinationStore{client: client, presign: presign, bucket: bucket}
}

// ArchiveKey builds a fresh object key for a session's archive. Every call yields a
// new key so each generation stays independently downloadable.
func ArchiveKey(sessionID string, now time.Time) string {
	return fmt.Sprintf("orders/%s/%s-%d-%s.zip", sessionID, sessionID, now.UnixMilli(), uuid.NewString()[:8])
}

// Upload stores a zip archive under key.
func (d *DestinationStore) Upload(ctx context.Context, key string, data []byte) error {
	size := int64(len(data))
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             &d.bucket,
		Key:                &key,
		Body:               bytes.NewReader(data),
		ContentLength:      &size,
		ContentType:        awsString("application/zip"),
		ContentDisposition: awsString(`attachment; filename="fonts.zip"`),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// SignedURL returns a GET link for key valid for ttl. Expiry is enforced by S3.
func (d *DestinationStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}
	req, err := d.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &d.bucket,
		Key:    &key,
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}

func awsString(s string) *string { return &s }
