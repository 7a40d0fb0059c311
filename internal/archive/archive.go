// Package archive uploads report files to S3-compatible, Google Cloud or
// Azure Blob storage.
package archive

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"google.golang.org/api/option"

	"cubeopt/internal/config"
	"cubeopt/internal/domain"
)

// Compile-time checks.
var (
	_ domain.Archiver = (*S3Archiver)(nil)
	_ domain.Archiver = (*GCSArchiver)(nil)
	_ domain.Archiver = (*AzureArchiver)(nil)
)

// New returns the archiver for cfg.URL's scheme.
func New(ctx context.Context, cfg *config.ArchiveConfig) (domain.Archiver, error) {
	scheme, bucket, prefix, err := ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "s3":
		return NewS3Archiver(cfg, bucket, prefix)
	case "gs":
		return NewGCSArchiver(ctx, cfg, bucket, prefix)
	case "az":
		return NewAzureArchiver(cfg, bucket, prefix)
	default:
		return nil, fmt.Errorf("unsupported archive scheme %q", scheme)
	}
}

// ParseURL splits an archive URL such as s3://bucket/some/prefix into its
// scheme, bucket (or container) and key prefix. The prefix may be empty.
func ParseURL(raw string) (scheme, bucket, prefix string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", "", fmt.Errorf("parse archive URL %q: %w", raw, err)
	}
	switch u.Scheme {
	case "s3", "gs", "az":
	default:
		return "", "", "", fmt.Errorf("expected s3://, gs:// or az:// scheme, got %q in %q", u.Scheme, raw)
	}
	if u.Host == "" {
		return "", "", "", fmt.Errorf("empty bucket in archive URL %q", raw)
	}
	return u.Scheme, u.Host, strings.Trim(u.Path, "/"), nil
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "/" + strings.TrimPrefix(key, "/")
}

// S3Archiver uploads to S3-compatible object storage with path-style addressing.
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Archiver creates an archiver for an S3-compatible endpoint.
func NewS3Archiver(cfg *config.ArchiveConfig, bucket, prefix string) (*S3Archiver, error) {
	if !cfg.HasS3Config() {
		return nil, fmt.Errorf("S3 config is incomplete")
	}

	endpoint := *cfg.S3Endpoint
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}

	client := s3.New(s3.Options{
		Region: *cfg.S3Region,
		Credentials: credentials.NewStaticCredentialsProvider(
			*cfg.S3KeyID, *cfg.S3Secret, "",
		),
		BaseEndpoint: aws.String(endpoint),
		UsePathStyle: true,
	})
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix}, nil
}

// Upload implements domain.Archiver.
func (a *S3Archiver) Upload(ctx context.Context, key string, body io.Reader) error {
	full := joinKey(a.prefix, key)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(full),
		Body:        body,
		ContentType: aws.String(contentType(key)),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", a.bucket, full, err)
	}
	return nil
}

// Location implements domain.Archiver.
func (a *S3Archiver) Location() string { return "s3://" + joinKey(a.bucket, a.prefix) }

// GCSArchiver uploads to a Google Cloud Storage bucket.
type GCSArchiver struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSArchiver creates a GCS archiver. Without a key file the client uses
// application default credentials.
func NewGCSArchiver(ctx context.Context, cfg *config.ArchiveConfig, bucket, prefix string) (*GCSArchiver, error) {
	var opts []option.ClientOption
	if cfg.GCSKeyFile != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, cfg.GCSKeyFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSArchiver{client: client, bucket: bucket, prefix: prefix}, nil
}

// Upload implements domain.Archiver.
func (a *GCSArchiver) Upload(ctx context.Context, key string, body io.Reader) error {
	full := joinKey(a.prefix, key)
	w := a.client.Bucket(a.bucket).Object(full).NewWriter(ctx)
	w.ContentType = contentType(key)
	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return fmt.Errorf("write gs://%s/%s: %w", a.bucket, full, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close gs://%s/%s: %w", a.bucket, full, err)
	}
	return nil
}

// Location implements domain.Archiver.
func (a *GCSArchiver) Location() string { return "gs://" + joinKey(a.bucket, a.prefix) }

// AzureArchiver uploads block blobs using shared-key credentials.
type AzureArchiver struct {
	client    *azblob.Client
	container string
	prefix    string
}

// NewAzureArchiver creates an Azure Blob Storage archiver.
func NewAzureArchiver(cfg *config.ArchiveConfig, container, prefix string) (*AzureArchiver, error) {
	if cfg.AzureAccountName == "" || cfg.AzureAccountKey == "" {
		return nil, fmt.Errorf("Azure account name and key are required")
	}
	cred, err := azblob.NewSharedKeyCredential(cfg.AzureAccountName, cfg.AzureAccountKey)
	if err != nil {
		return nil, fmt.Errorf("create shared key credential: %w", err)
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AzureAccountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create Azure blob client: %w", err)
	}
	return &AzureArchiver{client: client, container: container, prefix: prefix}, nil
}

// Upload implements domain.Archiver.
func (a *AzureArchiver) Upload(ctx context.Context, key string, body io.Reader) error {
	full := joinKey(a.prefix, key)
	if _, err := a.client.UploadStream(ctx, a.container, full, body, nil); err != nil {
		return fmt.Errorf("upload az://%s/%s: %w", a.container, full, err)
	}
	return nil
}

// Location implements domain.Archiver.
func (a *AzureArchiver) Location() string { return "az://" + joinKey(a.container, a.prefix) }

func contentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".csv"):
		return "text/csv"
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".html"):
		return "text/html; charset=utf-8"
	case strings.HasSuffix(key, ".prom"):
		return "text/plain; version=0.0.4"
	default:
		return "application/octet-stream"
	}
}
