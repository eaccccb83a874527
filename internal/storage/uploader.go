// Package storage uploads proposal media to an S3-compatible bucket and hands
// back publicly reachable URLs.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

const (
	// MaxFileBytes is the per-file size ceiling.
	MaxFileBytes = 5 << 20
	// MaxFilesPerUpload is the per-request file-count ceiling.
	MaxFilesPerUpload = 5
)

var (
	// ErrUnsupportedMediaType indicates a MIME type outside the allow-list.
	ErrUnsupportedMediaType = errors.New("storage: only images or short audio notes are allowed")
	// ErrFileTooLarge indicates a file over the per-file ceiling.
	ErrFileTooLarge = errors.New("storage: file exceeds size limit")

	errMissingClient = errors.New("storage: object client is required")
	errMissingBucket = errors.New("storage: bucket is required")
	errNotConfigured = errors.New("storage: credentials and bucket are required")
)

var allowedMediaTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
	"image/gif":  {},
	"audio/webm": {},
	"audio/mp3":  {},
	"audio/mpeg": {},
	"audio/mp4":  {},
}

// Config carries the credentials and addressing for the media bucket.
// Endpoint is optional and points at R2/minio style deployments; PublicURL is
// the base under which uploaded keys are reachable.
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	PublicURL       string
}

// Configured reports whether enough settings are present to upload at all.
func (c Config) Configured() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != "" && c.Bucket != ""
}

// ObjectPutter is the slice of the S3 API the uploader needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader stores media objects under a per-session prefix.
type Uploader struct {
	client    ObjectPutter
	bucket    string
	publicURL string
}

// NewUploader builds an Uploader with an S3 client from the provided config.
func NewUploader(ctx context.Context, cfg Config) (*Uploader, error) {
	if !cfg.Configured() {
		return nil, errNotConfigured
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(regionOrAuto(cfg.Region)),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return NewUploaderWithClient(client, cfg.Bucket, cfg.PublicURL)
}

// NewUploaderWithClient builds an Uploader around an existing object client.
func NewUploaderWithClient(client ObjectPutter, bucket, publicURL string) (*Uploader, error) {
	if client == nil {
		return nil, errMissingClient
	}
	if bucket == "" {
		return nil, errMissingBucket
	}
	return &Uploader{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
	}, nil
}

// Upload stores one media file under the session prefix and returns its
// public URL. MIME type and size are checked before any network call.
func (u *Uploader) Upload(ctx context.Context, data []byte, filename, mimeType, sessionID string) (string, error) {
	if _, ok := allowedMediaTypes[strings.ToLower(mimeType)]; !ok {
		return "", ErrUnsupportedMediaType
	}
	if len(data) > MaxFileBytes {
		return "", ErrFileTooLarge
	}

	key := objectKey(sessionID, filename)
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mimeType),
	})
	if err != nil {
		return "", err
	}

	return u.publicURL + "/" + key, nil
}

func objectKey(sessionID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return fmt.Sprintf("proposals/%s/%s%s", sessionID, uuid.New(), ext)
}

func regionOrAuto(region string) string {
	if region == "" {
		return "auto"
	}
	return region
}
