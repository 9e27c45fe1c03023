package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/vadim/prodesk/internal/chat/entity"
	"github.com/vadim/prodesk/internal/config"
)

// SaveInput describes one attachment upload.
type SaveInput struct {
	Reader      io.Reader
	ContentType string
	Size        int64
	Filename    string
}

// SaveOutput describes the stored attachment.
type SaveOutput struct {
	URL  string
	Kind entity.AttachmentKind
	Key  string
	Size int64
}

// Store persists uploaded attachment files and yields their public URL.
type Store interface {
	Save(ctx context.Context, in SaveInput) (*SaveOutput, error)
}

// KindFromContentType maps a MIME type to the attachment kind shown in chat.
func KindFromContentType(contentType string) entity.AttachmentKind {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return entity.AttachmentImage
	case strings.HasPrefix(contentType, "video/"):
		return entity.AttachmentVideo
	default:
		return entity.AttachmentDocument
	}
}

// S3Storage handles attachment uploads to S3-compatible storage
type S3Storage struct {
	client    *s3.Client
	bucket    string
	publicURL string
}

// NewS3Storage creates a new S3 storage client
func NewS3Storage(cfg config.S3) (*S3Storage, error) {
	// Create S3 client with static credentials and custom endpoint
	client := s3.New(s3.Options{
		Region:       cfg.Region,
		BaseEndpoint: aws.String(cfg.Endpoint),
		Credentials: credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
		UsePathStyle: true, // Required for MinIO
	})

	publicURL := cfg.PublicURL
	if publicURL == "" {
		publicURL = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}

	return &S3Storage{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
	}, nil
}

// Save uploads the attachment under a dated unique key.
func (s *S3Storage) Save(ctx context.Context, in SaveInput) (*SaveOutput, error) {
	key := fmt.Sprintf("%s/%s%s",
		time.Now().UTC().Format("2006/01/02"),
		uuid.New().String(),
		extension(in.Filename),
	)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          in.Reader,
		ContentType:   aws.String(in.ContentType),
		ContentLength: aws.Int64(in.Size),
	})
	if err != nil {
		return nil, fmt.Errorf("uploading to s3: %w", err)
	}

	return &SaveOutput{
		URL:  s.publicURL + "/" + key,
		Kind: KindFromContentType(in.ContentType),
		Key:  key,
		Size: in.Size,
	}, nil
}

func extension(filename string) string {
	if idx := strings.LastIndex(filename, "."); idx >= 0 {
		return filename[idx:]
	}
	return ""
}
