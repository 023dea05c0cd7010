package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// Config holds the S3 settings for the media bucket.
type Config struct {
	Enabled   bool
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	PathStyle bool
	PublicURL string
	Folder    string
}

// S3Store uploads materialized media to one bucket and hands back public
// URLs. Objects are keyed by message id under a fixed folder.
type S3Store struct {
	client *s3.Client
	cfg    Config
}

// NewS3Store builds the store. Returns nil when storage is disabled; callers
// treat a nil store as "no media persistence".
func NewS3Store(cfg Config) (*S3Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("s3 credentials not configured")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket not configured")
	}

	awsCfg := aws.Config{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}

	// Buckets with dots need path-style URLs to avoid SSL certificate
	// mismatches.
	usePathStyle := cfg.PathStyle
	if strings.Contains(cfg.Bucket, ".") {
		usePathStyle = true
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = usePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	log.Info().
		Str("bucket", cfg.Bucket).
		Str("region", cfg.Region).
		Str("endpoint", cfg.Endpoint).
		Msg("S3 media store initialized")

	return &S3Store{client: client, cfg: cfg}, nil
}

// Key builds the object key for a message's media.
func (s *S3Store) Key(messageID, ext string) string {
	folder := strings.Trim(s.cfg.Folder, "/")
	if folder == "" {
		folder = "media"
	}
	if !strings.HasPrefix(ext, ".") && ext != "" {
		ext = "." + ext
	}
	return fmt.Sprintf("%s/%s%s", folder, messageID, ext)
}

// Upload puts the object and returns its public URL.
func (s *S3Store) Upload(ctx context.Context, key string, data []byte, mimeType string) (string, error) {
	contentType := mimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	input := &s3.PutObjectInput{
		Bucket:       aws.String(s.cfg.Bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=3600"),
	}
	if strings.HasPrefix(mimeType, "image/") || strings.HasPrefix(mimeType, "video/") || mimeType == "application/pdf" {
		input.ContentDisposition = aws.String("inline")
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("upload to s3: %w", err)
	}

	log.Debug().
		Str("key", key).
		Str("bucket", s.cfg.Bucket).
		Str("mimeType", mimeType).
		Int("size", len(data)).
		Msg("Media uploaded to S3")

	return s.PublicURL(key), nil
}

// PublicURL generates the public URL for an object key.
func (s *S3Store) PublicURL(key string) string {
	if s.cfg.PublicURL != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.cfg.PublicURL, "/"), s.cfg.Bucket, key)
	}

	usePathStyle := s.cfg.PathStyle
	if strings.Contains(s.cfg.Bucket, ".") {
		usePathStyle = true
	}

	endpoint := s.cfg.Endpoint
	switch {
	case endpoint == "" || strings.Contains(endpoint, "amazonaws.com"):
		if usePathStyle {
			return fmt.Sprintf("https://s3.%s.amazonaws.com/%s/%s", s.cfg.Region, s.cfg.Bucket, key)
		}
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, key)
	case usePathStyle:
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(endpoint, "/"), s.cfg.Bucket, key)
	default:
		clean := strings.TrimPrefix(endpoint, "https://")
		clean = strings.TrimPrefix(clean, "http://")
		return fmt.Sprintf("https://%s.%s/%s", s.cfg.Bucket, clean, key)
	}
}
