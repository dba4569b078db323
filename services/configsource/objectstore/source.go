// Package objectstore reads configuration entries stored as objects in an S3 bucket.
// Each object under the prefix is one entry; the object key below the prefix is the entry key.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	s3svc "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/upb/llm-chat-gateway/internal/runtimeconfig"
	"github.com/upb/llm-chat-gateway/services"
	"go.uber.org/zap"
)

// maxObjectSize bounds a single entry value.
const maxObjectSize = 1 << 20

// s3APIClient is the narrow S3 interface used by the source. It embeds
// ListObjectsV2APIClient so the SDK paginator can be used directly.
type s3APIClient interface {
	s3svc.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3svc.GetObjectInput, optFns ...func(*s3svc.Options)) (*s3svc.GetObjectOutput, error)
}

// Config configures a Source.
type Config struct {
	Bucket string
	Prefix string
	Region string
	// Endpoint overrides the S3 endpoint, for S3-compatible stores.
	Endpoint string
	Label    string
}

// Source is a runtimeconfig.Source backed by S3 objects.
type Source struct {
	client s3APIClient
	bucket string
	prefix string
	label  string
	logger *zap.Logger
}

// New loads the default AWS configuration and creates a Source.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Source, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	if awsCfg.Region == "" {
		awsCfg.Region = "us-east-1"
	}

	client := s3svc.NewFromConfig(awsCfg, func(o *s3svc.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, cfg, logger)
}

// NewWithClient creates a Source over an existing client.
func NewWithClient(client s3APIClient, cfg Config, logger *zap.Logger) (*Source, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("object store source requires a bucket")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &Source{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
		label:  cfg.Label,
		logger: logger.Named("objectstore"),
	}, nil
}

// FetchOne reads the object holding key.
func (s *Source) FetchOne(ctx context.Context, key string) (runtimeconfig.RawConfigEntry, error) {
	out, err := s.client.GetObject(ctx, &s3svc.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + key),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return runtimeconfig.RawConfigEntry{}, services.NewDomainError(services.ErrorTypeNotFound, "configuration entry not found", err).
				WithDetail("key", key)
		}
		return runtimeconfig.RawConfigEntry{}, services.NewDomainError(services.ErrorTypeConfigFetch, "failed to read configuration object", err).
			WithDetail("key", key).
			WithDetail("bucket", s.bucket)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(io.LimitReader(out.Body, maxObjectSize+1))
	if err != nil {
		return runtimeconfig.RawConfigEntry{}, services.NewDomainError(services.ErrorTypeConfigFetch, "failed to read configuration object body", err).
			WithDetail("key", key)
	}
	if len(body) > maxObjectSize {
		return runtimeconfig.RawConfigEntry{}, services.NewDomainError(services.ErrorTypeConfigFetch, "configuration object too large", nil).
			WithDetail("key", key)
	}

	entry := runtimeconfig.RawConfigEntry{
		Key:         key,
		Value:       string(body),
		ContentType: aws.ToString(out.ContentType),
		ETag:        strings.Trim(aws.ToString(out.ETag), `"`),
		Label:       s.label,
	}
	if out.LastModified != nil {
		entry.LastModified = *out.LastModified
	}
	return entry, nil
}

// FetchAll reads every object under the prefix. Labels are not supported by
// the object store; a filter label other than the configured one matches nothing.
func (s *Source) FetchAll(ctx context.Context, filter runtimeconfig.Filter) ([]runtimeconfig.RawConfigEntry, error) {
	if filter.Label != "" && filter.Label != s.label {
		return nil, nil
	}

	paginator := s3svc.NewListObjectsV2Paginator(s.client, &s3svc.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix + filter.KeyPrefix),
	})

	var entries []runtimeconfig.RawConfigEntry
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, services.NewDomainError(services.ErrorTypeConfigFetch, "failed to list configuration objects", err).
				WithDetail("bucket", s.bucket)
		}
		for _, obj := range page.Contents {
			key := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			entry, err := s.FetchOne(ctx, key)
			if err != nil {
				// Deleted between list and get.
				if services.IsNotFoundError(err) {
					continue
				}
				return nil, err
			}
			entries = append(entries, entry)
		}
	}

	s.logger.Debug("listed configuration objects", zap.String("bucket", s.bucket), zap.Int("count", len(entries)))
	return entries, nil
}
