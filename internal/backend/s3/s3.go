// Package s3 provides an S3-backed persistent cache layer.
//
// Each cache key becomes one object under KeyPrefix. Tags and absolute
// expiry are carried in object metadata, so tag invalidation is a
// list-and-filter pass over the prefix. That scan is O(objects); this
// backend suits durable warm state, not high-churn invalidation loads.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/stratacache/stratacache/pkg/types"
)

const (
	metaTags    = "stratacache-tags"
	metaExpires = "stratacache-expires"
)

// Config represents S3 backend configuration
type Config struct {
	Bucket         string `yaml:"bucket"`
	Region         string `yaml:"region"`
	KeyPrefix      string `yaml:"key_prefix"`
	Endpoint       string `yaml:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
}

// Backend implements types.Backend on an S3 bucket
type Backend struct {
	client *s3.Client
	bucket string
	prefix string
	clock  types.Clock
}

// New creates an S3 backend, loading AWS configuration from the
// environment unless static credentials are configured
func New(ctx context.Context, cfg Config, clock types.Clock) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}
	if clock == nil {
		clock = types.SystemClock()
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "stratacache/"
	}

	return &Backend{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
		clock:  clock,
	}, nil
}

func (b *Backend) objectKey(key string) string { return b.prefix + key }

// Get retrieves a payload and the tags recorded in its metadata;
// objects past their recorded expiry count as absent and are deleted
// opportunistically
func (b *Backend) Get(ctx context.Context, key string) ([]byte, []string, bool, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil, false, nil
		}
		return nil, nil, false, err
	}
	defer out.Body.Close()

	if expired(out.Metadata, b.clock.Now()) {
		_, _ = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(b.objectKey(key)),
		})
		return nil, nil, false, nil
	}

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, nil, false, err
	}
	return data, metadataTags(out.Metadata), true, nil
}

// Set stores a payload with tags and expiry in object metadata
func (b *Backend) Set(ctx context.Context, key string, data []byte, ttl time.Duration, tags []string) error {
	metadata := map[string]string{}
	if len(tags) > 0 {
		metadata[metaTags] = strings.Join(tags, ",")
	}
	if ttl > 0 {
		metadata[metaExpires] = strconv.FormatInt(b.clock.Now().Add(ttl).Unix(), 10)
	}

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(b.bucket),
		Key:      aws.String(b.objectKey(key)),
		Body:     bytes.NewReader(data),
		Metadata: metadata,
	})
	return err
}

// Delete removes a key. S3 deletes are idempotent and do not report
// prior existence, so a HeadObject probe answers the existed flag.
func (b *Backend) Delete(ctx context.Context, key string) (bool, error) {
	existed := true
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		if !isNotFound(err) {
			return false, err
		}
		existed = false
	}

	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		return false, err
	}
	return existed, nil
}

// InvalidateByTags lists the prefix and removes every object whose
// metadata tag list intersects tags
func (b *Backend) InvalidateByTags(ctx context.Context, tags []string) (int, error) {
	wanted := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		wanted[tag] = struct{}{}
	}

	removed := 0
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return removed, err
		}
		for _, obj := range page.Contents {
			head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
				Bucket: aws.String(b.bucket),
				Key:    obj.Key,
			})
			if err != nil {
				if isNotFound(err) {
					continue
				}
				return removed, err
			}
			if !tagsIntersect(head.Metadata, wanted) {
				continue
			}
			_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(b.bucket),
				Key:    obj.Key,
			})
			if err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// Clear removes every object under the prefix
func (b *Backend) Clear(ctx context.Context) error {
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, obj := range page.Contents {
			_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(b.bucket),
				Key:    obj.Key,
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// Ping verifies the bucket is reachable
func (b *Backend) Ping(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	return err
}

func expired(metadata map[string]string, now time.Time) bool {
	raw, ok := metadata[metaExpires]
	if !ok {
		return false
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}
	return now.After(time.Unix(unix, 0))
}

func metadataTags(metadata map[string]string) []string {
	raw, ok := metadata[metaTags]
	if !ok || raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func tagsIntersect(metadata map[string]string, wanted map[string]struct{}) bool {
	raw, ok := metadata[metaTags]
	if !ok {
		return false
	}
	for _, tag := range strings.Split(raw, ",") {
		if _, hit := wanted[tag]; hit {
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	var noSuchKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	// GetObject on a missing key can also surface as a generic API error
	return strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "NotFound")
}
