package s3

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/objectfs/vaultstore/pkg/errors"
	"github.com/objectfs/vaultstore/pkg/utils"
)

// ContentHashMetadataKey is the user metadata key carrying the object's content hash.
const ContentHashMetadataKey = "vaultstore-content-hash"

// API is the subset of the S3 client the backend uses.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Backend stores file content as objects named <prefix><file_id>.
type Backend struct {
	mu           sync.Mutex
	client       API
	bucket       string
	prefix       string
	storageClass s3types.StorageClass
	logger       *zap.Logger
	metrics      BackendMetrics
}

// BackendMetrics tracks S3 backend request metrics
type BackendMetrics struct {
	Requests        int64         `json:"requests"`
	Errors          int64         `json:"errors"`
	BytesUploaded   int64         `json:"bytes_uploaded"`
	BytesDownloaded int64         `json:"bytes_downloaded"`
	AverageLatency  time.Duration `json:"average_latency"`
	LastError       string        `json:"last_error"`
	LastErrorTime   time.Time     `json:"last_error_time"`
}

// NewBackend creates an S3 client from the default AWS credential chain, or from static
// keys when configured, and verifies the bucket is reachable.
func NewBackend(ctx context.Context, cfg *Config, logger *zap.Logger) (*Backend, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if cfg.Bucket == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "bucket name cannot be empty").
			WithComponent("s3")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithRetryMaxAttempts(cfg.MaxRetries),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeBackendUnavailable, "failed to load AWS config").
			WithComponent("s3")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	backend, err := NewWithClient(client, cfg, logger)
	if err != nil {
		return nil, err
	}

	if !cfg.SkipHealthCheck {
		if err := backend.HealthCheck(ctx); err != nil {
			return nil, err
		}
	}
	return backend, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client API, cfg *Config, logger *zap.Logger) (*Backend, error) {
	if cfg == nil || cfg.Bucket == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "bucket name cannot be empty").
			WithComponent("s3")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		client:       client,
		bucket:       cfg.Bucket,
		prefix:       cfg.Prefix,
		storageClass: convertStorageClass(cfg.StorageClass),
		logger:       logger.With(zap.String("bucket", cfg.Bucket)),
	}, nil
}

// Location implements types.Backend.
func (b *Backend) Location(id string) string {
	return fmt.Sprintf("s3://%s/%s", b.bucket, b.key(id))
}

// Write uploads data as the object for id. S3 replaces objects atomically.
func (b *Backend) Write(ctx context.Context, id string, data []byte) error {
	start := time.Now()
	key := b.key(id)

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
		StorageClass:  b.storageClass,
		Metadata: map[string]string{
			ContentHashMetadataKey: utils.ContentHash(data),
		},
	})
	b.recordMetrics(time.Since(start), err)
	if err != nil {
		return b.translateError(err, "write", id)
	}

	b.mu.Lock()
	b.metrics.BytesUploaded += int64(len(data))
	b.mu.Unlock()

	b.logger.Debug("Object uploaded", zap.String("key", key), zap.Int("size", len(data)))
	return nil
}

// Read downloads the object for id.
func (b *Backend) Read(ctx context.Context, id string) ([]byte, error) {
	start := time.Now()

	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(id)),
	})
	if err != nil {
		b.recordMetrics(time.Since(start), err)
		return nil, b.translateError(err, "read", id)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	b.recordMetrics(time.Since(start), err)
	if err != nil {
		return nil, b.translateError(err, "read", id)
	}

	b.mu.Lock()
	b.metrics.BytesDownloaded += int64(len(data))
	b.mu.Unlock()

	return data, nil
}

// HealthCheck verifies the bucket is reachable.
func (b *Backend) HealthCheck(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeBackendUnavailable, "S3 health check failed").
			WithComponent("s3").
			WithContext("bucket", b.bucket)
	}
	return nil
}

// GetMetrics returns request counters.
func (b *Backend) GetMetrics() BackendMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metrics
}

// Close implements types.Backend.
func (b *Backend) Close() error {
	return nil
}

func (b *Backend) key(id string) string {
	return b.prefix + id
}

func (b *Backend) recordMetrics(duration time.Duration, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.metrics.Requests++
	if b.metrics.AverageLatency == 0 {
		b.metrics.AverageLatency = duration
	} else {
		b.metrics.AverageLatency = (b.metrics.AverageLatency*9 + duration) / 10
	}
	if err != nil {
		b.metrics.Errors++
		b.metrics.LastError = err.Error()
		b.metrics.LastErrorTime = time.Now()
	}
}

func (b *Backend) translateError(err error, operation, id string) error {
	switch {
	case isErrorType[*s3types.NoSuchKey](err):
		return errors.New(errors.ErrCodeNotFound, "object not found").
			WithComponent("s3").
			WithOperation(operation).
			WithContext("file_id", id)
	case isErrorType[*s3types.NoSuchBucket](err):
		return errors.Wrap(err, errors.ErrCodeBackendUnavailable, "bucket not found").
			WithComponent("s3").
			WithOperation(operation).
			WithContext("bucket", b.bucket)
	default:
		return errors.Wrap(err, errors.ErrCodeIOFailure, "object request failed").
			WithComponent("s3").
			WithOperation(operation).
			WithContext("file_id", id)
	}
}

// isErrorType checks if an error is of a specific type
func isErrorType[T error](err error) bool {
	var target T
	return stderrors.As(err, &target)
}
