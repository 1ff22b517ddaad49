package journal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/dmitrymomot/companion/pkg/capi"
)

// S3Client is the subset of the S3 API used by S3Store.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config configures journal storage in S3 or an S3-compatible service.
type S3Config struct {
	Bucket         string `env:"JOURNAL_S3_BUCKET"`
	Region         string `env:"JOURNAL_S3_REGION" envDefault:"us-east-1"`
	AccessKeyID    string `env:"JOURNAL_S3_ACCESS_KEY_ID"`
	SecretKey      string `env:"JOURNAL_S3_SECRET_KEY"`
	Endpoint       string `env:"JOURNAL_S3_ENDPOINT"`
	Prefix         string `env:"JOURNAL_S3_PREFIX" envDefault:"journals"`
	ForcePathStyle bool   `env:"JOURNAL_S3_FORCE_PATH_STYLE"`
}

// S3Store keeps journals as objects. It is safe for concurrent use.
type S3Store struct {
	client S3Client
	bucket string
	prefix string
}

type S3Option func(*s3Options)

type s3Options struct {
	httpClient      *http.Client
	s3Client        S3Client
	s3ConfigOptions []func(*config.LoadOptions) error
}

// WithS3Client uses a pre-configured client, typically a mock in tests.
func WithS3Client(client S3Client) S3Option {
	return func(o *s3Options) {
		o.s3Client = client
	}
}

// WithS3HTTPClient sets the HTTP client of the SDK.
func WithS3HTTPClient(client *http.Client) S3Option {
	return func(o *s3Options) {
		o.httpClient = client
	}
}

// WithS3ConfigOption adds an AWS config load option.
func WithS3ConfigOption(option func(*config.LoadOptions) error) S3Option {
	return func(o *s3Options) {
		o.s3ConfigOptions = append(o.s3ConfigOptions, option)
	}
}

// NewS3Store creates an S3-backed journal store.
func NewS3Store(ctx context.Context, cfg S3Config, opts ...S3Option) (*S3Store, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, fmt.Errorf("%w: bucket and region are required", ErrInvalidConfig)
	}

	options := &s3Options{}
	for _, opt := range opts {
		opt(options)
	}

	client := options.s3Client
	if client == nil {
		awsOptions := []func(*config.LoadOptions) error{
			config.WithRegion(cfg.Region),
		}
		if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
			awsOptions = append(awsOptions,
				config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID,
					cfg.SecretKey,
					"",
				)),
			)
		}
		if options.httpClient != nil {
			awsOptions = append(awsOptions, config.WithHTTPClient(options.httpClient))
		}
		awsOptions = append(awsOptions, options.s3ConfigOptions...)

		awsConfig, err := config.LoadDefaultConfig(ctx, awsOptions...)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFailedToLoadAWS, err)
		}
		client = s3.NewFromConfig(awsConfig, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			o.UsePathStyle = cfg.ForcePathStyle
		})
	}

	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Key returns the object key of the journal of identity for day.
func (s *S3Store) Key(identity string, day time.Time) string {
	return path.Join(s.prefix, capi.SafeFileName(identity), FileName(day))
}

func (s *S3Store) Load(ctx context.Context, identity string, day time.Time) (string, error) {
	if identity == "" {
		return "", ErrNoIdentity
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.Key(identity, day)),
	})
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", classifyS3Error(err, "get")
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read object: %w", ErrStoreFailed, err)
	}
	return string(data), nil
}

func (s *S3Store) Save(ctx context.Context, identity string, day time.Time, text string) error {
	if identity == "" {
		return ErrNoIdentity
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.Key(identity, day)),
		Body:        strings.NewReader(text),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return classifyS3Error(err, "put")
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

// classifyS3Error maps an SDK failure to a journal error. Every result
// matches ErrStoreFailed.
func classifyS3Error(err error, operation string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w: %s operation", ErrStoreFailed, ErrOperationTimeout, operation)
	}

	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return fmt.Errorf("%w: %w: %s operation", ErrStoreFailed, ErrBucketNotFound, operation)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied":
			return fmt.Errorf("%w: %w: %s operation", ErrStoreFailed, ErrAccessDenied, operation)
		case "NoSuchBucket":
			return fmt.Errorf("%w: %w: %s operation", ErrStoreFailed, ErrBucketNotFound, operation)
		case "RequestTimeout":
			return fmt.Errorf("%w: %w: %s operation", ErrStoreFailed, ErrOperationTimeout, operation)
		}
	}
	return fmt.Errorf("%w: %s operation: %w", ErrStoreFailed, operation, err)
}
