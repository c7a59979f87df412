package capabilities

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("modhost/capabilities")

// S3Config configures the S3 files backend
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// S3API is the part of the S3 client S3Files uses
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// NewS3Client builds an S3 client. Static keys are used when both are set,
// the default credential chain otherwise. A missing bucket is created.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(cfg.Bucket)})
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if err != nil && !errors.As(err, &owned) && !errors.As(err, &exists) {
			return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
		}
	}
	return client, nil
}

// S3Files stores a module's files under modules/<name>/ in one bucket
type S3Files struct {
	api    S3API
	bucket string
	prefix string
}

// NewS3Files scopes api to module
func NewS3Files(api S3API, bucket, module string) *S3Files {
	return &S3Files{api: api, bucket: bucket, prefix: ModulePrefix(module)}
}

// Put implements sdk.Files
func (f *S3Files) Put(ctx context.Context, key string, body io.Reader) error {
	objectKey, err := f.objectKey(key)
	if err != nil {
		return err
	}
	ctx, span := f.span(ctx, "PutObject", objectKey)
	defer span.End()

	data, err := io.ReadAll(body)
	if err != nil {
		return spanError(span, fmt.Errorf("failed to read content: %w", err))
	}
	sum := sha256.Sum256(data)
	span.SetAttributes(attribute.Int("content.size", len(data)))

	_, err = f.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(f.bucket),
		Key:      aws.String(objectKey),
		Body:     bytes.NewReader(data),
		Metadata: map[string]string{"checksum-sha256": hex.EncodeToString(sum[:])},
	})
	if err != nil {
		return spanError(span, fmt.Errorf("failed to upload to s3: %w", err))
	}
	return nil
}

// Get implements sdk.Files. A missing key wraps fs.ErrNotExist.
func (f *S3Files) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	objectKey, err := f.objectKey(key)
	if err != nil {
		return nil, err
	}
	ctx, span := f.span(ctx, "GetObject", objectKey)
	defer span.End()

	out, err := f.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("%s: %w", key, fs.ErrNotExist)
		}
		return nil, spanError(span, fmt.Errorf("failed to get object from s3: %w", err))
	}
	return out.Body, nil
}

// Delete implements sdk.Files
func (f *S3Files) Delete(ctx context.Context, key string) error {
	objectKey, err := f.objectKey(key)
	if err != nil {
		return err
	}
	ctx, span := f.span(ctx, "DeleteObject", objectKey)
	defer span.End()

	if _, err := f.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(objectKey),
	}); err != nil {
		return spanError(span, fmt.Errorf("failed to delete object: %w", err))
	}
	return nil
}

// List implements sdk.Files. Keys are returned relative to the module area.
func (f *S3Files) List(ctx context.Context, prefix string) ([]string, error) {
	full := f.prefix
	if prefix != "" {
		cleaned, err := cleanKey(prefix)
		if err != nil {
			return nil, err
		}
		full += cleaned
	}
	ctx, span := f.span(ctx, "ListObjectsV2", full)
	defer span.End()

	var keys []string
	pages := s3.NewListObjectsV2Paginator(f.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(f.bucket),
		Prefix: aws.String(full),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, spanError(span, fmt.Errorf("failed to list objects: %w", err))
		}
		for _, obj := range page.Contents {
			keys = append(keys, strings.TrimPrefix(aws.ToString(obj.Key), f.prefix))
		}
	}
	return keys, nil
}

// HealthCheck verifies the bucket is reachable
func (f *S3Files) HealthCheck(ctx context.Context) error {
	if _, err := f.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(f.bucket)}); err != nil {
		return fmt.Errorf("s3 health check failed: %w", err)
	}
	return nil
}

func (f *S3Files) objectKey(key string) (string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return f.prefix + cleaned, nil
}

func (f *S3Files) span(ctx context.Context, op, key string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "S3."+op, trace.WithAttributes(
		attribute.String("s3.operation", op),
		attribute.String("s3.bucket", f.bucket),
		attribute.String("s3.key", key),
	))
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
