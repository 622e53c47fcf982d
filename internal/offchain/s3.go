package offchain

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/gezibash/arc-provenance/internal/registry"
	"github.com/gezibash/arc-provenance/internal/storage"
)

const (
	KeyBucket          = "bucket"
	KeyRegion          = "region"
	KeyEndpoint        = "endpoint"
	KeyPrefix          = "prefix"
	KeyAccessKeyID     = "access_key_id"
	KeySecretAccessKey = "secret_access_key"
	KeyForcePathStyle  = "force_path_style"
)

// S3Defaults returns the default configuration for the S3 store.
func S3Defaults() map[string]string {
	return map[string]string{
		KeyRegion:          "us-east-1",
		KeyEndpoint:        "",
		KeyPrefix:          "documents/",
		KeyAccessKeyID:     "",
		KeySecretAccessKey: "",
		KeyForcePathStyle:  "false",
	}
}

// S3 keeps objects at <prefix><hex hash> in one bucket.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3 creates an S3 store from a configuration map and checks that the
// bucket is reachable.
func NewS3(ctx context.Context, config map[string]string) (*S3, error) {
	return newS3(ctx, config, true)
}

func newS3(ctx context.Context, config map[string]string, checkBucket bool) (*S3, error) {
	o := storage.NewOptions("s3", config)
	bucket := o.Require(KeyBucket)
	region := o.String(KeyRegion, "us-east-1")
	endpoint := o.String(KeyEndpoint, "")
	prefix := o.String(KeyPrefix, "")
	accessKeyID := o.String(KeyAccessKeyID, "")
	secretAccessKey := o.String(KeySecretAccessKey, "")
	forcePathStyle := o.Bool(KeyForcePathStyle, false)
	if err := o.Err(); err != nil {
		return nil, err
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKeyID != "" && secretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, storage.Failed("s3", "", "failed to load AWS config", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = forcePathStyle
	})

	if checkBucket {
		if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
			return nil, storage.Failed("s3", KeyBucket, "bucket not accessible", err)
		}
		slog.Debug("offchain s3 store initialized", "bucket", bucket, "region", region, "prefix", prefix)
	}
	return NewS3WithClient(client, bucket, prefix), nil
}

// NewS3WithClient wraps an existing client.
func NewS3WithClient(client *s3.Client, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3) key(h registry.Hash) string {
	return s.prefix + hex.EncodeToString(h[:])
}

func s3Pointer(bucket, key string) string {
	return (&url.URL{Scheme: "s3", Host: bucket, Path: "/" + key}).String()
}

// parseS3Pointer splits s3://bucket/key.
func parseS3Pointer(pointer string) (bucket, key string, err error) {
	u, err := url.Parse(pointer)
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("%w: %q is not an s3 pointer", ErrUnsupportedPointer, pointer)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("%w: %q has no object key", ErrUnsupportedPointer, pointer)
	}
	return u.Host, key, nil
}

// Put buffers r, checks it against h, and uploads it.
func (s *S3) Put(ctx context.Context, h registry.Hash, r io.Reader) (string, error) {
	var buf bytes.Buffer
	if _, err := Copy(&buf, r, h); err != nil {
		return "", err
	}
	key := s.key(h)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(int64(buf.Len())),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put: %w", err)
	}
	return s3Pointer(s.bucket, key), nil
}

// Get opens an s3:// pointer in this store's bucket.
func (s *S3) Get(ctx context.Context, pointer string) (io.ReadCloser, error) {
	bucket, key, err := parseS3Pointer(pointer)
	if err != nil {
		return nil, err
	}
	if bucket != s.bucket {
		return nil, fmt.Errorf("%w: bucket %q, store uses %q", ErrUnsupportedPointer, bucket, s.bucket)
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("s3 get: %w", err)
	}
	return out.Body, nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var respErr interface{ HTTPStatusCode() int }
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404
}
