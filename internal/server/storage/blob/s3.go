package blob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sethvargo/go-retry"

	"github.com/echovault/echovault/internal/common"
	sc "github.com/echovault/echovault/internal/server/config"
)

// Seams for testing the AWS SDK interaction without a live backend.
var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}

	headObject = func(c *s3.Client, ctx context.Context, in *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
		return c.HeadObject(ctx, in)
	}

	deleteObject = func(c *s3.Client, ctx context.Context, in *s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error) {
		return c.DeleteObject(ctx, in)
	}

	listObjectsV2 = func(c *s3.Client, ctx context.Context, in *s3.ListObjectsV2Input) (*s3.ListObjectsV2Output, error) {
		return c.ListObjectsV2(ctx, in)
	}

	headBucket = func(c *s3.Client, ctx context.Context, in *s3.HeadBucketInput) (*s3.HeadBucketOutput, error) {
		return c.HeadBucket(ctx, in)
	}
)

const (
	retryBaseDelay  = 100 * time.Millisecond
	retryMaxRetries = 3
)

// S3Store implements Store over any S3-compatible backend (AWS, MinIO, ...).
// Network calls are retried with bounded exponential backoff; exhausted
// retries surface common.ErrUnavailable.
type S3Store struct {
	bucket  string
	client  *s3.Client
	presign *s3.PresignClient
}

// NewS3Store builds the S3 client once from the server config. A custom base
// endpoint and path-style addressing make MinIO-compatible backends work.
func NewS3Store(ctx context.Context, cfg *sc.Config) (*S3Store, error) {
	awsCfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3AccessKey,
			cfg.S3SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3BaseEndpoint)
		}
		o.UsePathStyle = cfg.S3UsePathStyle
	})

	return &S3Store{
		bucket:  cfg.S3Bucket,
		client:  client,
		presign: newS3PresignClient(client),
	}, nil
}

func (s *S3Store) backoff() retry.Backoff {
	return retry.WithMaxRetries(retryMaxRetries, retry.NewExponential(retryBaseDelay))
}

// GenerateUploadURL presigns a PUT for key with the given content type.
// Presigning is a local signature computation, so no retry is involved.
func (s *S3Store) GenerateUploadURL(ctx context.Context, key, contentType string, maxSizeBytes int64, expiry time.Duration) (string, error) {
	_ = maxSizeBytes // presigned PUT cannot bound object size; bucket policy enforces the cap

	req, err := presignPutObject(s.presign, ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("presign put: %w", err)
	}

	return req.URL, nil
}

// Exists reports object presence via HeadObject. A NotFound response is a
// normal answer, not an error.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	var found bool

	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		_, err := headObject(s.client, ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var nf *types.NotFound
			if errors.As(err, &nf) {
				found = false
				return nil
			}
			return retry.RetryableError(err)
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("head object %q: %w: %v", key, common.ErrUnavailable, err)
	}

	return found, nil
}

// Delete removes the object under key. S3 DeleteObject succeeds for missing
// keys, which matches the Store contract.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		_, err := deleteObject(s.client, ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete object %q: %w: %v", key, common.ErrUnavailable, err)
	}
	return nil
}

// List pages through objects under prefix using StartAfter, returning at most
// limit entries.
func (s *S3Store) List(ctx context.Context, prefix, startAfter string, limit int32) ([]ObjectInfo, error) {
	var out []ObjectInfo

	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		in := &s3.ListObjectsV2Input{
			Bucket:  aws.String(s.bucket),
			Prefix:  aws.String(prefix),
			MaxKeys: aws.Int32(limit),
		}
		if startAfter != "" {
			in.StartAfter = aws.String(startAfter)
		}

		resp, err := listObjectsV2(s.client, ctx, in)
		if err != nil {
			return retry.RetryableError(err)
		}

		out = out[:0]
		for _, obj := range resp.Contents {
			info := ObjectInfo{Key: aws.ToString(obj.Key)}
			if obj.Size != nil {
				info.Size = *obj.Size
			}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			out = append(out, info)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list objects %q: %w: %v", prefix, common.ErrUnavailable, err)
	}

	return out, nil
}

// Health performs a HeadBucket request.
func (s *S3Store) Health(ctx context.Context) error {
	_, err := headBucket(s.client, ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("head bucket: %w: %v", common.ErrUnavailable, err)
	}
	return nil
}
