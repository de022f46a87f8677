package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// Options configures the S3 client. Empty credentials fall back to the
// default AWS chain.
type Options struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	// Password enables sealing of uploads and opening of sealed downloads.
	Password string
}

// S3Client downloads source documents and uploads results.
type S3Client struct {
	client   *s3.Client
	uploader *manager.Uploader
	password string
}

// NewS3Client creates a new S3 client
func NewS3Client(ctx context.Context, opts Options) (*S3Client, error) {
	var lo []func(*awscfg.LoadOptions) error
	if opts.Region != "" {
		lo = append(lo, awscfg.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		lo = append(lo, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, lo...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	cli := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Client{client: cli, uploader: manager.NewUploader(cli), password: opts.Password}, nil
}

// Download fetches an object, opening it when it is sealed.
func (s *S3Client) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read S3 object: %w", err)
	}
	if Encrypted(data) {
		if s.password == "" {
			return nil, fmt.Errorf("s3://%s/%s is sealed and no password is configured", bucket, key)
		}
		if data, err = Open(data, s.password); err != nil {
			return nil, err
		}
	}
	log.Debug().Str("bucket", bucket).Str("key", key).Int("size", len(data)).Msg("downloaded object")
	return data, nil
}

// Upload stores data under key and returns its s3:// URL.
func (s *S3Client) Upload(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	body := data
	meta := map[string]string{}
	if s.password != "" {
		sealed, err := Seal(data, s.password)
		if err != nil {
			return "", fmt.Errorf("failed to seal %s: %w", key, err)
		}
		body = sealed
		meta["encrypted"] = "true"
		meta["encryption-format"] = string(gcmMagic)
	}
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		Metadata:    meta,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload s3://%s/%s: %w", bucket, key, err)
	}
	log.Debug().Str("bucket", bucket).Str("key", key).Int("size", len(body)).Msg("uploaded object")
	return fmt.Sprintf("s3://%s/%s", bucket, key), nil
}

// Ping checks that bucket is reachable with the current credentials.
func (s *S3Client) Ping(ctx context.Context, bucket string) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	return err
}
