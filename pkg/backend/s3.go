package backend

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/lostatc/acid-store/pkg/apierr"
)

// S3 is a backend driver over an S3-compatible bucket (spec §1 names
// S3 explicitly). Each backend key becomes one object under prefix.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3Options configures the S3 backend.
type S3Options struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string // non-empty for S3-compatible services (minio, etc.)
}

// NewS3 loads AWS credentials from the environment/config chain and
// returns a backend over the given bucket.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	cfgOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		cfgOpts = append(cfgOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, apierr.New(apierr.CodeBackendUnavailable, "loading AWS config", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3{client: client, bucket: opts.Bucket, prefix: opts.Prefix}, nil
}

func (s *S3) objectKey(key string) string {
	return s.prefix + key
}

func (s *S3) Write(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return apierr.New(apierr.CodeBackendUnavailable, "s3 PutObject", err)
	}
	return nil
}

func (s *S3) Read(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return nil, apierr.New(apierr.CodeNotFound, "key "+key, err)
	}
	if err != nil {
		return nil, apierr.New(apierr.CodeBackendUnavailable, "s3 GetObject", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, apierr.New(apierr.CodeIO, "reading s3 object body", err)
	}
	return data, nil
}

func (s *S3) Remove(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return apierr.New(apierr.CodeBackendUnavailable, "s3 DeleteObject", err)
	}
	return nil
}

func (s *S3) List(ctx context.Context) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, apierr.New(apierr.CodeBackendUnavailable, "s3 ListObjectsV2", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, (*obj.Key)[len(s.prefix):])
		}
	}
	return keys, nil
}

func (s *S3) Close() error { return nil }

var _ Backend = (*S3)(nil)
