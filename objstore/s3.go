package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	synapsetypes "synapsedb.dev/synapsedb/types"
)

// S3Config configures the S3-backed remote object store.
type S3Config struct {
	Region          string
	Bucket          string
	Endpoint        string // non-empty for S3-compatible endpoints (MinIO, etc.)
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// S3Backend is the remote object store: writes go through the AWS SDK's
// upload manager, which handles multipart transfer; reads, deletes, and
// lists call the S3 client directly.
type S3Backend struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: loading aws config: %v", synapsetypes.ErrStorage, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Backend{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
	}, nil
}

func (s *S3Backend) Write(ctx context.Context, path string, data []byte) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", synapsetypes.ErrStorage, path, err)
	}
	return nil
}

func (s *S3Backend) Read(ctx context.Context, path string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: %s", synapsetypes.ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: get %s: %v", synapsetypes.ErrStorage, path, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body of %s: %v", synapsetypes.ErrStorage, path, err)
	}
	return data, nil
}

func (s *S3Backend) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", synapsetypes.ErrStorage, path, err)
	}
	return nil
}

func (s *S3Backend) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: list %s: %v", synapsetypes.ErrStorage, prefix, err)
		}
		for _, obj := range page.Contents {
			out = append(out, aws.ToString(obj.Key))
		}
	}
	return out, nil
}

// BatchRead fans keys out across the backend's MaxConcurrency: bounded
// parallelism rather than one request per key unbounded.
func (s *S3Backend) BatchRead(ctx context.Context, paths []string) (map[string][]byte, error) {
	cfg := s.BatchConfig()
	sem := make(chan struct{}, cfg.MaxConcurrency)
	results := make(chan struct {
		path string
		data []byte
	}, len(paths))

	for _, p := range paths {
		sem <- struct{}{}
		go func(path string) {
			defer func() { <-sem }()
			data, err := s.Read(ctx, path)
			if err != nil {
				results <- struct {
					path string
					data []byte
				}{path, nil}
				return
			}
			results <- struct {
				path string
				data []byte
			}{path, data}
		}(p)
	}

	out := make(map[string][]byte, len(paths))
	for range paths {
		r := <-results
		if r.data != nil {
			out[r.path] = r.data
		}
	}
	return out, nil
}

// BatchConfig reflects the soft rate limit and concurrency ceiling a
// cloud backend needs to avoid tripping provider throttling.
func (s *S3Backend) BatchConfig() BatchConfig {
	return BatchConfig{
		MaxBatchSize:       200,
		InterBatchDelay:    0,
		MaxConcurrency:     16,
		ParallelWritesSafe: true,
		RateLimit:          200,
	}
}

func (s *S3Backend) Kind() Kind { return KindCloud }
