package mirror

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/framesnap/framesnap/internal/config"
)

type S3Publisher struct {
	bucket   string
	uploader *manager.Uploader
}

func NewS3Publisher(cfg config.MirrorConfig) *S3Publisher {
	opts := s3.Options{Region: cfg.Region}
	if cfg.AccessKey != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	}

	return &S3Publisher{
		bucket:   cfg.Bucket,
		uploader: manager.NewUploader(s3.New(opts)),
	}
}

func (p *S3Publisher) Publish(ctx context.Context, key string, r io.Reader) error {
	_, err := p.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String("image/jpeg"),
	})
	if err != nil {
		return fmt.Errorf("upload %s to bucket %s: %w", key, p.bucket, err)
	}
	return nil
}

func (p *S3Publisher) Close() error { return nil }
