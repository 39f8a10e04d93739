package mirror

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/framesnap/framesnap/internal/config"
)

type GCSPublisher struct {
	client *storage.Client
	bucket string
}

// NewGCSPublisher uses the service account key at cfg.CredentialsFile, or
// application default credentials when it is empty.
func NewGCSPublisher(ctx context.Context, cfg config.MirrorConfig) (*GCSPublisher, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}
	return &GCSPublisher{client: client, bucket: cfg.Bucket}, nil
}

func (p *GCSPublisher) Publish(ctx context.Context, key string, r io.Reader) error {
	wc := p.client.Bucket(p.bucket).Object(key).NewWriter(ctx)
	wc.ContentType = "image/jpeg"

	if _, err := io.Copy(wc, r); err != nil {
		wc.Close()
		return fmt.Errorf("copy %s: %w", key, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("finalize %s: %w", key, err)
	}
	return nil
}

func (p *GCSPublisher) Close() error {
	return p.client.Close()
}
