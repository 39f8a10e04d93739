// Package mirror copies extracted frames to an object store.
package mirror

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/framesnap/framesnap/internal/config"
)

// Publisher uploads one object.
type Publisher interface {
	Publish(ctx context.Context, key string, r io.Reader) error
	Close() error
}

// New builds the publisher selected by cfg. It returns nil, nil when no
// mirror backend is configured.
func New(ctx context.Context, cfg config.MirrorConfig) (Publisher, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "s3":
		return NewS3Publisher(cfg), nil
	case "gcs":
		p, err := NewGCSPublisher(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown mirror backend: %s", cfg.Backend)
	}
}

// ObjectKey is where a frame of a job is stored in the bucket.
func ObjectKey(prefix, jobID, fileName string) string {
	return path.Join(prefix, jobID, fileName)
}
