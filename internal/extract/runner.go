// Package extract runs frame extraction jobs in the background and feeds
// their output into the progress store.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/framesnap/framesnap/internal/decoder"
	"github.com/framesnap/framesnap/internal/job"
	"github.com/framesnap/framesnap/internal/logging"
	"github.com/framesnap/framesnap/internal/mirror"
	"github.com/framesnap/framesnap/internal/progress"
	"github.com/framesnap/framesnap/internal/storage"
)

var ErrNotActive = errors.New("job is not active")

// saveEvery controls how often a running job's frame count is written back
// to the job store.
const saveEvery = 25

const publishTimeout = 30 * time.Second

type Options struct {
	Mirror       mirror.Publisher
	MirrorPrefix string
	Logger       *slog.Logger
}

// Runner owns at most one observable extraction at a time. Starting a job
// cancels the one before it, and the new job only begins once the old one
// has released its source.
type Runner struct {
	base     context.Context
	opener   decoder.Opener
	media    *storage.Store
	progress *progress.Store
	jobs     job.JobStore
	mirror   mirror.Publisher
	prefix   string
	logger   *slog.Logger

	mu      sync.Mutex
	current *handle
	handles map[string]*handle
}

type handle struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner creates a runner. Jobs are cancelled when ctx is done.
func NewRunner(ctx context.Context, opener decoder.Opener, media *storage.Store, ps *progress.Store, jobs job.JobStore, opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Runner{
		base:     ctx,
		opener:   opener,
		media:    media,
		progress: ps,
		jobs:     jobs,
		mirror:   opts.Mirror,
		prefix:   opts.MirrorPrefix,
		logger:   logger,
		handles:  make(map[string]*handle),
	}
}

// Start registers a job for sourcePath and extracts it in the background.
// It returns as soon as the job is registered.
func (r *Runner) Start(sourcePath string) (*job.Job, error) {
	j := job.New(sourcePath)
	if err := r.jobs.Add(j); err != nil {
		return nil, fmt.Errorf("register job: %w", err)
	}
	registered := *j

	ctx, cancel := context.WithCancel(r.base)
	h := &handle{id: j.ID, cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	prev := r.current
	r.current = h
	r.handles[h.id] = h
	r.mu.Unlock()

	if prev != nil {
		r.logger.Info("superseding running job", "job", prev.id, "next", h.id)
		prev.cancel()
	}

	go func() {
		if prev != nil {
			<-prev.done
		}
		r.Run(ctx, j)
		cancel()

		r.mu.Lock()
		delete(r.handles, h.id)
		if r.current == h {
			r.current = nil
		}
		r.mu.Unlock()
		close(h.done)
	}()

	return &registered, nil
}

// Run extracts j synchronously. j must already be in the job store.
func (r *Runner) Run(ctx context.Context, j *job.Job) error {
	log := r.logger.With("job", j.ID)

	if err := ctx.Err(); err != nil {
		j.Finish(job.StatusCancelled, err)
		r.save(j, log)
		return err
	}

	j.Start()
	r.save(j, log)
	r.progress.Begin(j.ID)
	log.Info("extraction started", "source", j.SourcePath)

	count, err := r.extract(ctx, j, log)
	j.FrameCount = count

	status := job.StatusDone
	switch {
	case ctx.Err() != nil:
		status, err = job.StatusCancelled, ctx.Err()
	case err != nil:
		status = job.StatusFailed
	}

	if status != job.StatusCancelled {
		if n, perr := r.media.PruneFrames(count); perr != nil {
			log.Warn("prune stale frames", logging.Err(perr))
		} else if n > 0 {
			log.Debug("pruned stale frames", "removed", n)
		}
	}

	j.Finish(status, err)
	r.save(j, log)
	r.progress.End(j.ID)

	switch status {
	case job.StatusDone:
		log.Info("extraction finished", "frames", count)
	case job.StatusCancelled:
		log.Info("extraction cancelled", "frames", count)
	default:
		log.Error("extraction failed", "frames", count, logging.Err(err))
	}
	return err
}

func (r *Runner) extract(ctx context.Context, j *job.Job, log *slog.Logger) (int, error) {
	src, err := r.opener.Open(ctx, j.SourcePath)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	ext := r.opener.Ext()
	index := 0
	for {
		if err := ctx.Err(); err != nil {
			return index, err
		}

		data, err := src.Next()
		if errors.Is(err, io.EOF) {
			return index, nil
		}
		if err != nil {
			return index, fmt.Errorf("decode frame %d: %w", index, err)
		}

		ref, err := r.media.WriteFrame(index, ext, data)
		if err != nil {
			return index, err
		}
		r.publish(ctx, j.ID, storage.FrameFileName(index, ext), data, log)
		r.progress.Append(j.ID, ref)
		index++

		if index%saveEvery == 0 {
			j.FrameCount = index
			r.save(j, log)
		}
	}
}

func (r *Runner) publish(ctx context.Context, jobID, name string, data []byte, log *slog.Logger) {
	if r.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	key := mirror.ObjectKey(r.prefix, jobID, name)
	if err := r.mirror.Publish(ctx, key, bytes.NewReader(data)); err != nil {
		log.Warn("mirror frame", "key", key, logging.Err(err))
	}
}

func (r *Runner) save(j *job.Job, log *slog.Logger) {
	if err := r.jobs.Update(j); err != nil {
		log.Error("update job record", logging.Err(err))
	}
}

// Active returns the ID of the job currently owning the progress store, if
// any.
func (r *Runner) Active() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return "", false
	}
	return r.current.id, true
}

// Cancel stops a job that has not finished yet.
func (r *Runner) Cancel(id string) error {
	r.mu.Lock()
	h, ok := r.handles[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotActive, id)
	}
	h.cancel()
	return nil
}

// Wait blocks until job id has finished or ctx is done, and returns the
// job's final record.
func (r *Runner) Wait(ctx context.Context, id string) (*job.Job, error) {
	r.mu.Lock()
	h, ok := r.handles[id]
	r.mu.Unlock()

	if ok {
		select {
		case <-h.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.jobs.Get(id)
}

// Shutdown cancels every unfinished job and waits for them to stop.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	pending := make([]*handle, 0, len(r.handles))
	for _, h := range r.handles {
		pending = append(pending, h)
	}
	r.mu.Unlock()

	for _, h := range pending {
		h.cancel()
	}
	for _, h := range pending {
		select {
		case <-h.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
