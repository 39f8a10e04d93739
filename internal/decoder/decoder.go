// Package decoder turns a video file into a sequence of still images.
package decoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// Source yields decoded frames in presentation order. Next returns io.EOF
// once the video is exhausted.
type Source interface {
	Next() ([]byte, error)
	Close() error
}

// Opener opens sources for one image format.
type Opener interface {
	Open(ctx context.Context, path string) (Source, error)
	// Ext is the file extension, without dot, of the images Next returns.
	Ext() string
}

// FFmpeg decodes every frame of a video with an ffmpeg child process that
// writes MJPEG to its stdout.
type FFmpeg struct {
	Path    string // binary, defaults to "ffmpeg"
	Quality int    // mjpeg qscale, 2 (best) to 31
}

func (f *FFmpeg) Ext() string { return "jpg" }

func (f *FFmpeg) args(path string) []string {
	q := f.Quality
	if q == 0 {
		q = 2
	}
	return []string{
		"-nostdin",
		"-v", "error",
		"-i", path,
		"-map", "0:v:0",
		"-vsync", "0",
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", strconv.Itoa(q),
		"-",
	}
}

func (f *FFmpeg) Open(ctx context.Context, path string) (Source, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}

	bin := f.Path
	if bin == "" {
		bin = "ffmpeg"
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, bin, f.args(path)...)

	stderr := &tailBuffer{max: 4 << 10}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	return &ffmpegSource{
		cmd:      cmd,
		cancel:   cancel,
		splitter: NewJPEGSplitter(stdout),
		stderr:   stderr,
	}, nil
}

type ffmpegSource struct {
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	splitter *JPEGSplitter
	stderr   *tailBuffer

	waitOnce sync.Once
	waitErr  error
}

func (s *ffmpegSource) wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
		s.cancel()
	})
	return s.waitErr
}

func (s *ffmpegSource) Next() ([]byte, error) {
	frame, err := s.splitter.Next()
	if err == nil {
		return frame, nil
	}
	if errors.Is(err, io.EOF) {
		if werr := s.wait(); werr != nil {
			return nil, s.decodeError(werr)
		}
		return nil, io.EOF
	}
	return nil, fmt.Errorf("read frame: %w", err)
}

// Close stops ffmpeg if it is still running and reaps it. Exit errors
// caused by the kill are not reported.
func (s *ffmpegSource) Close() error {
	s.cancel()
	s.wait()
	return nil
}

func (s *ffmpegSource) decodeError(err error) error {
	msg := strings.TrimSpace(s.stderr.String())
	if msg == "" {
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return fmt.Errorf("ffmpeg: %w: %s", err, msg)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
