package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// FramePrefix is the URL path under which frame files are served.
const FramePrefix = "/frames/"

var ErrInvalidPath = errors.New("invalid path")

var frameName = regexp.MustCompile(`^frame_(\d+)\.([a-z0-9]+)$`)

// Store owns the uploads and frames directories on local disk.
type Store struct {
	uploadDir string
	frameDir  string
}

func NewStore(uploadDir, frameDir string) (*Store, error) {
	for _, dir := range []string{uploadDir, frameDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create dir: %w", err)
		}
	}
	return &Store{uploadDir: uploadDir, frameDir: frameDir}, nil
}

func (s *Store) FrameDir() string { return s.frameDir }

// SaveUpload writes r to the uploads directory under a sanitised version of
// name and returns the path of the stored file.
func (s *Store) SaveUpload(name string, r io.Reader) (string, int64, error) {
	clean := SecureFilename(name)
	if clean == "" {
		clean = "upload"
	}
	dest := filepath.Join(s.uploadDir, clean)

	n, err := writeAtomic(dest, r)
	if err != nil {
		return "", 0, fmt.Errorf("save upload: %w", err)
	}
	return dest, n, nil
}

func FrameFileName(index int, ext string) string {
	return fmt.Sprintf("frame_%d.%s", index, ext)
}

// WriteFrame stores one frame image and returns its URL reference. The file
// is renamed into place, so it is complete before the reference exists.
func (s *Store) WriteFrame(index int, ext string, data []byte) (string, error) {
	name := FrameFileName(index, ext)
	if _, err := writeAtomic(filepath.Join(s.frameDir, name), bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("write frame %d: %w", index, err)
	}
	return FramePrefix + name, nil
}

// Resolve maps a frame reference or bare frame file name to its path on disk.
func (s *Store) Resolve(ref string) (string, error) {
	name := strings.TrimPrefix(ref, FramePrefix)
	if name != path.Base(name) || !frameName.MatchString(name) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, ref)
	}
	fullPath := filepath.Join(s.frameDir, name)

	// Ensure path is within the frames directory
	if !strings.HasPrefix(fullPath, filepath.Clean(s.frameDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, ref)
	}
	return fullPath, nil
}

func (s *Store) Open(ref string) (*os.File, error) {
	p, err := s.Resolve(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", ref)
		}
		return nil, fmt.Errorf("open frame: %w", err)
	}
	return f, nil
}

// PruneFrames removes frame files whose index is >= keep, left behind by an
// earlier, longer video. It returns the number of files removed.
func (s *Store) PruneFrames(keep int) (int, error) {
	entries, err := os.ReadDir(s.frameDir)
	if err != nil {
		return 0, fmt.Errorf("read frames dir: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := frameName.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < keep {
			continue
		}
		if err := os.Remove(filepath.Join(s.frameDir, e.Name())); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("remove %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

func writeAtomic(dest string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return n, err
	}
	if err := tmp.Close(); err != nil {
		return n, err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return n, err
	}
	return n, os.Rename(tmp.Name(), dest)
}
