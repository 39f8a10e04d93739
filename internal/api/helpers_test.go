package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/framesnap/framesnap/internal/config"
	"github.com/framesnap/framesnap/internal/decoder"
	"github.com/framesnap/framesnap/internal/extract"
	"github.com/framesnap/framesnap/internal/job"
	"github.com/framesnap/framesnap/internal/progress"
	"github.com/framesnap/framesnap/internal/storage"
)

// countOpener treats the uploaded file's content as the number of frames
// the video holds. Anything that is not a number cannot be opened.
type countOpener struct {
	gate chan struct{}
}

func (o *countOpener) Ext() string { return "jpg" }

func (o *countOpener) Open(ctx context.Context, path string) (decoder.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("open source: not a video")
	}
	return &countSource{ctx: ctx, total: n, gate: o.gate}, nil
}

type countSource struct {
	ctx   context.Context
	total int
	next  int
	gate  chan struct{}
}

func (s *countSource) Next() ([]byte, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-s.ctx.Done():
			return nil, io.ErrUnexpectedEOF
		}
	}
	if s.next >= s.total {
		return nil, io.EOF
	}
	s.next++
	return []byte(fmt.Sprintf("jpeg-%d", s.next-1)), nil
}

func (s *countSource) Close() error { return nil }

type testEnv struct {
	cfg      *config.Config
	router   http.Handler
	runner   *extract.Runner
	media    *storage.Store
	progress *progress.Store
	jobs     *job.Store
}

func newTestEnv(t *testing.T, opener decoder.Opener) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()

	media, err := storage.NewStore(cfg.UploadDir(), cfg.FrameDir())
	if err != nil {
		t.Fatalf("media store: %v", err)
	}
	ps := progress.NewStore()
	jobs := job.NewStore()
	runner := extract.NewRunner(context.Background(), opener, media, ps, jobs, extract.Options{})

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		runner.Shutdown(ctx)
	})

	return &testEnv{
		cfg:      cfg,
		runner:   runner,
		media:    media,
		progress: ps,
		jobs:     jobs,
		router: NewRouter(cfg, Deps{
			Runner:   runner,
			Media:    media,
			Progress: ps,
			Jobs:     jobs,
		}),
	}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, field, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if field != "" {
		part, err := mw.CreateFormFile(field, filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		part.Write([]byte(content))
	} else {
		mw.WriteField("note", "no video here")
	}
	mw.Close()

	req := httptest.NewRequest("POST", "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (e *testEnv) upload(t *testing.T, filename, content string) UploadResponse {
	t.Helper()
	rec := e.do(uploadRequest(t, "video", filename, content))
	if rec.Code != http.StatusOK {
		t.Fatalf("upload: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp UploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	return resp
}

func (e *testEnv) waitJob(t *testing.T, id string) *job.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	j, err := e.runner.Wait(ctx, id)
	if err != nil {
		t.Fatalf("wait for job: %v", err)
	}
	return j
}
