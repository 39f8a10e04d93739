package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/framesnap/framesnap/internal/archive"
	"github.com/framesnap/framesnap/internal/config"
	"github.com/framesnap/framesnap/internal/extract"
	"github.com/framesnap/framesnap/internal/job"
	"github.com/framesnap/framesnap/internal/logging"
	"github.com/framesnap/framesnap/internal/progress"
	"github.com/framesnap/framesnap/internal/storage"
)

var startTime = time.Now()

type Handlers struct {
	cfg      *config.Config
	runner   *extract.Runner
	media    *storage.Store
	progress *progress.Store
	jobs     job.JobStore
	logger   *slog.Logger
}

func NewHandlers(cfg *config.Config, deps Deps) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handlers{
		cfg:      cfg,
		runner:   deps.Runner,
		media:    deps.Media,
		progress: deps.Progress,
		jobs:     deps.Jobs,
		logger:   logger,
	}
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	active, _ := h.runner.Active()
	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds": int(time.Since(startTime).Seconds()),
		"active_job":     active,
		"jobs":           h.jobs.Stats(),
	})
}

type UploadResponse struct {
	Message string   `json:"message"`
	Frames  []string `json:"frames"`
	JobID   string   `json:"job_id"`
}

func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes())

	file, hdr, err := r.FormFile("video")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "upload exceeds " + humanize.IBytes(uint64(tooLarge.Limit))})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No file uploaded!"})
		return
	}
	defer file.Close()

	if hdr.Filename == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No file uploaded!"})
		return
	}

	path, size, err := h.media.SaveUpload(hdr.Filename, file)
	if err != nil {
		h.logger.Error("save upload", "file", hdr.Filename, logging.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save upload"})
		return
	}

	j, err := h.runner.Start(path)
	if err != nil {
		h.logger.Error("start extraction", "file", path, logging.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to start extraction"})
		return
	}

	h.logger.Info("video uploaded", "file", filepath.Base(path), "size", humanize.Bytes(uint64(size)), "job", j.ID)

	writeJSON(w, http.StatusOK, UploadResponse{
		Message: "Video uploaded successfully!",
		Frames:  h.progress.Snapshot().Frames,
		JobID:   j.ID,
	})
}

func (h *Handlers) GetFrames(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.progress.Snapshot())
}

func (h *Handlers) DownloadFrames(w http.ResponseWriter, r *http.Request) {
	snap := h.progress.Snapshot()
	if len(snap.Frames) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no frames available"})
		return
	}

	entries := make([]archive.Entry, 0, len(snap.Frames))
	for _, ref := range snap.Frames {
		p, err := h.media.Resolve(ref)
		if err == nil {
			_, err = os.Stat(p)
		}
		if err != nil {
			h.logger.Error("frame missing for archive", "ref", ref, logging.Err(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "frame storage is inconsistent"})
			return
		}
		entries = append(entries, archive.Entry{Name: "frames/" + filepath.Base(p), Path: p})
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="frames.zip"`)
	w.WriteHeader(http.StatusOK)

	if err := archive.WriteZip(w, entries); err != nil {
		h.logger.Error("stream frames archive", logging.Err(err))
	}
}

func (h *Handlers) ServeFrame(w http.ResponseWriter, r *http.Request) {
	f, err := h.media.Open(chi.URLParam(r, "name"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	status := r.URL.Query().Get("status")

	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	jobs, total := h.jobs.List(limit, offset, status)
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":   jobs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "current" {
		active, ok := h.runner.Active()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active job"})
			return
		}
		id = active
	}

	j, err := h.jobs.Get(id)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.runner.Cancel(id); err != nil {
		if _, getErr := h.jobs.Get(id); getErr != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
			return
		}
		writeJSON(w, http.StatusConflict, map[string]string{"error": "job is not active"})
		return
	}

	h.logger.Info("job cancel requested", "job", id)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling", "id": id})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
