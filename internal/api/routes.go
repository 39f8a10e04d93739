package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/framesnap/framesnap/internal/config"
	"github.com/framesnap/framesnap/internal/extract"
	"github.com/framesnap/framesnap/internal/job"
	"github.com/framesnap/framesnap/internal/progress"
	"github.com/framesnap/framesnap/internal/storage"
	"github.com/framesnap/framesnap/internal/ws"
)

// Deps are the collaborators the HTTP layer reads from or hands work to.
type Deps struct {
	Runner   *extract.Runner
	Media    *storage.Store
	Progress *progress.Store
	Jobs     job.JobStore
	Logger   *slog.Logger
}

func NewRouter(cfg *config.Config, deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(allowCORS)

	h := NewHandlers(cfg, deps)
	wsServer := ws.NewServer(deps.Progress, deps.Runner, deps.Logger)

	// Health & Info
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)

	// Extraction
	r.Post("/upload", h.Upload)
	r.Get("/get_frames", h.GetFrames)
	r.Get("/download_frames", h.DownloadFrames)
	r.Get("/frames/{name}", h.ServeFrame)

	// Job history
	r.Route("/api/jobs", func(r chi.Router) {
		r.Get("/", h.ListJobs)
		r.Get("/{id}", h.GetJob)
		r.Delete("/{id}", h.CancelJob)
	})

	// WebSocket
	r.Get("/ws/progress", wsServer.HandleProgress)

	return r
}

// allowCORS lets browser front-ends served from another origin call the API.
func allowCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
