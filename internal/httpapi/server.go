// Package httpapi serves the operational HTTP endpoints: health, job status,
// ingestion triggers and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dshills/paperrag/internal/jobs"
	"github.com/dshills/paperrag/internal/pipeline"
	"github.com/dshills/paperrag/internal/storage"
)

const requestTimeout = 30 * time.Second

// Ingester starts ingestion jobs
type Ingester interface {
	RequestIngestion(ctx context.Context, paperID string) (pipeline.Request, error)
}

// JobTracker reads job snapshots
type JobTracker interface {
	Get(paperID string) (jobs.Job, bool)
	All() []jobs.Job
}

// Deps are the handlers' collaborators. Metrics may be nil.
type Deps struct {
	Storage  storage.Storage
	Jobs     JobTracker
	Ingester Ingester
	Metrics  http.Handler
}

// Server wraps the HTTP server instance and its handlers
type Server struct {
	httpServer *http.Server
}

// NewServer builds and wires all routes
func NewServer(addr string, d Deps) *Server {
	return &Server{httpServer: &http.Server{
		Addr:              addr,
		Handler:           NewRouter(d),
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

// NewRouter returns the route table, exposed for tests
func NewRouter(d Deps) http.Handler {
	h := &handlers{deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", h.health)
	r.Route("/jobs", func(jr chi.Router) {
		jr.Get("/", h.listJobs)
		jr.Get("/{paperID}", h.getJob)
		jr.Post("/{paperID}", h.requestIngestion)
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	return r
}

// Start runs the HTTP server until it is shut down
func (s *Server) Start() error {
	log.Printf("httpapi: listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("httpapi: shutting down")
	return s.httpServer.Shutdown(ctx)
}

type handlers struct {
	deps Deps
}

// jobResponse merges in-memory job state with the durable paper record
type jobResponse struct {
	PaperID    string      `json:"paper_id"`
	Status     jobs.Status `json:"status"`
	Step       string      `json:"step,omitempty"`
	Progress   int         `json:"progress"`
	Error      string      `json:"error,omitempty"`
	ChunkCount int         `json:"chunk_count,omitempty"`
	Tracked    bool        `json:"tracked"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	status, err := h.deps.Storage.GetStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	code := http.StatusOK
	if !status.Health.DatabaseAccessible {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"papers":           status.PapersCount,
		"completed":        status.CompletedCount,
		"failed":           status.FailedCount,
		"points":           status.PointsCount,
		"figures":          status.FiguresCount,
		"build_mode":       status.BuildMode,
		"vector_extension": status.Health.VectorExtensionUsed,
	})
}

func (h *handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	all := h.deps.Jobs.All()
	out := make([]jobResponse, 0, len(all))
	for _, j := range all {
		out = append(out, fromJob(j))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": out, "total": len(out)})
}

func (h *handlers) getJob(w http.ResponseWriter, r *http.Request) {
	paperID := chi.URLParam(r, "paperID")
	if j, ok := h.deps.Jobs.Get(paperID); ok {
		writeJSON(w, http.StatusOK, fromJob(j))
		return
	}

	paper, err := h.deps.Storage.GetPaper(r.Context(), paperID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, jobResponse{PaperID: paperID, Status: jobs.StatusUnknown})
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, fromPaper(paper))
	}
}

func (h *handlers) requestIngestion(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ingester == nil {
		writeError(w, http.StatusNotImplemented, "ingestion is disabled")
		return
	}
	req, err := h.deps.Ingester.RequestIngestion(r.Context(), chi.URLParam(r, "paperID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	code := http.StatusAccepted
	if req.Method == pipeline.MethodAlreadyCompleted {
		code = http.StatusOK
	}
	writeJSON(w, code, req)
}

func fromJob(j jobs.Job) jobResponse {
	return jobResponse{
		PaperID:  j.PaperID,
		Status:   j.Status,
		Step:     j.Step,
		Progress: j.Progress,
		Error:    j.Error,
		Tracked:  true,
	}
}

func fromPaper(p *storage.Paper) jobResponse {
	resp := jobResponse{
		PaperID:    p.PaperID,
		Status:     jobs.Status(p.Status),
		Error:      p.ErrorMessage,
		ChunkCount: p.ChunkCount,
	}
	if p.Status == storage.PaperCompleted {
		resp.Progress = jobs.ProgressCompleted
	}
	return resp
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("httpapi: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
