// internal/api/handlers.go
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog/v2"
	"github.com/go-chi/render"

	"github.com/tendant/simple-batch/internal/aggregate"
	"github.com/tendant/simple-batch/internal/backend"
	"github.com/tendant/simple-batch/internal/manifest"
	"github.com/tendant/simple-batch/internal/submit"
)

// API exposes the submission and status surface over HTTP.
type API struct {
	coordinator *submit.Coordinator
	aggregator  *aggregate.Aggregator
	store       manifest.Store
	logger      *slog.Logger
}

func New(coordinator *submit.Coordinator, aggregator *aggregate.Aggregator, store manifest.Store, logger *slog.Logger) *API {
	return &API{coordinator: coordinator, aggregator: aggregator, store: store, logger: logger}
}

func (a *API) Router() http.Handler {
	requestLogger := httplog.NewLogger("simple-batch-api", httplog.Options{
		LogLevel: slog.LevelInfo,
		Concise:  true,
	})

	r := chi.NewRouter()
	r.Use(httplog.RequestLogger(requestLogger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.PlainText(w, r, "ok")
	})

	r.Post("/jobs", a.handleSubmitJob)
	r.Post("/jobs/batch", a.handleSubmitBatch)
	r.Get("/jobs/batch/{batchID}", a.handleBatchProgress)
	r.Post("/jobs/batch/{batchID}/cancel", a.handleCancelBatch)
	r.Get("/jobs/{jobID}", a.handleGetJob)

	return r
}

type submitJobRequest struct {
	Command string `json:"command"`
	Source  string `json:"source,omitempty"`
}

type submitBatchRequest struct {
	BatchName string `json:"batch_name"`
	Jobs      []struct {
		Command string `json:"command"`
		Source  string `json:"source,omitempty"`
	} `json:"jobs"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

func (a *API) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		a.writeError(w, r, submit.ValidationError{Message: "malformed request body"})
		return
	}

	accepted, err := a.coordinator.Submit(r.Context(), submit.JobSpec{Command: req.Command, SourceRef: req.Source})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	render.JSON(w, r, accepted)
}

func (a *API) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req submitBatchRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		a.writeError(w, r, submit.ValidationError{Message: "malformed request body"})
		return
	}

	specs := make([]submit.JobSpec, len(req.Jobs))
	for i, j := range req.Jobs {
		specs[i] = submit.JobSpec{Command: j.Command, SourceRef: j.Source}
	}

	result, err := a.coordinator.SubmitBatch(r.Context(), req.BatchName, specs)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

func (a *API) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.store.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	render.JSON(w, r, job)
}

func (a *API) handleBatchProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := a.aggregator.BatchProgress(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	render.JSON(w, r, progress)
}

func (a *API) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	err := a.coordinator.CancelBatch(r.Context(), chi.URLParam(r, "batchID"), "cancel requested via API")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]string{"status": "cancelling"})
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr submit.ValidationError
	var rejected *backend.RejectedError

	status := http.StatusInternalServerError
	retryable := false

	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	case errors.As(err, &rejected):
		status = http.StatusBadRequest
	case errors.Is(err, manifest.ErrNotFound), errors.Is(err, backend.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, backend.ErrUnavailable):
		status = http.StatusBadGateway
		retryable = true
	case errors.Is(err, backend.ErrTimeout):
		status = http.StatusGatewayTimeout
		retryable = true
	default:
		a.logger.Error("request failed", "path", r.URL.Path, "err", err)
	}

	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: err.Error(), Retryable: retryable})
}
