package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"mediaforge/internal/domain"
	"mediaforge/internal/textutil"
)

type submitRequest struct {
	Input     string            `json:"input"`
	Operation string            `json:"operation"`
	Params    map[string]string `json:"params"`
}

type submitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// SubmitJob validates the request, persists a pending job and hands it to
// the queue. It never blocks on the engine.
func (a *App) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "invalid_input", "invalid JSON payload")
		return
	}
	if err := domain.ValidateInput(req.Input); err != nil {
		a.domainError(w, err)
		return
	}
	if err := domain.ValidateOperation(req.Operation, req.Params); err != nil {
		a.domainError(w, err)
		return
	}

	job := &domain.Job{
		ID:        uuid.NewString(),
		Input:     req.Input,
		Operation: req.Operation,
		Params:    req.Params,
		Status:    domain.JobStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.Queue.Submit(r.Context(), job); err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, submitResponse{JobID: job.ID, Status: string(job.Status)})
}

// JobStatus returns the current job state.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := a.Store.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, jobDocument(job))
}

// JobResult returns the terminal outcome: the output reference and artifact
// listing for a succeeded job, or the recorded error for a failed one. A job
// still in flight answers 409 so pollers can tell "not done" from "gone".
func (a *App) JobResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := a.Store.GetByID(r.Context(), id)
	if err != nil {
		a.domainError(w, err)
		return
	}
	if !job.Status.IsTerminal() {
		a.error(w, http.StatusConflict, "conflict", "job is still "+string(job.Status))
		return
	}
	if job.Status == domain.JobStatusFailed {
		a.json(w, http.StatusOK, map[string]any{
			"job_id": job.ID,
			"status": job.Status,
			"error": map[string]string{
				"code":    string(job.ErrorCode),
				"message": job.ErrorMessage,
			},
		})
		return
	}

	artifacts, err := a.Store.ListArtifacts(r.Context(), id)
	if err != nil {
		a.domainError(w, err)
		return
	}
	items := make([]map[string]any, 0, len(artifacts))
	for _, artifact := range artifacts {
		items = append(items, map[string]any{
			"name":  artifact.Name,
			"mime":  artifact.MIME,
			"bytes": artifact.Bytes,
			"url":   "/v1/jobs/" + job.ID + "/artifacts/" + artifact.Name,
		})
	}
	a.json(w, http.StatusOK, map[string]any{
		"job_id":     job.ID,
		"status":     job.Status,
		"output_ref": job.OutputRef,
		"artifacts":  items,
	})
}

// CancelJob removes a pending job or requests termination of a running one.
func (a *App) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.Queue.Cancel(r.Context(), id); err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, map[string]string{"job_id": id, "status": "cancelling"})
}

// ListJobs returns recent jobs, optionally filtered by status.
func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	filter := domain.JobFilter{}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, ok := domain.ParseJobStatus(raw)
		if !ok {
			a.error(w, http.StatusBadRequest, "invalid_input", "unknown status "+strconv.Quote(raw))
			return
		}
		filter.Status = status
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil {
			filter.Limit = limit
		}
	}
	jobs, err := a.Store.List(r.Context(), filter)
	if err != nil {
		a.domainError(w, err)
		return
	}
	items := make([]map[string]any, 0, len(jobs))
	for i := range jobs {
		items = append(items, jobDocument(&jobs[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

func jobDocument(job *domain.Job) map[string]any {
	doc := map[string]any{
		"job_id":          job.ID,
		"input":           job.Input,
		"operation":       job.Operation,
		"operation_label": textutil.TitleLabel(job.Operation),
		"status":          job.Status,
		"attempts":        job.Attempts,
		"created_at":      job.CreatedAt,
	}
	if len(job.Params) > 0 {
		doc["params"] = job.Params
	}
	if job.StartedAt != nil {
		doc["started_at"] = job.StartedAt
	}
	if job.FinishedAt != nil {
		doc["finished_at"] = job.FinishedAt
	}
	if job.Status == domain.JobStatusSucceeded {
		doc["output_ref"] = job.OutputRef
	}
	if job.Status == domain.JobStatusFailed {
		doc["error"] = map[string]string{
			"code":    string(job.ErrorCode),
			"message": job.ErrorMessage,
		}
	}
	return doc
}
