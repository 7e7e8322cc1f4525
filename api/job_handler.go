package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/loomery/backlog/id"
	"github.com/loomery/backlog/job"
	"github.com/loomery/backlog/queue"
)

// EnqueueRequest is the producer-facing enqueue body.
type EnqueueRequest struct {
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload"`
	Priority    *int           `json:"priority,omitempty"`
	MaxAttempts *int           `json:"maxAttempts,omitempty"`
	ScheduleAt  *time.Time     `json:"scheduleAt,omitempty"`
	CreatedBy   string         `json:"createdBy,omitempty"`
}

func (a *API) enqueueJob(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Type == "" {
		respondError(w, http.StatusBadRequest, "type is required")
		return
	}

	var opts []job.Option
	if req.Priority != nil {
		opts = append(opts, job.WithPriority(*req.Priority))
	}
	if req.MaxAttempts != nil {
		opts = append(opts, job.WithMaxAttempts(*req.MaxAttempts))
	}
	if req.ScheduleAt != nil {
		opts = append(opts, job.WithScheduleAt(*req.ScheduleAt))
	}
	if req.CreatedBy != "" {
		opts = append(opts, job.WithCreatedBy(req.CreatedBy))
	}

	j, err := a.queue.Enqueue(r.Context(), req.Type, req.Payload, opts...)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, j)
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid job ID: "+err.Error())
		return
	}

	j, err := a.queue.GetJob(r.Context(), jobID)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, j)
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	opts := job.ListOpts{
		Limit:  queryInt(r, "limit", defaultListLimit),
		Offset: queryInt(r, "offset", 0),
		Type:   r.URL.Query().Get("type"),
		Status: job.Status(r.URL.Query().Get("status")),
	}

	jobs, err := a.queue.ListJobs(r.Context(), opts)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, jobs)
}

// JobCountsResponse reports job counts per status.
type JobCountsResponse struct {
	Queued    int64 `json:"queued"`
	Leased    int64 `json:"leased"`
	Succeeded int64 `json:"succeeded"`
	DLQ       int64 `json:"dlq"`
}

func (a *API) jobCounts(w http.ResponseWriter, r *http.Request) {
	var resp JobCountsResponse
	for _, c := range []struct {
		status job.Status
		out    *int64
	}{
		{job.StatusQueued, &resp.Queued},
		{job.StatusLeased, &resp.Leased},
		{job.StatusSucceeded, &resp.Succeeded},
		{job.StatusDLQ, &resp.DLQ},
	} {
		n, err := a.queue.CountJobs(r.Context(), job.CountOpts{
			Type:   r.URL.Query().Get("type"),
			Status: c.status,
		})
		if err != nil {
			a.respondServiceError(w, err)
			return
		}
		*c.out = n
	}
	respondJSON(w, http.StatusOK, resp)
}

// LeaseRequest is the worker-facing claim body.
type LeaseRequest struct {
	WorkerID             string `json:"workerId"`
	Type                 string `json:"type,omitempty"`
	Limit                int    `json:"limit,omitempty"`
	LeaseDurationSeconds int    `json:"leaseDurationSeconds,omitempty"`
}

func (a *API) lease(w http.ResponseWriter, r *http.Request) {
	var req LeaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.WorkerID == "" {
		respondError(w, http.StatusBadRequest, "workerId is required")
		return
	}

	var opts []queue.LeaseOption
	if req.Type != "" {
		opts = append(opts, queue.ForType(req.Type))
	}
	if req.Limit > 0 {
		opts = append(opts, queue.WithLimit(req.Limit))
	}
	if req.LeaseDurationSeconds > 0 {
		opts = append(opts, queue.WithLeaseDuration(time.Duration(req.LeaseDurationSeconds)*time.Second))
	}

	jobs, err := a.queue.Lease(r.Context(), req.WorkerID, opts...)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, jobs)
}

// SuccessRequest reports a completed job with its result.
type SuccessRequest struct {
	WorkerID string         `json:"workerId"`
	Result   map[string]any `json:"result,omitempty"`
}

func (a *API) reportSuccess(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid job ID: "+err.Error())
		return
	}

	var req SuccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.WorkerID == "" {
		respondError(w, http.StatusBadRequest, "workerId is required")
		return
	}

	j, err := a.queue.ReportSuccess(r.Context(), jobID, req.WorkerID, req.Result)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, j)
}

// FailureRequest reports a failed job with its error message.
type FailureRequest struct {
	WorkerID string `json:"workerId"`
	Error    string `json:"error"`
}

func (a *API) reportFailure(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid job ID: "+err.Error())
		return
	}

	var req FailureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.WorkerID == "" {
		respondError(w, http.StatusBadRequest, "workerId is required")
		return
	}

	j, err := a.queue.ReportFailure(r.Context(), jobID, req.WorkerID, req.Error)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, j)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
