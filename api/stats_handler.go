package api

import (
	"net/http"

	"github.com/loomery/backlog/job"
)

// StatsResponse aggregates queue-wide counts, per type and total.
type StatsResponse struct {
	Total   JobCountsResponse            `json:"total"`
	ByType  map[string]JobCountsResponse `json:"byType"`
	Backlog int64                        `json:"backlog"`
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	statuses := []struct {
		status job.Status
		pick   func(c *JobCountsResponse) *int64
	}{
		{job.StatusQueued, func(c *JobCountsResponse) *int64 { return &c.Queued }},
		{job.StatusLeased, func(c *JobCountsResponse) *int64 { return &c.Leased }},
		{job.StatusSucceeded, func(c *JobCountsResponse) *int64 { return &c.Succeeded }},
		{job.StatusDLQ, func(c *JobCountsResponse) *int64 { return &c.DLQ }},
	}

	var total JobCountsResponse
	for _, s := range statuses {
		n, err := a.queue.CountJobs(r.Context(), job.CountOpts{Status: s.status})
		if err != nil {
			a.respondServiceError(w, err)
			return
		}
		*s.pick(&total) = n
	}

	byType := make(map[string]JobCountsResponse)
	for _, name := range a.queue.TypeNames() {
		var c JobCountsResponse
		for _, s := range statuses {
			n, err := a.queue.CountJobs(r.Context(), job.CountOpts{Type: name, Status: s.status})
			if err != nil {
				a.respondServiceError(w, err)
				return
			}
			*s.pick(&c) = n
		}
		byType[name] = c
	}

	respondJSON(w, http.StatusOK, StatsResponse{
		Total:   total,
		ByType:  byType,
		Backlog: total.Queued + total.Leased,
	})
}
