package api

import (
	"net/http"

	"github.com/loomery/backlog/job"
)

// listDLQ returns dead-lettered jobs. Dead letters are ordinary jobs
// in the dlq status, so this is a filtered list with the same paging
// as the jobs route.
func (a *API) listDLQ(w http.ResponseWriter, r *http.Request) {
	jobs, err := a.queue.ListJobs(r.Context(), job.ListOpts{
		Limit:  queryInt(r, "limit", defaultListLimit),
		Offset: queryInt(r, "offset", 0),
		Type:   r.URL.Query().Get("type"),
		Status: job.StatusDLQ,
	})
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, jobs)
}
