package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/loomery/backlog/job"
)

// HandlerFunc executes one job. The returned map is stored as the job's
// result on success; a non-nil error sends the job down the retry path.
type HandlerFunc func(ctx context.Context, j *job.Job) (map[string]any, error)

// Handlers maps job type names to their handler functions.
type Handlers struct {
	mu sync.RWMutex
	m  map[string]HandlerFunc
}

// NewHandlers creates an empty handler set.
func NewHandlers() *Handlers {
	return &Handlers{m: make(map[string]HandlerFunc)}
}

// Handle registers fn for the given job type, replacing any previous
// registration.
func (h *Handlers) Handle(typeName string, fn HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.m[typeName] = fn
}

// Lookup returns the handler for a job type.
func (h *Handlers) Lookup(typeName string) (HandlerFunc, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fn, ok := h.m[typeName]
	return fn, ok
}

// Types returns the registered type names.
func (h *Handlers) Types() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.m))
	for name := range h.m {
		names = append(names, name)
	}
	return names
}

// Handle registers a typed handler: the job payload is unmarshalled
// into T before fn runs, so handlers work with their own structs
// instead of raw JSON. A payload that does not decode is a handler
// failure and goes through the normal retry path.
func Handle[T any](h *Handlers, typeName string, fn func(ctx context.Context, j *job.Job, payload T) (map[string]any, error)) {
	h.Handle(typeName, func(ctx context.Context, j *job.Job) (map[string]any, error) {
		var payload T
		if err := json.Unmarshal(j.Payload, &payload); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", typeName, err)
		}
		return fn(ctx, j, payload)
	})
}
