package worker

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/loomery/backlog/job"
)

// Limits enforces per-type execution limits inside one worker process:
// a concurrency cap taken from the type policy and an optional token
// bucket rate. Both are advisory and local — they shape how fast this
// worker burns through leased jobs, not cluster-wide throughput.
type Limits struct {
	mu    sync.Mutex
	sems  map[string]chan struct{}
	rates map[string]*rate.Limiter

	registry *job.Registry
}

// LimitsOption configures Limits.
type LimitsOption func(*Limits)

// WithRate attaches a token bucket to a job type. Acquire blocks until
// a token is available.
func WithRate(typeName string, r rate.Limit, burst int) LimitsOption {
	return func(l *Limits) { l.rates[typeName] = rate.NewLimiter(r, burst) }
}

// NewLimits builds limits from the registry's type policies. Types
// whose policy has no ConcurrencyLimit run unbounded.
func NewLimits(registry *job.Registry, opts ...LimitsOption) *Limits {
	l := &Limits{
		sems:     make(map[string]chan struct{}),
		rates:    make(map[string]*rate.Limiter),
		registry: registry,
	}
	for _, name := range registry.Names() {
		policy, err := registry.PolicyFor(name)
		if err != nil {
			continue
		}
		if policy.ConcurrencyLimit > 0 {
			l.sems[name] = make(chan struct{}, policy.ConcurrencyLimit)
		}
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire blocks until the type's concurrency slot and rate token are
// both available, or the context is done. Types without limits return
// immediately.
func (l *Limits) Acquire(ctx context.Context, typeName string) error {
	l.mu.Lock()
	sem := l.sems[typeName]
	limiter := l.rates[typeName]
	l.mu.Unlock()

	if sem != nil {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			if sem != nil {
				<-sem
			}
			return err
		}
	}
	return nil
}

// Release frees the concurrency slot taken by Acquire. It must be
// called exactly once per successful Acquire.
func (l *Limits) Release(typeName string) {
	l.mu.Lock()
	sem := l.sems[typeName]
	l.mu.Unlock()

	if sem != nil {
		select {
		case <-sem:
		default:
		}
	}
}
