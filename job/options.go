package job

import "time"

// Enqueue bounds. Priorities and attempt ceilings outside these ranges
// are clamped rather than rejected.
const (
	MinPriority = 0
	MaxPriority = 100

	MinMaxAttempts = 1
	MaxMaxAttempts = 10
)

// Options configures per-job behavior at enqueue time.
type Options struct {
	// Priority determines lease ordering. Higher values are served
	// first. Defaults to the service's configured mid-range value.
	Priority *int

	// ScheduleAt delays eligibility for leasing. Zero means now.
	ScheduleAt time.Time

	// MaxAttempts overrides the type policy's attempt ceiling.
	// Immutable after enqueue.
	MaxAttempts *int

	// CreatedBy records the producer identity for audit.
	CreatedBy string
}

// Option is a functional option for enqueueing a job.
type Option func(*Options)

// WithPriority sets the job priority, clamped to [MinPriority, MaxPriority].
func WithPriority(p int) Option {
	return func(o *Options) {
		o.Priority = &p
	}
}

// WithScheduleAt schedules the job for execution no earlier than t.
func WithScheduleAt(t time.Time) Option {
	return func(o *Options) {
		o.ScheduleAt = t
	}
}

// WithMaxAttempts overrides the type policy's attempt ceiling, clamped
// to [MinMaxAttempts, MaxMaxAttempts].
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = &n
	}
}

// WithCreatedBy records the producer identity on the job.
func WithCreatedBy(createdBy string) Option {
	return func(o *Options) {
		o.CreatedBy = createdBy
	}
}

// ClampPriority clamps p into the valid priority range.
func ClampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// ClampMaxAttempts clamps n into the valid attempt ceiling range.
func ClampMaxAttempts(n int) int {
	if n < MinMaxAttempts {
		return MinMaxAttempts
	}
	if n > MaxMaxAttempts {
		return MaxMaxAttempts
	}
	return n
}
