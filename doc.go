// Package backlog provides the deferred-work backbone for the marketplace
// platform: a persistent job queue with at-least-once delivery, leases,
// retry with exponential backoff, and dead-lettering.
//
// Producers enqueue typed jobs whose payloads are validated against a
// static registry. Independent worker processes lease jobs, run the
// registered handler, and report the outcome. There is no broker and no
// lock service: the only cross-process coordination mechanism is the
// store's atomic conditional update, so any number of workers can pull
// from the shared backlog without double execution, and a job whose
// worker died is reclaimed once its lease expires.
//
// Handlers must be idempotent or tolerate duplicate delivery;
// exactly-once execution is explicitly not provided.
package backlog
