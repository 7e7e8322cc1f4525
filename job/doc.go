// Package job defines the job entity, its status machine, the static
// type registry, and the store contract.
//
// # Job Entity
//
// A [Job] represents a unit of deferred work. It carries an opaque JSON
// payload validated at enqueue time and progresses through:
//
//	queued → leased → succeeded
//	queued → leased → queued (retry with future NextRunAt) → leased → ...
//	queued → leased → dlq
//	leased (lease expired) → leased (reclaimed by another worker)
//
// No transition leaves succeeded or dlq. There is no terminal "failed"
// status: a reported failure becomes either a scheduled retry or dlq.
//
// Fields of note:
//   - Priority: higher values are leased first
//   - Attempt / MaxAttempts: leases granted vs. the job's own ceiling
//   - NextRunAt: earliest time the job may be leased
//   - WorkerID / LeaseExpiresAt: set only while leased
//
// # Registry
//
// [Registry] is the static table of job types, each pairing a payload
// [Schema] with an execution [Policy]. It is built once at startup and
// passed into the queue service; tests construct their own isolated
// registries:
//
//	reg := job.NewRegistry(
//	    job.Type{
//	        Name: "thumbnail.create",
//	        Schema: job.Schema{
//	            Required: []string{"assetId", "versionNumber"},
//	            Fields: map[string]job.Kind{
//	                "assetId":       job.KindString,
//	                "versionNumber": job.KindNumber,
//	            },
//	        },
//	        Policy: job.Policy{MaxAttempts: 3, LeaseDuration: 30 * time.Second},
//	    },
//	)
//
// # Store
//
// [Store] is the persistence contract. All coordinating mutations are
// atomic conditional updates; see the interface docs.
package job
