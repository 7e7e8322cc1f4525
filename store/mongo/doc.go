// Package mongo implements store.Store on MongoDB. It is the primary
// backend: the claim and report transitions map directly onto
// FindOneAndUpdate, the document store's atomic conditional update.
//
// Claiming uses a filter admitting queued jobs and expired leases,
// sorted by priority descending then next_run_at ascending; the report
// transitions condition on jobID + workerID + leased status so a
// straggler whose lease was reclaimed cannot overwrite another worker's
// outcome.
package mongo
