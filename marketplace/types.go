// Package marketplace declares the platform's job catalog: the static
// set of job types the queue accepts, with their payload schemas and
// execution policies, plus reference handlers for the worker runtime.
package marketplace

import (
	"time"

	"github.com/loomery/backlog/job"
)

// Job type names accepted by the queue.
const (
	TypeThumbnailCreate = "thumbnail.create"
	TypePayoutExecute   = "payout.execute"
	TypePDFRender       = "pdf.render"
	TypeChainAnchor     = "chain.anchor"
	TypeExportBulk      = "export.bulk"
	TypeAuditSnapshot   = "audit.snapshot"
)

// Types returns the full catalog. Registered once at startup; the set
// is fixed for the process lifetime.
func Types() []job.Type {
	return []job.Type{
		{
			Name: TypeThumbnailCreate,
			Schema: job.Schema{
				Required: []string{"assetId", "versionNumber"},
				Fields: map[string]job.Kind{
					"assetId":       job.KindString,
					"versionNumber": job.KindNumber,
					"sizes":         job.KindArray,
				},
			},
			Policy: job.Policy{
				MaxAttempts:   3,
				LeaseDuration: 60 * time.Second,
			},
		},
		{
			Name: TypePayoutExecute,
			Schema: job.Schema{
				Required: []string{"escrowId", "amountCents", "currency"},
				Fields: map[string]job.Kind{
					"escrowId":    job.KindString,
					"amountCents": job.KindNumber,
					"currency":    job.KindString,
					"sellerId":    job.KindString,
				},
			},
			Policy: job.Policy{
				MaxAttempts:   10,
				LeaseDuration: 2 * time.Minute,
				// Payment gateway tolerates few parallel transfers.
				ConcurrencyLimit: 2,
			},
		},
		{
			Name: TypePDFRender,
			Schema: job.Schema{
				Required: []string{"templateId", "orderId"},
				Fields: map[string]job.Kind{
					"templateId": job.KindString,
					"orderId":    job.KindString,
					"locale":     job.KindString,
				},
			},
			Policy: job.Policy{
				MaxAttempts:   3,
				LeaseDuration: 90 * time.Second,
			},
		},
		{
			Name: TypeChainAnchor,
			Schema: job.Schema{
				Required: []string{"batchId", "merkleRoot"},
				Fields: map[string]job.Kind{
					"batchId":    job.KindString,
					"merkleRoot": job.KindString,
				},
			},
			Policy: job.Policy{
				MaxAttempts: 8,
				// Chain confirmation is slow; leases must outlive it.
				LeaseDuration:    5 * time.Minute,
				ConcurrencyLimit: 1,
			},
		},
		{
			Name: TypeExportBulk,
			Schema: job.Schema{
				Required: []string{"sellerId", "format"},
				Fields: map[string]job.Kind{
					"sellerId": job.KindString,
					"format":   job.KindString,
					"filters":  job.KindObject,
				},
			},
			Policy: job.Policy{
				MaxAttempts:      2,
				LeaseDuration:    10 * time.Minute,
				ConcurrencyLimit: 2,
			},
		},
		{
			Name: TypeAuditSnapshot,
			Schema: job.Schema{
				Required: []string{"scope"},
				Fields: map[string]job.Kind{
					"scope": job.KindString,
				},
			},
			Policy: job.Policy{
				MaxAttempts:   3,
				LeaseDuration: 3 * time.Minute,
			},
		},
	}
}

// NewRegistry builds the job registry for the catalog.
func NewRegistry() *job.Registry {
	return job.NewRegistry(Types()...)
}
