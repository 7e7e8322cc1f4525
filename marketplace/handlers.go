package marketplace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/loomery/backlog/job"
	"github.com/loomery/backlog/worker"
)

// RegisterHandlers wires the catalog's reference handlers into the
// worker. Each handler simulates its side effect and returns the
// result payload the real integration would produce; the points where
// an external service call belongs are marked.
func RegisterHandlers(handlers *worker.Handlers, logger *slog.Logger) {
	registerThumbnail(handlers, logger)
	registerPayout(handlers, logger)
	registerPDFRender(handlers, logger)
	registerChainAnchor(handlers, logger)
	registerExportBulk(handlers, logger)
	registerAuditSnapshot(handlers, logger)
}

type thumbnailPayload struct {
	AssetID       string `json:"assetId"`
	VersionNumber int    `json:"versionNumber"`
}

func registerThumbnail(handlers *worker.Handlers, logger *slog.Logger) {
	worker.Handle(handlers, TypeThumbnailCreate, func(ctx context.Context, j *job.Job, p thumbnailPayload) (map[string]any, error) {
		// Image pipeline call goes here.
		key := fmt.Sprintf("thumbs/%s_v%d.png", p.AssetID, p.VersionNumber)
		logger.Debug("thumbnail generated",
			slog.String("asset_id", p.AssetID),
			slog.String("thumb_key", key),
		)
		return map[string]any{"thumbKey": key}, nil
	})
}

type payoutPayload struct {
	EscrowID    string `json:"escrowId"`
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency"`
	SellerID    string `json:"sellerId,omitempty"`
}

func registerPayout(handlers *worker.Handlers, logger *slog.Logger) {
	worker.Handle(handlers, TypePayoutExecute, func(ctx context.Context, j *job.Job, p payoutPayload) (map[string]any, error) {
		if p.AmountCents <= 0 {
			return nil, fmt.Errorf("payout %s: non-positive amount %d", p.EscrowID, p.AmountCents)
		}
		// Payment gateway transfer goes here; the gateway's own
		// idempotency key makes redelivery safe.
		transferRef := "tr_" + shortHash(p.EscrowID+"|"+p.Currency)
		logger.Info("payout executed",
			slog.String("escrow_id", p.EscrowID),
			slog.Int64("amount_cents", p.AmountCents),
			slog.String("transfer_ref", transferRef),
		)
		return map[string]any{"transferRef": transferRef}, nil
	})
}

type pdfPayload struct {
	TemplateID string `json:"templateId"`
	OrderID    string `json:"orderId"`
	Locale     string `json:"locale,omitempty"`
}

func registerPDFRender(handlers *worker.Handlers, logger *slog.Logger) {
	worker.Handle(handlers, TypePDFRender, func(ctx context.Context, j *job.Job, p pdfPayload) (map[string]any, error) {
		// Render service call goes here.
		docKey := fmt.Sprintf("docs/%s/%s.pdf", p.OrderID, p.TemplateID)
		return map[string]any{"documentKey": docKey}, nil
	})
}

type anchorPayload struct {
	BatchID    string `json:"batchId"`
	MerkleRoot string `json:"merkleRoot"`
}

func registerChainAnchor(handlers *worker.Handlers, logger *slog.Logger) {
	worker.Handle(handlers, TypeChainAnchor, func(ctx context.Context, j *job.Job, p anchorPayload) (map[string]any, error) {
		if len(p.MerkleRoot) != 64 {
			return nil, fmt.Errorf("anchor batch %s: merkle root must be 32 bytes hex", p.BatchID)
		}
		// Chain submission and confirmation wait go here; ctx carries
		// the lease deadline, so a slow confirmation aborts in time.
		txHash := shortHash(p.MerkleRoot)
		logger.Info("batch anchored",
			slog.String("batch_id", p.BatchID),
			slog.String("tx_hash", txHash),
		)
		return map[string]any{"txHash": txHash}, nil
	})
}

type exportPayload struct {
	SellerID string         `json:"sellerId"`
	Format   string         `json:"format"`
	Filters  map[string]any `json:"filters,omitempty"`
}

func registerExportBulk(handlers *worker.Handlers, logger *slog.Logger) {
	worker.Handle(handlers, TypeExportBulk, func(ctx context.Context, j *job.Job, p exportPayload) (map[string]any, error) {
		switch p.Format {
		case "csv", "jsonl":
		default:
			return nil, fmt.Errorf("export for %s: unsupported format %q", p.SellerID, p.Format)
		}
		// Warehouse query and object store upload go here.
		exportKey := fmt.Sprintf("exports/%s/%d.%s", p.SellerID, time.Now().Unix(), p.Format)
		return map[string]any{"exportKey": exportKey}, nil
	})
}

type auditPayload struct {
	Scope string `json:"scope"`
}

func registerAuditSnapshot(handlers *worker.Handlers, logger *slog.Logger) {
	worker.Handle(handlers, TypeAuditSnapshot, func(ctx context.Context, j *job.Job, p auditPayload) (map[string]any, error) {
		// Ledger snapshot write goes here.
		snapshotID := "snap_" + shortHash(p.Scope+time.Now().Format("2006-01-02"))
		logger.Info("audit snapshot taken",
			slog.String("scope", p.Scope),
			slog.String("snapshot_id", snapshotID),
		)
		return map[string]any{"snapshotId": snapshotID}, nil
	})
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
