// Package adapter normalizes provider-specific alert payloads into the
// canonical intake record. Every adapter exposes pull and push entry
// points; the one it does not support fails with a sentinel error.
package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"escalation/internal/domain"
)

var (
	// ErrPullNotSupported marks push-only adapters.
	ErrPullNotSupported = errors.New("adapter does not support pull")
	// ErrWebhookNotSupported marks pull-only adapters.
	ErrWebhookNotSupported = errors.New("adapter does not support webhooks")
)

// RawAlert is one provider item awaiting normalization.
// Params: source adapter name and raw provider payload.
// Returns: batch element passed back to the owning adapter.
type RawAlert struct {
	Source  string
	Payload json.RawMessage
}

// SourceAdapter converts one monitoring source into intake records.
// Params: implementations per provider kind.
// Returns: pull/push raw batches and per-item normalization.
type SourceAdapter interface {
	Name() string
	Pull(ctx context.Context) ([]RawAlert, error)
	HandleWebhook(payload []byte) ([]RawAlert, error)
	Normalize(raw RawAlert) (domain.IntakeRecord, error)
}

// NormalizeBatch normalizes raw items with per-item error isolation.
// Params: adapter, raw batch, and optional logger.
// Returns: records for items that normalized; failures are logged and
// never abort sibling items.
func NormalizeBatch(source SourceAdapter, raws []RawAlert, logger *slog.Logger) []domain.IntakeRecord {
	records := make([]domain.IntakeRecord, 0, len(raws))
	for _, raw := range raws {
		record, err := source.Normalize(raw)
		if err != nil {
			if logger != nil {
				logger.Warn("normalization failed",
					"source", source.Name(), "error", err.Error())
			}
			continue
		}
		records = append(records, record)
	}
	return records
}
