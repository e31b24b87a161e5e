package followup

import (
	"context"

	"github.com/google/uuid"
)

// RecordReceipt stores a (provider, messageID, status) receipt. It returns
// false when the same receipt was already recorded.
func (r *Repository) RecordReceipt(ctx context.Context, provider, messageID, status string, attemptID *uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO callback_receipts (provider, message_id, status, attempt_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, message_id, status) DO NOTHING
	`, provider, normalizeMessageID(messageID), status, attemptID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
