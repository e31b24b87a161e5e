package orders

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateHistory appends an entry. The order row is locked while the next
// conversation turn is computed so turns stay strictly sequential per order.
func (r *Repository) CreateHistory(ctx context.Context, params CreateHistoryParams) (HistoryEntry, error) {
	contextJSON, err := marshalOptional(params.Context)
	if err != nil {
		return HistoryEntry{}, err
	}
	metadataJSON, err := marshalOptional(params.Metadata)
	if err != nil {
		return HistoryEntry{}, err
	}
	rawJSON, err := marshalOptional(params.RawData)
	if err != nil {
		return HistoryEntry{}, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return HistoryEntry{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var locked uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT id FROM orders WHERE id = $1 FOR UPDATE`, params.OrderID).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return HistoryEntry{}, ErrOrderNotFound
		}
		return HistoryEntry{}, err
	}

	var maxTurn int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(conversation_turn), 0) FROM order_history WHERE order_id = $1`, params.OrderID).Scan(&maxTurn); err != nil {
		return HistoryEntry{}, err
	}

	entry := HistoryEntry{
		OrderID:          params.OrderID,
		Type:             params.Type,
		AISummary:        params.AISummary,
		Context:          params.Context,
		Metadata:         params.Metadata,
		RawData:          params.RawData,
		ConversationTurn: NextConversationTurn(maxTurn, params.ConversationTurn),
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO order_history (order_id, type, ai_summary, context, metadata, raw_data, conversation_turn)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, params.OrderID, string(params.Type), params.AISummary, contextJSON, metadataJSON, rawJSON, entry.ConversationTurn).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return HistoryEntry{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return HistoryEntry{}, err
	}
	return entry, nil
}

// NextConversationTurn returns the caller-supplied turn, or max+1.
func NextConversationTurn(maxExisting int, supplied *int) int {
	if supplied != nil && *supplied > 0 {
		return *supplied
	}
	return maxExisting + 1
}

// ListRecentHistory returns up to limit entries, newest first.
func (r *Repository) ListRecentHistory(ctx context.Context, orderID uuid.UUID, limit int) ([]HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, type, ai_summary, context, metadata, raw_data, conversation_turn, created_at
		FROM order_history
		WHERE order_id = $1
		ORDER BY created_at DESC, conversation_turn DESC
		LIMIT $2
	`, orderID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var e HistoryEntry
		var entryType string
		var contextJSON, metadataJSON, rawJSON []byte
		if err := rows.Scan(&e.ID, &e.OrderID, &entryType, &e.AISummary, &contextJSON, &metadataJSON, &rawJSON, &e.ConversationTurn, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = HistoryType(entryType)
		if e.Context, err = unmarshalOptional(contextJSON); err != nil {
			return nil, err
		}
		if e.Metadata, err = unmarshalOptional(metadataJSON); err != nil {
			return nil, err
		}
		if e.RawData, err = unmarshalOptional(rawJSON); err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func marshalOptional(value map[string]any) ([]byte, error) {
	if value == nil {
		return nil, nil
	}
	return json.Marshal(value)
}

func unmarshalOptional(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
