package followup

import (
	"context"

	"github.com/google/uuid"
)

// CreateEscalation appends an OPEN escalation for the order.
func (r *Repository) CreateEscalation(ctx context.Context, orderID uuid.UUID, reason, notes string, attemptCount int) (Escalation, error) {
	e := Escalation{
		OrderID:      orderID,
		Reason:       reason,
		Status:       EscalationOpen,
		Notes:        notes,
		AttemptCount: attemptCount,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO escalations (order_id, reason, status, notes, attempt_count)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, orderID, reason, EscalationOpen, notes, attemptCount).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return Escalation{}, err
	}
	return e, nil
}

// ListEscalations returns escalations for an order, newest first.
func (r *Repository) ListEscalations(ctx context.Context, orderID uuid.UUID) ([]Escalation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, reason, status, notes, attempt_count, created_at, updated_at
		FROM escalations WHERE order_id = $1
		ORDER BY created_at DESC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Escalation
	for rows.Next() {
		var e Escalation
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Reason, &e.Status, &e.Notes, &e.AttemptCount, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}
