package followup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"procurement_followup/internal/channel"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrAttemptNotFound = errors.New("follow-up attempt not found")

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const attemptColumns = `id, order_id, provider_id, channel, recipient, subject, message, status, success,
	attempt_number, provider_message_id, reply_content, last_error, metadata, created_at, updated_at`

type attemptScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(s attemptScanner) (Attempt, error) {
	var a Attempt
	var ch, status string
	var metadataJSON []byte
	err := s.Scan(
		&a.ID,
		&a.OrderID,
		&a.ProviderID,
		&ch,
		&a.Recipient,
		&a.Subject,
		&a.Message,
		&status,
		&a.Success,
		&a.AttemptNumber,
		&a.ProviderMessageID,
		&a.ReplyContent,
		&a.LastError,
		&metadataJSON,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return Attempt{}, err
	}
	a.Channel = channel.Channel(ch)
	a.Status = Status(status)
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &a.Metadata); err != nil {
			return Attempt{}, err
		}
	}
	if a.Metadata == nil {
		a.Metadata = map[string]any{}
	}
	return a, nil
}

func (r *Repository) queryAttempts(ctx context.Context, query sq.SelectBuilder, capacity int) ([]Attempt, error) {
	sqlText, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Attempt, 0, capacity)
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *Repository) queryOne(ctx context.Context, query sq.SelectBuilder) (*Attempt, error) {
	items, err := r.queryAttempts(ctx, query.Limit(1), 1)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func selectAttempts() sq.SelectBuilder {
	return psql.Select(attemptColumns).From("followup_attempts")
}

// createAttemptSQL numbers the attempt inside the insert. The advisory lock
// serialises concurrent inserts for one order so numbers stay 1..N.
const createAttemptSQL = `
	INSERT INTO followup_attempts (order_id, provider_id, channel, recipient, subject, message, status, success, attempt_number, metadata)
	SELECT $1, $2, $3, $4, $5, $6, $7, false, COALESCE(MAX(attempt_number), 0) + 1, $8
	FROM followup_attempts
	WHERE order_id = $1
	RETURNING ` + attemptColumns

const lockOrderAttemptsSQL = `SELECT pg_advisory_xact_lock(hashtext($1::text))`

// CreateJob inserts a PENDING attempt with the order's next attempt number.
func (r *Repository) CreateJob(ctx context.Context, params CreateParams) (Attempt, error) {
	metadata := params.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return Attempt{}, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Attempt{}, fmt.Errorf("begin attempt insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, lockOrderAttemptsSQL, params.OrderID); err != nil {
		return Attempt{}, fmt.Errorf("lock attempts for order %s: %w", params.OrderID, err)
	}
	a, err := scanAttempt(tx.QueryRow(ctx, createAttemptSQL,
		params.OrderID, params.ProviderID, string(params.Channel), params.Recipient, params.Subject, params.Message,
		string(StatusPending), metadataJSON))
	if err != nil {
		return Attempt{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Attempt{}, fmt.Errorf("commit attempt insert: %w", err)
	}
	return a, nil
}

// UpdateJobStatus applies a transition. Metadata keys are merged; other
// nil fields keep their stored value. A provider message id, once stored,
// is never replaced.
func (r *Repository) UpdateJobStatus(ctx context.Context, id uuid.UUID, update StatusUpdate) (Attempt, error) {
	var metadataJSON []byte
	if len(update.Metadata) > 0 {
		encoded, err := json.Marshal(update.Metadata)
		if err != nil {
			return Attempt{}, err
		}
		metadataJSON = encoded
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE followup_attempts SET
			status = $2,
			success = COALESCE($3, success),
			provider_message_id = COALESCE(provider_message_id, $4),
			reply_content = COALESCE($5, reply_content),
			last_error = COALESCE($6, last_error),
			metadata = CASE WHEN $7::jsonb IS NULL THEN metadata ELSE metadata || $7::jsonb END,
			updated_at = now()
		WHERE id = $1
		RETURNING `+attemptColumns,
		id, string(update.Status), update.Success, update.ProviderMessageID, update.ReplyContent, update.LastError, metadataJSON)
	a, err := scanAttempt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Attempt{}, ErrAttemptNotFound
	}
	return a, err
}

// RecordCallback applies an asynchronous delivery or reply outcome.
func (r *Repository) RecordCallback(ctx context.Context, id uuid.UUID, status Status, success bool, replyContent, lastError *string) (Attempt, error) {
	return r.UpdateJobStatus(ctx, id, StatusUpdate{
		Status:       status,
		Success:      Bool(success),
		ReplyContent: replyContent,
		LastError:    lastError,
	})
}

// GetByID loads one attempt.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Attempt, error) {
	a, err := r.queryOne(ctx, selectAttempts().Where(sq.Eq{"id": id}))
	if err != nil {
		return Attempt{}, err
	}
	if a == nil {
		return Attempt{}, ErrAttemptNotFound
	}
	return *a, nil
}

// GetPendingJobs lists attempts that have not succeeded, newest first, capped
// at MaxPendingJobs. MaxAge keeps only attempts older than that age.
func (r *Repository) GetPendingJobs(ctx context.Context, filter PendingFilter) ([]Attempt, error) {
	return r.queryAttempts(ctx, pendingQuery(filter, time.Now()), MaxPendingJobs)
}

func pendingQuery(filter PendingFilter, now time.Time) sq.SelectBuilder {
	query := selectAttempts().Where(sq.Eq{"success": false})
	if filter.Channel != "" {
		query = query.Where(sq.Eq{"channel": string(filter.Channel)})
	}
	if filter.MaxAge > 0 {
		query = query.Where(sq.LtOrEq{"created_at": now.Add(-filter.MaxAge)})
	}
	return query.OrderBy("created_at DESC").Limit(MaxPendingJobs)
}

// CountByOrder returns how many attempts exist for the order.
func (r *Repository) CountByOrder(ctx context.Context, orderID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM followup_attempts WHERE order_id = $1`, orderID).Scan(&count)
	return count, err
}

// LatestByOrder returns the most recent attempt for the order, or nil.
func (r *Repository) LatestByOrder(ctx context.Context, orderID uuid.UUID) (*Attempt, error) {
	return r.queryOne(ctx, selectAttempts().
		Where(sq.Eq{"order_id": orderID}).
		OrderBy("created_at DESC", "attempt_number DESC"))
}

// LatestSuccessfulByOrderAndChannel returns the newest successful attempt on ch.
func (r *Repository) LatestSuccessfulByOrderAndChannel(ctx context.Context, orderID uuid.UUID, ch channel.Channel) (*Attempt, error) {
	return r.queryOne(ctx, selectAttempts().
		Where(sq.Eq{"order_id": orderID, "channel": string(ch), "success": true}).
		OrderBy("created_at DESC"))
}

// FindByProviderMessageID scans the most recent successful attempts on ch for
// a matching transport message id.
func (r *Repository) FindByProviderMessageID(ctx context.Context, ch channel.Channel, messageID string) (*Attempt, error) {
	messageID = normalizeMessageID(messageID)
	if messageID == "" {
		return nil, nil
	}
	recent, err := r.queryAttempts(ctx, selectAttempts().
		Where(sq.Eq{"channel": string(ch), "success": true}).
		Where(sq.NotEq{"provider_message_id": nil}).
		OrderBy("created_at DESC").
		Limit(MaxMessageIDScan), MaxMessageIDScan)
	if err != nil {
		return nil, err
	}
	return MatchMessageID(recent, messageID), nil
}

// MatchMessageID returns the first attempt whose provider message id equals
// messageID, ignoring angle brackets and case.
func MatchMessageID(attempts []Attempt, messageID string) *Attempt {
	want := normalizeMessageID(messageID)
	if want == "" {
		return nil
	}
	for i := range attempts {
		if attempts[i].ProviderMessageID == nil {
			continue
		}
		if normalizeMessageID(*attempts[i].ProviderMessageID) == want {
			return &attempts[i]
		}
	}
	return nil
}

func normalizeMessageID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return strings.ToLower(id)
}

// LatestSuccessfulByRecipient returns the newest successful attempt on ch
// sent to any of the given recipient spellings.
func (r *Repository) LatestSuccessfulByRecipient(ctx context.Context, ch channel.Channel, recipients ...string) (*Attempt, error) {
	if len(recipients) == 0 {
		return nil, nil
	}
	return r.queryOne(ctx, selectAttempts().
		Where(sq.Eq{"channel": string(ch), "success": true, "recipient": recipients}).
		OrderBy("created_at DESC"))
}

// MarkStalePendingFailed fails PENDING attempts older than cutoff and returns them.
func (r *Repository) MarkStalePendingFailed(ctx context.Context, cutoff time.Time, reason string) ([]Attempt, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE followup_attempts SET
			status = $1,
			success = false,
			last_error = $2,
			updated_at = now()
		WHERE status = $3 AND created_at < $4
		RETURNING `+attemptColumns,
		string(StatusFailed), reason, string(StatusPending), cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
