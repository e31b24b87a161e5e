package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"procurement_followup/internal/channel"
	"procurement_followup/platform/apperr"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrProviderNotFound = errors.New("provider not found")
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const orderColumns = `id, external_order_id, part_number, description, provider_id, status, priority,
	order_date, expected_delivery_date, lead_time_days, delay_reason, created_at, updated_at`

// rowScanner is satisfied by pgx.Rows and pgx.Row.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(s rowScanner) (Order, error) {
	var o Order
	var status, priority string
	err := s.Scan(
		&o.ID,
		&o.ExternalOrderID,
		&o.PartNumber,
		&o.Description,
		&o.ProviderID,
		&status,
		&priority,
		&o.OrderDate,
		&o.ExpectedDeliveryDate,
		&o.LeadTimeDays,
		&o.DelayReason,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	o.Priority = Priority(priority)
	return o, nil
}

// GetByID loads an order by internal id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	return o, err
}

// GetByExternalID loads an order by the external (buyer-facing) order id.
func (r *Repository) GetByExternalID(ctx context.Context, externalID string) (Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE external_order_id = $1`, strings.TrimSpace(externalID))
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	return o, err
}

// Resolve looks an order up by internal id first, then by external id.
func (r *Repository) Resolve(ctx context.Context, ref string) (Order, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Order{}, apperr.Validation("order reference is required")
	}
	if id, err := uuid.Parse(ref); err == nil {
		o, err := r.GetByID(ctx, id)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, ErrOrderNotFound) {
			return Order{}, err
		}
	}
	o, err := r.GetByExternalID(ctx, ref)
	if errors.Is(err, ErrOrderNotFound) {
		return Order{}, apperr.NotFound(fmt.Sprintf("order %s not found", ref))
	}
	return o, err
}

// CandidateFilter selects orders the scheduler should evaluate.
type CandidateFilter struct {
	Statuses          []Status
	MaxAttempts       int
	LastAttemptBefore time.Time
	Limit             int
}

// ListFollowUpCandidates returns eligible orders, oldest-updated first, excluding
// orders at the attempt cap or contacted after LastAttemptBefore.
func (r *Repository) ListFollowUpCandidates(ctx context.Context, f CandidateFilter) ([]Order, error) {
	statuses := make([]string, 0, len(f.Statuses))
	for _, s := range f.Statuses {
		statuses = append(statuses, string(s))
	}

	attempts := `(SELECT COUNT(*) FROM followup_attempts fa WHERE fa.order_id = o.id)`
	lastAttempt := `(SELECT MAX(fa.created_at) FROM followup_attempts fa WHERE fa.order_id = o.id)`

	query := psql.
		Select(prefixColumns("o", orderColumns)).
		From("orders o").
		Where(sq.Eq{"o.status": statuses}).
		Where(sq.Expr(attempts+" < ?", f.MaxAttempts)).
		Where(sq.Or{
			sq.Expr(lastAttempt + " IS NULL"),
			sq.Expr(lastAttempt+" < ?", f.LastAttemptBefore),
		}).
		OrderBy("o.updated_at ASC").
		Limit(uint64(f.Limit))

	sqlText, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Order, 0, f.Limit)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	return items, rows.Err()
}

// ApplyReplyUpdate writes the non-nil fields of u and returns the updated order.
func (r *Repository) ApplyReplyUpdate(ctx context.Context, id uuid.UUID, u ReplyUpdate) (Order, error) {
	var status, priority *string
	if u.Status != nil {
		s := string(*u.Status)
		status = &s
	}
	if u.Priority != nil {
		p := string(*u.Priority)
		priority = &p
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE orders SET
			status = COALESCE($2, status),
			expected_delivery_date = COALESCE($3, expected_delivery_date),
			priority = COALESCE($4, priority),
			delay_reason = COALESCE($5, delay_reason),
			updated_at = now()
		WHERE id = $1
		RETURNING `+orderColumns, id, status, u.ExpectedDeliveryDate, priority, u.DelayReason)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	return o, err
}

// GetProvider loads a provider with its contact map.
func (r *Repository) GetProvider(ctx context.Context, id uuid.UUID) (Provider, error) {
	var p Provider
	var preferred string
	var contactJSON []byte
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, country, preferred_channel, contact_info, created_at, updated_at
		FROM providers WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Country, &preferred, &contactJSON, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Provider{}, ErrProviderNotFound
	}
	if err != nil {
		return Provider{}, err
	}

	p.PreferredChannel = channel.Channel(preferred)
	contacts, err := decodeContactInfo(contactJSON)
	if err != nil {
		return Provider{}, apperr.Wrap(apperr.KindInternal, "provider contact info is malformed", err)
	}
	p.ContactInfo = contacts
	return p, nil
}

// decodeContactInfo keeps only recognised channel keys.
func decodeContactInfo(raw []byte) (map[channel.Channel]string, error) {
	if len(raw) == 0 {
		return map[channel.Channel]string{}, nil
	}
	var generic map[string]string
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	out := make(map[channel.Channel]string, len(generic))
	for key, value := range generic {
		if ch, ok := channel.Parse(key); ok {
			out[ch] = value
		}
	}
	return out, nil
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}
