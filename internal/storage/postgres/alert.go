package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/euvatease/api/internal/services/alert"
)

const (
	alertColumns = `id, shop_id, type, severity, status, subject, order_id, country_code,
	title, message, action_required, read, created_at, resolved_at`

	insertAlertSQL = `INSERT INTO alerts (id, shop_id, type, severity, status, subject, order_id,
		country_code, title, message, action_required, read, created_at, resolved_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (shop_id, type, subject) WHERE status = 'ACTIVE' DO NOTHING
	RETURNING ` + alertColumns

	getActiveAlertSQL = `SELECT ` + alertColumns + ` FROM alerts
	WHERE shop_id = $1 AND type = $2 AND subject = $3 AND status = 'ACTIVE'`

	getAlertSQL = `SELECT ` + alertColumns + ` FROM alerts WHERE shop_id = $1 AND id = $2`

	latestAlertSQL = `SELECT ` + alertColumns + ` FROM alerts
	WHERE shop_id = $1 AND type = $2 AND subject = $3
	ORDER BY created_at DESC, id LIMIT 1`

	listAlertsSQL = `SELECT ` + alertColumns + ` FROM alerts
	WHERE shop_id = $1
		AND ($2::boolean IS NULL OR (status <> 'ACTIVE') = $2)
		AND ($3 = '' OR severity = $3)
	ORDER BY created_at DESC, id`

	closeAlertSQL = `UPDATE alerts SET status = $3, resolved_at = $4
	WHERE shop_id = $1 AND id = $2 AND status = 'ACTIVE'
	RETURNING ` + alertColumns

	markAllAlertsReadSQL = `UPDATE alerts SET read = true WHERE shop_id = $1 AND NOT read`
)

// createAttempts bounds the insert-or-load loop when the active alert is
// closed between the two statements.
const createAttempts = 3

var _ alert.Repository = (*AlertRepository)(nil)

// AlertRepository stores alerts in PostgreSQL. At most one ACTIVE alert per
// shop, type and subject is enforced by a partial unique index.
type AlertRepository struct {
	pool *pgxpool.Pool
}

// NewAlertRepository returns an AlertRepository that uses the given pool.
func NewAlertRepository(pool *pgxpool.Pool) *AlertRepository {
	return &AlertRepository{pool: pool}
}

func scanAlert(row pgx.Row) (alert.Alert, error) {
	var (
		a       alert.Alert
		orderID uuid.NullUUID
	)
	err := row.Scan(&a.ID, &a.ShopID, &a.Type, &a.Severity, &a.Status, &a.Subject, &orderID,
		&a.CountryCode, &a.Title, &a.Message, &a.ActionRequired, &a.Read, &a.CreatedAt, &a.ResolvedAt)
	if err != nil {
		return alert.Alert{}, err
	}
	if orderID.Valid {
		a.OrderID = &orderID.UUID
	}
	return a, nil
}

func (r *AlertRepository) CreateIfAbsent(ctx context.Context, a alert.Alert) (alert.Alert, bool, error) {
	var orderID uuid.NullUUID
	if a.OrderID != nil {
		orderID = uuid.NullUUID{UUID: *a.OrderID, Valid: true}
	}

	for range createAttempts {
		stored, err := scanAlert(r.pool.QueryRow(ctx, insertAlertSQL,
			a.ID, a.ShopID, a.Type, a.Severity, a.Status, a.Subject, orderID,
			a.CountryCode, a.Title, a.Message, a.ActionRequired, a.Read, a.CreatedAt, a.ResolvedAt))
		if err == nil {
			return stored, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return alert.Alert{}, false, errors.Wrap(err, "insert alert")
		}

		existing, err := scanAlert(r.pool.QueryRow(ctx, getActiveAlertSQL, a.ShopID, a.Type, a.Subject))
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return alert.Alert{}, false, errors.Wrap(err, "load active alert")
		}
	}
	return alert.Alert{}, false, errors.Errorf("alert %s/%s kept changing", a.Type, a.Subject)
}

func (r *AlertRepository) Get(ctx context.Context, shopID, id uuid.UUID) (alert.Alert, error) {
	a, err := scanAlert(r.pool.QueryRow(ctx, getAlertSQL, shopID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return alert.Alert{}, alert.ErrNotFound
	}
	if err != nil {
		return alert.Alert{}, errors.Wrap(err, "get alert")
	}
	return a, nil
}

func (r *AlertRepository) Latest(ctx context.Context, shopID uuid.UUID, typ alert.Type, subject string) (alert.Alert, error) {
	a, err := scanAlert(r.pool.QueryRow(ctx, latestAlertSQL, shopID, typ, subject))
	if errors.Is(err, pgx.ErrNoRows) {
		return alert.Alert{}, alert.ErrNotFound
	}
	if err != nil {
		return alert.Alert{}, errors.Wrap(err, "get latest alert")
	}
	return a, nil
}

func (r *AlertRepository) List(ctx context.Context, shopID uuid.UUID, f alert.Filter) ([]alert.Alert, error) {
	rows, err := r.pool.Query(ctx, listAlertsSQL, shopID, f.Resolved, string(f.Severity))
	if err != nil {
		return nil, errors.Wrap(err, "list alerts")
	}
	defer rows.Close()

	var out []alert.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan alert")
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate alerts")
	}
	return out, nil
}

// Close moves an ACTIVE alert to status. A missing alert fails with
// ErrNotFound and one that is no longer active with ErrClosed.
func (r *AlertRepository) Close(ctx context.Context, shopID, id uuid.UUID, status alert.Status, at time.Time) (alert.Alert, error) {
	a, err := scanAlert(r.pool.QueryRow(ctx, closeAlertSQL, shopID, id, status, at))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return alert.Alert{}, errors.Wrap(err, "close alert")
	}
	if _, err := r.Get(ctx, shopID, id); err != nil {
		return alert.Alert{}, err
	}
	return alert.Alert{}, alert.ErrClosed
}

func (r *AlertRepository) MarkAllRead(ctx context.Context, shopID uuid.UUID) (int, error) {
	tag, err := r.pool.Exec(ctx, markAllAlertsReadSQL, shopID)
	if err != nil {
		return 0, errors.Wrap(err, "mark alerts read")
	}
	return int(tag.RowsAffected()), nil
}
