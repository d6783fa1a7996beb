package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/euvatease/api/internal/services/order"
)

const (
	orderColumns = `id, shop_id, external_id, destination_country, buyer_type, vat_number,
	currency, subtotal, subtotal_eur, tax_amount, total_amount, applied_rate, ordered_at,
	expected_rate, treatment, vat_difference, discrepancy, has_error, audited_at,
	created_at, updated_at`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE shop_id = $1 AND id = $2`

	getOrderByExternalIDSQL = `SELECT ` + orderColumns + ` FROM orders
	WHERE shop_id = $1 AND external_id = $2 AND external_id <> ''`

	saveOrderSQL = `INSERT INTO orders (id, shop_id, external_id, destination_country, buyer_type,
		vat_number, currency, subtotal, subtotal_eur, tax_amount, total_amount, applied_rate,
		ordered_at, expected_rate, treatment, vat_difference, discrepancy, has_error, audited_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	ON CONFLICT (id) DO UPDATE SET
		external_id = EXCLUDED.external_id,
		destination_country = EXCLUDED.destination_country,
		buyer_type = EXCLUDED.buyer_type,
		vat_number = EXCLUDED.vat_number,
		currency = EXCLUDED.currency,
		subtotal = EXCLUDED.subtotal,
		subtotal_eur = EXCLUDED.subtotal_eur,
		tax_amount = EXCLUDED.tax_amount,
		total_amount = EXCLUDED.total_amount,
		applied_rate = EXCLUDED.applied_rate,
		ordered_at = EXCLUDED.ordered_at,
		expected_rate = EXCLUDED.expected_rate,
		treatment = EXCLUDED.treatment,
		vat_difference = EXCLUDED.vat_difference,
		discrepancy = EXCLUDED.discrepancy,
		has_error = EXCLUDED.has_error,
		audited_at = EXCLUDED.audited_at,
		updated_at = now()
	WHERE orders.shop_id = EXCLUDED.shop_id
	RETURNING created_at, updated_at`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
	WHERE shop_id = $1 AND ($2::boolean IS NULL OR has_error = $2)
	ORDER BY ordered_at DESC, id DESC
	LIMIT $3 OFFSET $4`

	countOrdersSQL = `SELECT count(*) FROM orders
	WHERE shop_id = $1 AND ($2::boolean IS NULL OR has_error = $2)`

	listOrdersRangeSQL = `SELECT ` + orderColumns + ` FROM orders
	WHERE shop_id = $1 AND ordered_at >= $2 AND ordered_at < $3
	ORDER BY ordered_at, id`

	orderStatsSQL = `SELECT count(*), count(audited_at), count(*) FILTER (WHERE has_error)
	FROM orders WHERE shop_id = $1`

	orderDiscrepancyStatsSQL = `SELECT discrepancy, count(*) FROM orders
	WHERE shop_id = $1 AND has_error
	GROUP BY discrepancy`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository stores orders and their audit results in PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

func scanOrder(row pgx.Row) (order.Order, error) {
	var (
		o                                     order.Order
		subtotalEUR, expectedRate, difference decimal.NullDecimal
	)
	err := row.Scan(
		&o.ID, &o.ShopID, &o.ExternalID, &o.DestinationCountry, &o.BuyerType, &o.VATNumber,
		&o.Currency, &o.Subtotal, &subtotalEUR, &o.TaxAmount, &o.TotalAmount, &o.AppliedRate, &o.OrderedAt,
		&expectedRate, &o.Treatment, &difference, &o.Discrepancy, &o.HasError, &o.AuditedAt,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return order.Order{}, err
	}
	o.SubtotalEUR = decimalPtr(subtotalEUR)
	o.ExpectedRate = decimalPtr(expectedRate)
	o.VATDifference = decimalPtr(difference)
	return o, nil
}

func collectOrders(rows pgx.Rows) ([]order.Order, error) {
	defer rows.Close()
	out := []order.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate orders")
	}
	return out, nil
}

func (r *OrderRepository) Get(ctx context.Context, shopID, id uuid.UUID) (order.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, getOrderSQL, shopID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return order.Order{}, order.ErrNotFound
	}
	if err != nil {
		return order.Order{}, errors.Wrap(err, "get order")
	}
	return o, nil
}

func (r *OrderRepository) GetByExternalID(ctx context.Context, shopID uuid.UUID, externalID string) (order.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, getOrderByExternalIDSQL, shopID, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return order.Order{}, order.ErrNotFound
	}
	if err != nil {
		return order.Order{}, errors.Wrap(err, "get order by external id")
	}
	return o, nil
}

// Save inserts or replaces an order. An order id that belongs to another
// shop is reported as ErrNotFound.
func (r *OrderRepository) Save(ctx context.Context, o order.Order) (order.Order, error) {
	err := r.pool.QueryRow(ctx, saveOrderSQL,
		o.ID, o.ShopID, o.ExternalID, o.DestinationCountry, o.BuyerType, o.VATNumber,
		o.Currency, o.Subtotal, nullDecimal(o.SubtotalEUR), o.TaxAmount, o.TotalAmount, o.AppliedRate,
		o.OrderedAt, nullDecimal(o.ExpectedRate), o.Treatment, nullDecimal(o.VATDifference),
		o.Discrepancy, o.HasError, o.AuditedAt,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return order.Order{}, order.ErrNotFound
	case isUniqueViolation(err):
		return order.Order{}, errors.Wrapf(order.ErrInvalid, "external id %q already used", o.ExternalID)
	case err != nil:
		return order.Order{}, errors.Wrap(err, "save order")
	}
	return o, nil
}

func (r *OrderRepository) List(ctx context.Context, shopID uuid.UUID, f order.ListFilter) ([]order.Order, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, countOrdersSQL, shopID, f.HasErrors).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count orders")
	}

	rows, err := r.pool.Query(ctx, listOrdersSQL, shopID, f.HasErrors, f.Size, (f.Page-1)*f.Size)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list orders")
	}
	out, err := collectOrders(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *OrderRepository) ListRange(ctx context.Context, shopID uuid.UUID, from, to time.Time) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersRangeSQL, shopID, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "list orders in range")
	}
	return collectOrders(rows)
}

func (r *OrderRepository) Stats(ctx context.Context, shopID uuid.UUID) (order.Stats, error) {
	st := order.Stats{ByDiscrepancy: make(map[order.Discrepancy]int)}
	if err := r.pool.QueryRow(ctx, orderStatsSQL, shopID).Scan(&st.Total, &st.Audited, &st.WithErrors); err != nil {
		return order.Stats{}, errors.Wrap(err, "order stats")
	}

	rows, err := r.pool.Query(ctx, orderDiscrepancyStatsSQL, shopID)
	if err != nil {
		return order.Stats{}, errors.Wrap(err, "discrepancy stats")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			d order.Discrepancy
			n int
		)
		if err := rows.Scan(&d, &n); err != nil {
			return order.Stats{}, errors.Wrap(err, "scan discrepancy stats")
		}
		st.ByDiscrepancy[d] = n
	}
	if err := rows.Err(); err != nil {
		return order.Stats{}, errors.Wrap(err, "iterate discrepancy stats")
	}
	return st, nil
}
