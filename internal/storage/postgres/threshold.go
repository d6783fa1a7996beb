package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/euvatease/api/internal/services/threshold"
)

const (
	getThresholdSQL = `SELECT shop_id, year, total_eur, status, updated_at
	FROM threshold_states WHERE shop_id = $1 AND year = $2`

	saveThresholdSQL = `INSERT INTO threshold_states (shop_id, year, total_eur, status, updated_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (shop_id, year) DO UPDATE SET
		total_eur = EXCLUDED.total_eur,
		status = EXCLUDED.status,
		updated_at = EXCLUDED.updated_at`

	getContributionSQL = `SELECT order_id, year, amount_eur
	FROM threshold_contributions WHERE shop_id = $1 AND order_id = $2`

	saveContributionSQL = `INSERT INTO threshold_contributions (shop_id, order_id, year, amount_eur)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (shop_id, order_id) DO UPDATE SET
		year = EXCLUDED.year,
		amount_eur = EXCLUDED.amount_eur,
		counted_at = now()`
)

var _ threshold.Repository = (*ThresholdRepository)(nil)

// ThresholdRepository stores yearly OSS threshold state and the set of
// amount each order has contributed to it.
type ThresholdRepository struct {
	pool *pgxpool.Pool
}

// NewThresholdRepository returns a ThresholdRepository that uses the given pool.
func NewThresholdRepository(pool *pgxpool.Pool) *ThresholdRepository {
	return &ThresholdRepository{pool: pool}
}

func (r *ThresholdRepository) Get(ctx context.Context, shopID uuid.UUID, year int) (threshold.State, error) {
	var st threshold.State
	err := r.pool.QueryRow(ctx, getThresholdSQL, shopID, year).
		Scan(&st.ShopID, &st.Year, &st.TotalEUR, &st.Status, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return threshold.State{}, threshold.ErrNotFound
	}
	if err != nil {
		return threshold.State{}, errors.Wrap(err, "get threshold state")
	}
	return st, nil
}

func (r *ThresholdRepository) Save(ctx context.Context, st threshold.State) error {
	_, err := r.pool.Exec(ctx, saveThresholdSQL, st.ShopID, st.Year, st.TotalEUR, st.Status, st.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "save threshold state")
	}
	return nil
}

func (r *ThresholdRepository) GetContribution(ctx context.Context, shopID, orderID uuid.UUID) (threshold.Contribution, error) {
	var c threshold.Contribution
	err := r.pool.QueryRow(ctx, getContributionSQL, shopID, orderID).Scan(&c.OrderID, &c.Year, &c.AmountEUR)
	if errors.Is(err, pgx.ErrNoRows) {
		return threshold.Contribution{}, threshold.ErrNotFound
	}
	if err != nil {
		return threshold.Contribution{}, errors.Wrap(err, "get threshold contribution")
	}
	return c, nil
}

func (r *ThresholdRepository) SaveContribution(ctx context.Context, shopID uuid.UUID, c threshold.Contribution) error {
	if _, err := r.pool.Exec(ctx, saveContributionSQL, shopID, c.OrderID, c.Year, c.AmountEUR); err != nil {
		return errors.Wrap(err, "save threshold contribution")
	}
	return nil
}
