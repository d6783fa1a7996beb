package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/euvatease/api/internal/services/shop"
)

const (
	shopColumns = `id, name, home_country, oss_registered, active, created_at, updated_at`

	getShopSQL = `SELECT ` + shopColumns + ` FROM shops WHERE id = $1`

	upsertShopSQL = `INSERT INTO shops (id, name, home_country, oss_registered, active)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		home_country = EXCLUDED.home_country,
		oss_registered = EXCLUDED.oss_registered,
		active = EXCLUDED.active,
		updated_at = now()
	RETURNING ` + shopColumns

	listActiveShopsSQL = `SELECT ` + shopColumns + ` FROM shops WHERE active ORDER BY id`
)

var _ shop.Repository = (*ShopRepository)(nil)

// ShopRepository stores shops in PostgreSQL.
type ShopRepository struct {
	pool *pgxpool.Pool
}

// NewShopRepository returns a ShopRepository that uses the given pool.
func NewShopRepository(pool *pgxpool.Pool) *ShopRepository {
	return &ShopRepository{pool: pool}
}

func scanShop(row pgx.Row) (shop.Shop, error) {
	var s shop.Shop
	err := row.Scan(&s.ID, &s.Name, &s.HomeCountry, &s.OSSRegistered, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (r *ShopRepository) Get(ctx context.Context, id uuid.UUID) (shop.Shop, error) {
	s, err := scanShop(r.pool.QueryRow(ctx, getShopSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return shop.Shop{}, shop.ErrNotFound
	}
	if err != nil {
		return shop.Shop{}, errors.Wrap(err, "get shop")
	}
	return s, nil
}

func (r *ShopRepository) Upsert(ctx context.Context, s shop.Shop) (shop.Shop, error) {
	saved, err := scanShop(r.pool.QueryRow(ctx, upsertShopSQL, s.ID, s.Name, s.HomeCountry, s.OSSRegistered, s.Active))
	if err != nil {
		return shop.Shop{}, errors.Wrap(err, "upsert shop")
	}
	return saved, nil
}

func (r *ShopRepository) ListActive(ctx context.Context) ([]shop.Shop, error) {
	rows, err := r.pool.Query(ctx, listActiveShopsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list active shops")
	}
	defer rows.Close()

	var out []shop.Shop
	for rows.Next() {
		s, err := scanShop(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan shop")
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate shops")
	}
	return out, nil
}
