package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/euvatease/api/internal/vat"
)

const loadRatesSQL = `SELECT country_code, country_name, rate_type, rate, valid_from, valid_to, source
	FROM vat_rates
	ORDER BY country_code, rate_type, valid_from`

var rateCopyColumns = []string{"country_code", "country_name", "rate_type", "rate", "valid_from", "valid_to", "source"}

var _ vat.RateStore = (*RateStore)(nil)

// RateStore keeps the last synchronised VAT rate table so the service can
// start when the rate file is unreadable.
type RateStore struct {
	pool *pgxpool.Pool
}

// NewRateStore returns a RateStore that uses the given pool.
func NewRateStore(pool *pgxpool.Pool) *RateStore {
	return &RateStore{pool: pool}
}

func (s *RateStore) LoadRates(ctx context.Context) ([]vat.VATRate, error) {
	rows, err := s.pool.Query(ctx, loadRatesSQL)
	if err != nil {
		return nil, errors.Wrap(err, "load rates")
	}
	defer rows.Close()

	var out []vat.VATRate
	for rows.Next() {
		var r vat.VATRate
		if err := rows.Scan(&r.CountryCode, &r.CountryName, &r.RateType, &r.Rate, &r.ValidFrom, &r.ValidTo, &r.Source); err != nil {
			return nil, errors.Wrap(err, "scan rate")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate rates")
	}
	return out, nil
}

// ReplaceRates swaps the stored table for rates in one transaction.
func (s *RateStore) ReplaceRates(ctx context.Context, rates []vat.VATRate) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM vat_rates`); err != nil {
			return errors.Wrap(err, "clear rates")
		}
		_, err := tx.CopyFrom(ctx, pgx.Identifier{"vat_rates"}, rateCopyColumns,
			pgx.CopyFromSlice(len(rates), func(i int) ([]any, error) {
				r := rates[i]
				return []any{r.CountryCode, r.CountryName, r.RateType, r.Rate, r.ValidFrom, r.ValidTo, r.Source}, nil
			}))
		if err != nil {
			return errors.Wrap(err, "copy rates")
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "replace rates")
	}
	return nil
}
