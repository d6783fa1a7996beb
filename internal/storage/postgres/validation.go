package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/euvatease/api/internal/services/validation"
)

const (
	validationColumns = `id, shop_id, vat_number, country_code, valid, status, company_name,
	company_address, validated_at, proof_id, failure_reason, attempts`

	appendValidationSQL = `INSERT INTO validation_records (id, shop_id, vat_number, country_code,
		valid, status, company_name, company_address, validated_at, proof_id, failure_reason, attempts)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	latestValidationSQL = `SELECT ` + validationColumns + ` FROM validation_records
	WHERE shop_id = $1 AND vat_number = $2
	ORDER BY seq DESC LIMIT 1`

	latestDefinitiveValidationSQL = `SELECT ` + validationColumns + ` FROM validation_records
	WHERE shop_id = $1 AND vat_number = $2 AND status IN ('VALID', 'INVALID')
	ORDER BY seq DESC LIMIT 1`

	validationHistorySQL = `SELECT ` + validationColumns + ` FROM validation_records
	WHERE shop_id = $1
	ORDER BY seq DESC
	LIMIT $2 OFFSET $3`

	countValidationsSQL = `SELECT count(*) FROM validation_records WHERE shop_id = $1`

	listUnavailableSQL = `SELECT vat_number FROM (
		SELECT DISTINCT ON (vat_number) vat_number, status
		FROM validation_records
		WHERE shop_id = $1
		ORDER BY vat_number, seq DESC
	) newest
	WHERE status = 'UNAVAILABLE'
	ORDER BY vat_number`
)

var _ validation.Repository = (*ValidationRepository)(nil)

// ValidationRepository keeps the append-only VIES validation log in
// PostgreSQL. Insertion order is tracked by a sequence so records with the
// same timestamp still have a well defined newest entry.
type ValidationRepository struct {
	pool *pgxpool.Pool
}

// NewValidationRepository returns a ValidationRepository that uses the given pool.
func NewValidationRepository(pool *pgxpool.Pool) *ValidationRepository {
	return &ValidationRepository{pool: pool}
}

func scanRecord(row pgx.Row) (validation.Record, error) {
	var rec validation.Record
	err := row.Scan(&rec.ID, &rec.ShopID, &rec.VATNumber, &rec.CountryCode, &rec.Valid, &rec.Status,
		&rec.CompanyName, &rec.CompanyAddress, &rec.ValidatedAt, &rec.ProofID, &rec.FailureReason, &rec.Attempts)
	return rec, err
}

func (r *ValidationRepository) Append(ctx context.Context, rec validation.Record) error {
	_, err := r.pool.Exec(ctx, appendValidationSQL,
		rec.ID, rec.ShopID, rec.VATNumber, rec.CountryCode, rec.Valid, rec.Status,
		rec.CompanyName, rec.CompanyAddress, rec.ValidatedAt, rec.ProofID, rec.FailureReason, rec.Attempts)
	if err != nil {
		return errors.Wrap(err, "append validation record")
	}
	return nil
}

func (r *ValidationRepository) Latest(ctx context.Context, shopID uuid.UUID, vatNumber string) (validation.Record, error) {
	return r.one(ctx, latestValidationSQL, shopID, vatNumber)
}

func (r *ValidationRepository) LatestDefinitive(ctx context.Context, shopID uuid.UUID, vatNumber string) (validation.Record, error) {
	return r.one(ctx, latestDefinitiveValidationSQL, shopID, vatNumber)
}

func (r *ValidationRepository) one(ctx context.Context, query string, shopID uuid.UUID, vatNumber string) (validation.Record, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx, query, shopID, vatNumber))
	if errors.Is(err, pgx.ErrNoRows) {
		return validation.Record{}, validation.ErrNotFound
	}
	if err != nil {
		return validation.Record{}, errors.Wrap(err, "get validation record")
	}
	return rec, nil
}

func (r *ValidationRepository) History(ctx context.Context, shopID uuid.UUID, page, size int) ([]validation.Record, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, countValidationsSQL, shopID).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count validation records")
	}
	offset := (page - 1) * size
	if offset < 0 || offset >= total {
		return []validation.Record{}, total, nil
	}

	rows, err := r.pool.Query(ctx, validationHistorySQL, shopID, size, offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list validation records")
	}
	defer rows.Close()

	out := []validation.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "scan validation record")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "iterate validation records")
	}
	return out, total, nil
}

func (r *ValidationRepository) ListUnavailable(ctx context.Context, shopID uuid.UUID) ([]string, error) {
	rows, err := r.pool.Query(ctx, listUnavailableSQL, shopID)
	if err != nil {
		return nil, errors.Wrap(err, "list unavailable numbers")
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, "collect unavailable numbers")
	}
	return out, nil
}
