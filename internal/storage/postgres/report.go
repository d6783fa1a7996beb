package postgres

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/euvatease/api/internal/services/report"
)

const (
	reportColumns = `id, shop_id, year, quarter, status, generated_at, submitted_at, notes,
	total_sales, total_vat, total_orders, exempt_orders, countries_count, version, lines,
	created_at, updated_at`

	getReportSQL = `SELECT ` + reportColumns + ` FROM oss_reports WHERE shop_id = $1 AND id = $2`

	findReportByPeriodSQL = `SELECT ` + reportColumns + ` FROM oss_reports
	WHERE shop_id = $1 AND year = $2 AND quarter = $3`

	createReportSQL = `INSERT INTO oss_reports (id, shop_id, year, quarter, status, generated_at,
		submitted_at, notes, total_sales, total_vat, total_orders, exempt_orders, countries_count,
		version, lines)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	updateReportSQL = `UPDATE oss_reports SET
		status = $3, generated_at = $4, submitted_at = $5, notes = $6, total_sales = $7,
		total_vat = $8, total_orders = $9, exempt_orders = $10, countries_count = $11,
		version = $12, lines = $13, updated_at = now()
	WHERE shop_id = $1 AND id = $2 AND version = $14`

	reportExistsSQL = `SELECT EXISTS (SELECT 1 FROM oss_reports WHERE shop_id = $1 AND id = $2)`

	listReportsSQL = `SELECT ` + reportColumns + ` FROM oss_reports
	WHERE shop_id = $1
	ORDER BY year DESC, quarter DESC`
)

// lineRecord is the stored JSON form of a report line.
type lineRecord struct {
	CountryCode   string          `json:"country_code"`
	CountryName   string          `json:"country_name"`
	Rate          decimal.Decimal `json:"rate"`
	TaxableAmount decimal.Decimal `json:"taxable_amount"`
	VATAmount     decimal.Decimal `json:"vat_amount"`
	OrderCount    int             `json:"order_count"`
}

func encodeLines(lines []report.Line) ([]byte, error) {
	recs := make([]lineRecord, len(lines))
	for i, l := range lines {
		recs[i] = lineRecord(l)
	}
	return json.Marshal(recs)
}

func decodeLines(data []byte) ([]report.Line, error) {
	var recs []lineRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, err
	}
	lines := make([]report.Line, len(recs))
	for i, rec := range recs {
		lines[i] = report.Line(rec)
	}
	return lines, nil
}

var _ report.Repository = (*ReportRepository)(nil)

// ReportRepository stores OSS quarterly reports. Lines are kept as a JSONB
// document on the report row so a report is always read and replaced whole.
type ReportRepository struct {
	pool *pgxpool.Pool
}

// NewReportRepository returns a ReportRepository that uses the given pool.
func NewReportRepository(pool *pgxpool.Pool) *ReportRepository {
	return &ReportRepository{pool: pool}
}

func scanReport(row pgx.Row) (report.Report, error) {
	var (
		r     report.Report
		lines []byte
	)
	err := row.Scan(&r.ID, &r.ShopID, &r.Year, &r.Quarter, &r.Status, &r.GeneratedAt, &r.SubmittedAt, &r.Notes,
		&r.TotalSales, &r.TotalVAT, &r.TotalOrders, &r.ExemptOrders, &r.CountriesCount, &r.Version, &lines,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return report.Report{}, err
	}
	if r.Lines, err = decodeLines(lines); err != nil {
		return report.Report{}, errors.Wrap(err, "decode report lines")
	}
	return r, nil
}

func (r *ReportRepository) get(ctx context.Context, query string, args ...any) (report.Report, error) {
	rep, err := scanReport(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return report.Report{}, report.ErrNotFound
	}
	if err != nil {
		return report.Report{}, errors.Wrap(err, "get report")
	}
	return rep, nil
}

func (r *ReportRepository) Get(ctx context.Context, shopID, id uuid.UUID) (report.Report, error) {
	return r.get(ctx, getReportSQL, shopID, id)
}

func (r *ReportRepository) FindByPeriod(ctx context.Context, shopID uuid.UUID, year, quarter int) (report.Report, error) {
	return r.get(ctx, findReportByPeriodSQL, shopID, year, quarter)
}

func (r *ReportRepository) Create(ctx context.Context, rep report.Report) error {
	lines, err := encodeLines(rep.Lines)
	if err != nil {
		return errors.Wrap(err, "encode report lines")
	}
	_, err = r.pool.Exec(ctx, createReportSQL,
		rep.ID, rep.ShopID, rep.Year, rep.Quarter, rep.Status, rep.GeneratedAt, rep.SubmittedAt, rep.Notes,
		rep.TotalSales, rep.TotalVAT, rep.TotalOrders, rep.ExemptOrders, rep.CountriesCount, rep.Version, lines)
	if isUniqueViolation(err) {
		return errors.Wrapf(report.ErrConcurrentModification, "report for %d-Q%d already exists", rep.Year, rep.Quarter)
	}
	if err != nil {
		return errors.Wrap(err, "create report")
	}
	return nil
}

func (r *ReportRepository) Update(ctx context.Context, rep report.Report, expectedVersion int) error {
	lines, err := encodeLines(rep.Lines)
	if err != nil {
		return errors.Wrap(err, "encode report lines")
	}
	tag, err := r.pool.Exec(ctx, updateReportSQL,
		rep.ShopID, rep.ID, rep.Status, rep.GeneratedAt, rep.SubmittedAt, rep.Notes,
		rep.TotalSales, rep.TotalVAT, rep.TotalOrders, rep.ExemptOrders, rep.CountriesCount,
		rep.Version, lines, expectedVersion)
	if err != nil {
		return errors.Wrap(err, "update report")
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, reportExistsSQL, rep.ShopID, rep.ID).Scan(&exists); err != nil {
		return errors.Wrap(err, "check report")
	}
	if !exists {
		return report.ErrNotFound
	}
	return errors.Wrapf(report.ErrConcurrentModification, "report %s is not at version %d", rep.ID, expectedVersion)
}

func (r *ReportRepository) List(ctx context.Context, shopID uuid.UUID) ([]report.Report, error) {
	rows, err := r.pool.Query(ctx, listReportsSQL, shopID)
	if err != nil {
		return nil, errors.Wrap(err, "list reports")
	}
	defer rows.Close()

	var out []report.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan report")
		}
		out = append(out, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate reports")
	}
	return out, nil
}
