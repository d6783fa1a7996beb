// Package report aggregates audited orders into quarterly OSS returns and
// manages their lifecycle.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a report does not exist in the shop.
	ErrNotFound = errors.New("report not found")
	// ErrReportLocked is returned when changing a submitted report.
	ErrReportLocked = errors.New("report is submitted and locked")
	// ErrConcurrentModification is returned when another writer changed the
	// report between read and write.
	ErrConcurrentModification = errors.New("report was modified concurrently")
	// ErrInvalidPeriod is returned for a year or quarter out of range.
	ErrInvalidPeriod = errors.New("invalid reporting period")
	// ErrNotGenerated is returned when submitting a report that was never generated.
	ErrNotGenerated = errors.New("report has not been generated")
)

// Status of a report. SUBMITTED is final.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusGenerated Status = "GENERATED"
	StatusSubmitted Status = "SUBMITTED"
)

// Period is a calendar quarter.
type Period struct {
	Year    int
	Quarter int
}

// NewPeriod validates year and quarter.
func NewPeriod(year, quarter int) (Period, error) {
	if quarter < 1 || quarter > 4 {
		return Period{}, errors.Wrapf(ErrInvalidPeriod, "quarter %d", quarter)
	}
	if year < 2021 || year > 9999 {
		// OSS started on 1 July 2021.
		return Period{}, errors.Wrapf(ErrInvalidPeriod, "year %d", year)
	}
	return Period{Year: year, Quarter: quarter}, nil
}

// PeriodOf returns the quarter containing t.
func PeriodOf(t time.Time) Period {
	t = t.UTC()
	return Period{Year: t.Year(), Quarter: (int(t.Month())-1)/3 + 1}
}

// Start is the first instant of the quarter.
func (p Period) Start() time.Time {
	return time.Date(p.Year, time.Month((p.Quarter-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
}

// End is the first instant after the quarter.
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 3, 0)
}

// Deadline is the filing due date: the given day of the month after the quarter.
func (p Period) Deadline(day int) time.Time {
	return p.End().AddDate(0, 0, day-1)
}

// Prev returns the previous quarter.
func (p Period) Prev() Period {
	if p.Quarter == 1 {
		return Period{Year: p.Year - 1, Quarter: 4}
	}
	return Period{Year: p.Year, Quarter: p.Quarter - 1}
}

func (p Period) String() string {
	return fmt.Sprintf("%d-Q%d", p.Year, p.Quarter)
}

// Line is the OSS total of one destination country at one rate.
type Line struct {
	CountryCode   string
	CountryName   string
	Rate          decimal.Decimal
	TaxableAmount decimal.Decimal
	VATAmount     decimal.Decimal
	OrderCount    int
}

// Report is a quarterly OSS return. Totals always equal the sum of the lines.
type Report struct {
	ID             uuid.UUID
	ShopID         uuid.UUID
	Year           int
	Quarter        int
	Status         Status
	GeneratedAt    *time.Time
	SubmittedAt    *time.Time
	Notes          string
	TotalSales     decimal.Decimal
	TotalVAT       decimal.Decimal
	TotalOrders    int
	ExemptOrders   int
	CountriesCount int
	Version        int
	Lines          []Line
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Period returns the quarter of the report.
func (r Report) Period() Period {
	return Period{Year: r.Year, Quarter: r.Quarter}
}

// Repository stores reports.
type Repository interface {
	Get(ctx context.Context, shopID, id uuid.UUID) (Report, error)
	FindByPeriod(ctx context.Context, shopID uuid.UUID, year, quarter int) (Report, error)
	// Create inserts a report. A report for the same period fails with
	// ErrConcurrentModification.
	Create(ctx context.Context, r Report) error
	// Update replaces a report if its stored version is expectedVersion,
	// otherwise it fails with ErrConcurrentModification.
	Update(ctx context.Context, r Report, expectedVersion int) error
	// List returns the shop's reports, newest period first.
	List(ctx context.Context, shopID uuid.UUID) ([]Report, error)
}
