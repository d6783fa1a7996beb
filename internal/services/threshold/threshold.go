// Package threshold tracks yearly EU distance-selling turnover against the
// OSS threshold.
package threshold

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a shop has no state for a year yet.
var ErrNotFound = errors.New("threshold state not found")

// Status of the yearly turnover. It only moves forward within a year.
type Status string

const (
	StatusUnder       Status = "UNDER"
	StatusApproaching Status = "APPROACHING"
	StatusExceeded    Status = "EXCEEDED"
)

func (s Status) rank() int {
	switch s {
	case StatusApproaching:
		return 1
	case StatusExceeded:
		return 2
	default:
		return 0
	}
}

// Max returns the more advanced of two statuses.
func Max(a, b Status) Status {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// State is the running total of a shop for one calendar year.
type State struct {
	ShopID    uuid.UUID
	Year      int
	TotalEUR  decimal.Decimal
	Status    Status
	UpdatedAt time.Time
}

// Contribution is the amount one order has added to a year's total.
type Contribution struct {
	OrderID   uuid.UUID
	Year      int
	AmountEUR decimal.Decimal
}

// Repository stores threshold states and what each order contributed.
type Repository interface {
	Get(ctx context.Context, shopID uuid.UUID, year int) (State, error)
	Save(ctx context.Context, s State) error
	// GetContribution returns ErrNotFound when the order was never counted.
	GetContribution(ctx context.Context, shopID, orderID uuid.UUID) (Contribution, error)
	// SaveContribution replaces whatever was recorded for the order.
	SaveContribution(ctx context.Context, shopID uuid.UUID, c Contribution) error
}
