// Package order holds the audited order model and its read side.
package order

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/euvatease/api/internal/vat"
)

var (
	// ErrNotFound is returned when an order does not exist in the shop.
	ErrNotFound = errors.New("order not found")
	// ErrInvalid is returned for order data that cannot be audited.
	ErrInvalid = errors.New("invalid order")
)

// Discrepancy classifies the outcome of an audit. The empty value means no error.
type Discrepancy string

const (
	DiscrepancyNone                    Discrepancy = ""
	DiscrepancyVATMissing              Discrepancy = "VAT_MISSING"
	DiscrepancyB2BVATCharged           Discrepancy = "B2B_VAT_CHARGED"
	DiscrepancyRateMismatch            Discrepancy = "RATE_MISMATCH"
	DiscrepancyUnsupportedJurisdiction Discrepancy = "UNSUPPORTED_JURISDICTION"
)

// Discrepancies lists every error classification in reporting order.
var Discrepancies = []Discrepancy{
	DiscrepancyVATMissing,
	DiscrepancyB2BVATCharged,
	DiscrepancyRateMismatch,
	DiscrepancyUnsupportedJurisdiction,
}

var (
	countryPattern  = regexp.MustCompile(`^[A-Z]{2}$`)
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
)

// Order is a shop order with the result of its last audit.
type Order struct {
	ID                 uuid.UUID
	ShopID             uuid.UUID
	ExternalID         string
	DestinationCountry string
	BuyerType          vat.BuyerType
	VATNumber          string
	Currency           string
	Subtotal           decimal.Decimal
	SubtotalEUR        *decimal.Decimal
	TaxAmount          decimal.Decimal
	TotalAmount        decimal.Decimal
	AppliedRate        decimal.Decimal
	OrderedAt          time.Time

	ExpectedRate  *decimal.Decimal
	Treatment     vat.Treatment
	VATDifference *decimal.Decimal
	Discrepancy   Discrepancy
	HasError      bool
	AuditedAt     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Audited reports whether the order has been audited at least once.
func (o Order) Audited() bool { return o.AuditedAt != nil }

// OSSEligible reports whether the order is EU distance selling under the
// OSS scheme: audited with the standard treatment (reverse charge and
// exemptions are excluded) and shipped outside the home country.
func (o Order) OSSEligible(homeCountry string) bool {
	return o.Audited() &&
		o.Treatment == vat.TreatmentStandard &&
		o.Discrepancy != DiscrepancyUnsupportedJurisdiction &&
		o.DestinationCountry != homeCountry
}

// TaxableEUR returns the subtotal in EUR. Non-EUR orders must carry the
// converted amount; there is no fallback rate.
func (o Order) TaxableEUR() (decimal.Decimal, error) {
	if o.Currency == "EUR" {
		return o.Subtotal, nil
	}
	if o.SubtotalEUR == nil {
		return decimal.Zero, errors.Wrapf(ErrInvalid, "order %s in %s has no EUR subtotal", o.ID, o.Currency)
	}
	return *o.SubtotalEUR, nil
}

// Normalize uppercases codes and trims identifiers in place.
func (o *Order) Normalize() {
	o.DestinationCountry = strings.ToUpper(strings.TrimSpace(o.DestinationCountry))
	o.Currency = strings.ToUpper(strings.TrimSpace(o.Currency))
	o.BuyerType = vat.BuyerType(strings.ToUpper(strings.TrimSpace(string(o.BuyerType))))
	o.VATNumber = strings.TrimSpace(o.VATNumber)
	o.ExternalID = strings.TrimSpace(o.ExternalID)
	o.OrderedAt = o.OrderedAt.UTC()
}

// Validate checks the order data needed for an audit.
func (o Order) Validate() error {
	switch {
	case o.ShopID == uuid.Nil:
		return errors.Wrap(ErrInvalid, "shop id is required")
	case !countryPattern.MatchString(o.DestinationCountry):
		return errors.Wrapf(ErrInvalid, "destination %q is not an ISO-2 code", o.DestinationCountry)
	case !o.BuyerType.Valid():
		return errors.Wrapf(ErrInvalid, "buyer type %q", o.BuyerType)
	case !currencyPattern.MatchString(o.Currency):
		return errors.Wrapf(ErrInvalid, "currency %q", o.Currency)
	case o.Subtotal.IsNegative() || o.TaxAmount.IsNegative() || o.TotalAmount.IsNegative():
		return errors.Wrap(ErrInvalid, "amounts must not be negative")
	case o.AppliedRate.IsNegative() || o.AppliedRate.GreaterThan(decimal.NewFromInt(100)):
		return errors.Wrapf(ErrInvalid, "applied rate %s out of range", o.AppliedRate)
	case o.OrderedAt.IsZero():
		return errors.Wrap(ErrInvalid, "order date is required")
	}
	if o.Currency != "EUR" {
		if o.SubtotalEUR == nil {
			return errors.Wrapf(ErrInvalid, "EUR subtotal is required for %s orders", o.Currency)
		}
		if o.SubtotalEUR.IsNegative() {
			return errors.Wrap(ErrInvalid, "EUR subtotal must not be negative")
		}
	}
	return nil
}

// ListFilter selects a page of orders.
type ListFilter struct {
	Page      int
	Size      int
	HasErrors *bool
}

// Stats are per-shop order counters.
type Stats struct {
	Total         int
	Audited       int
	WithErrors    int
	ByDiscrepancy map[Discrepancy]int
}

// Repository stores orders of a shop.
type Repository interface {
	Get(ctx context.Context, shopID, id uuid.UUID) (Order, error)
	GetByExternalID(ctx context.Context, shopID uuid.UUID, externalID string) (Order, error)
	Save(ctx context.Context, o Order) (Order, error)
	// List returns a page newest first and the total count matching the filter.
	List(ctx context.Context, shopID uuid.UUID, f ListFilter) ([]Order, int, error)
	// ListRange returns orders with from <= ordered_at < to, oldest first.
	ListRange(ctx context.Context, shopID uuid.UUID, from, to time.Time) ([]Order, error)
	Stats(ctx context.Context, shopID uuid.UUID) (Stats, error)
}
