// Package audit compares the VAT applied to orders with the VAT the rate
// rules expect, and feeds the findings to the threshold tracker and the
// alert engine.
package audit

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/euvatease/api/internal/services/order"
	"github.com/euvatease/api/internal/vat"
)

// Tolerance is the currency and percentage-point tolerance of the checks.
var Tolerance = decimal.RequireFromString("0.01")

var hundred = decimal.NewFromInt(100)

// Result is the outcome of auditing one order.
type Result struct {
	ExpectedRate decimal.Decimal
	Treatment    vat.Treatment
	Difference   decimal.Decimal
	Discrepancy  order.Discrepancy
	Rule         string
}

// HasError reports whether the audit found a discrepancy.
func (r Result) HasError() bool { return r.Discrepancy != order.DiscrepancyNone }

// Resolver resolves the expected rate. *vat.Resolver implements it.
type Resolver interface {
	Resolve(q vat.Query) (vat.Resolution, error)
}

// Auditor is pure: the same order and rate table give the same result.
type Auditor struct {
	resolver Resolver
}

// NewAuditor creates an auditor.
func NewAuditor(resolver Resolver) *Auditor {
	return &Auditor{resolver: resolver}
}

// Audit classifies o. validated tells whether the buyer's VAT number has a
// current valid VIES record. An order that cannot be resolved fails with
// vat.ErrUnsupportedJurisdiction and a result carrying that classification.
func (a *Auditor) Audit(o order.Order, validated bool) (Result, error) {
	res, err := a.resolver.Resolve(vat.Query{
		Destination:        o.DestinationCountry,
		BuyerType:          o.BuyerType,
		VATNumberValidated: validated && o.VATNumber != "",
		At:                 o.OrderedAt,
	})
	if err != nil {
		if errors.Is(err, vat.ErrUnsupportedJurisdiction) {
			return Result{Discrepancy: order.DiscrepancyUnsupportedJurisdiction}, err
		}
		return Result{}, err
	}

	expectedTax := o.Subtotal.Mul(res.Rate).Div(hundred)
	out := Result{
		ExpectedRate: res.Rate,
		Treatment:    res.Treatment,
		Difference:   o.TaxAmount.Sub(expectedTax).Round(2),
		Rule:         res.Rule,
	}

	switch {
	case o.TaxAmount.Abs().LessThanOrEqual(Tolerance) && res.Rate.IsPositive():
		out.Discrepancy = order.DiscrepancyVATMissing
	case res.Treatment == vat.TreatmentReverseCharge && o.TaxAmount.GreaterThan(Tolerance):
		out.Discrepancy = order.DiscrepancyB2BVATCharged
	case o.AppliedRate.Sub(res.Rate).Abs().GreaterThan(Tolerance):
		out.Discrepancy = order.DiscrepancyRateMismatch
	}
	return out, nil
}
