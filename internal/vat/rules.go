package vat

import (
	"time"

	"github.com/shopspring/decimal"
)

// Query holds the order attributes the resolver needs.
type Query struct {
	Destination        string
	BuyerType          BuyerType
	VATNumberValidated bool
	At                 time.Time
}

// Resolution is the expected rate and treatment of an order.
type Resolution struct {
	Rate      decimal.Decimal
	Treatment Treatment
	Rule      string
}

// Rule is one step of the resolution chain. A rule that does not apply
// returns ok=false and the next rule is tried.
type Rule interface {
	Name() string
	Apply(q Query, table *RateTable) (res Resolution, ok bool)
}

// ReverseChargeRule zero-rates B2B orders whose VAT number has a current
// valid VIES record.
type ReverseChargeRule struct{}

func (ReverseChargeRule) Name() string { return "reverse_charge" }

func (r ReverseChargeRule) Apply(q Query, _ *RateTable) (Resolution, bool) {
	if q.BuyerType != BuyerB2B || !q.VATNumberValidated {
		return Resolution{}, false
	}
	return Resolution{Rate: decimal.Zero, Treatment: TreatmentReverseCharge, Rule: r.Name()}, true
}

// StandardRateRule applies the destination standard rate in force at the order date.
type StandardRateRule struct{}

func (StandardRateRule) Name() string { return "standard_rate" }

func (r StandardRateRule) Apply(q Query, table *RateTable) (Resolution, bool) {
	rate, ok := table.RateAt(q.Destination, RateTypeStandard, q.At)
	if !ok {
		return Resolution{}, false
	}
	return Resolution{Rate: rate, Treatment: TreatmentStandard, Rule: r.Name()}, true
}

// Override pins the rate and treatment of a country for a date range,
// optionally only for one buyer type.
type Override struct {
	Label     string
	Country   string
	Buyer     BuyerType
	Treatment Treatment
	Rate      decimal.Decimal
	From      time.Time
	To        *time.Time
}

func (o Override) Name() string { return "override:" + o.Label }

func (o Override) Apply(q Query, _ *RateTable) (Resolution, bool) {
	if q.Destination != o.Country {
		return Resolution{}, false
	}
	if o.Buyer != "" && o.Buyer != q.BuyerType {
		return Resolution{}, false
	}
	if q.At.Before(o.From) || (o.To != nil && !q.At.Before(*o.To)) {
		return Resolution{}, false
	}
	return Resolution{Rate: o.Rate, Treatment: o.Treatment, Rule: o.Name()}, true
}
