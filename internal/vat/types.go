package vat

import (
	"time"

	"github.com/shopspring/decimal"
)

// BuyerType classifies the customer of an order.
type BuyerType string

const (
	BuyerB2B BuyerType = "B2B"
	BuyerB2C BuyerType = "B2C"
)

// Valid reports whether t is a known buyer type.
func (t BuyerType) Valid() bool {
	return t == BuyerB2B || t == BuyerB2C
}

// Treatment is the tax treatment the resolver expects for an order.
type Treatment string

const (
	TreatmentStandard      Treatment = "STANDARD"
	TreatmentReverseCharge Treatment = "REVERSE_CHARGE"
	TreatmentExempt        Treatment = "EXEMPT"
)

// Known EU VAT rate types.
const (
	RateTypeStandard     = "standard"
	RateTypeReduced      = "reduced"
	RateTypeSuperReduced = "super_reduced"
	RateTypeParking      = "parking"
	RateTypeZero         = "zero"
)

// Rate table source identifiers.
const (
	SourceDatabase = "database"
	SourceFile     = "file"
	SourceEmbedded = "embedded"
)

// VATRate is one effective-dated rate of a country. ValidTo is exclusive;
// nil means the rate is still in force.
type VATRate struct {
	CountryCode string
	CountryName string
	RateType    string
	Rate        decimal.Decimal
	ValidFrom   time.Time
	ValidTo     *time.Time
	Source      string
}

// ActiveAt reports whether the rate is in force at t.
func (r VATRate) ActiveAt(t time.Time) bool {
	if t.Before(r.ValidFrom) {
		return false
	}
	return r.ValidTo == nil || t.Before(*r.ValidTo)
}

// CountryRate is the rate of a country at a given point in time.
type CountryRate struct {
	CountryCode string          `json:"countryCode"`
	CountryName string          `json:"countryName"`
	Rate        decimal.Decimal `json:"rate"`
	ValidFrom   time.Time       `json:"validFrom"`
}

// SyncResult holds the outcome of a rate table sync.
type SyncResult struct {
	Source       string
	RatesLoaded  int
	RatesChanged int
	SyncedAt     time.Time
	Error        error
}

// RateChange describes a rate that differs between two loads.
type RateChange struct {
	CountryCode string
	RateType    string
	ValidFrom   time.Time
	OldRate     decimal.Decimal
	NewRate     decimal.Decimal
}

// VIESResult holds a definitive VIES answer.
type VIESResult struct {
	Valid          bool
	CompanyName    string
	CompanyAddress string
	CountryCode    string
	VATNumber      string
	RequestDate    string
}
