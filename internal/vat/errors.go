package vat

import "github.com/go-faster/errors"

var (
	// ErrUnsupportedJurisdiction is returned when the rate table has no entry
	// for the destination country at the order date.
	ErrUnsupportedJurisdiction = errors.New("unsupported jurisdiction")
	// ErrInvalidFormat is returned for a malformed VAT number. No external
	// call is made.
	ErrInvalidFormat = errors.New("invalid VAT number format")
	// ErrVIESUnavailable marks a transient VIES failure that may be retried.
	ErrVIESUnavailable = errors.New("VIES service unavailable")
)
