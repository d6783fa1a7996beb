package vat

import (
	"regexp"
	"strings"

	"github.com/go-faster/errors"
)

// VATNumber is a normalized EU VAT number split into its VIES prefix and
// national part.
type VATNumber struct {
	Prefix   string // VIES prefix, EL for Greece
	Number   string // national part
	Country  string // ISO 3166-1 alpha-2, GR for Greece
	Complete string // Prefix + Number
}

func (n VATNumber) String() string { return n.Complete }

// vatPatterns holds the national part format per VIES prefix.
var vatPatterns = map[string]*regexp.Regexp{
	"AT": regexp.MustCompile(`^U[0-9]{8}$`),
	"BE": regexp.MustCompile(`^[01][0-9]{9}$`),
	"BG": regexp.MustCompile(`^[0-9]{9,10}$`),
	"CY": regexp.MustCompile(`^[0-9]{8}[A-Z]$`),
	"CZ": regexp.MustCompile(`^[0-9]{8,10}$`),
	"DE": regexp.MustCompile(`^[0-9]{9}$`),
	"DK": regexp.MustCompile(`^[0-9]{8}$`),
	"EE": regexp.MustCompile(`^[0-9]{9}$`),
	"EL": regexp.MustCompile(`^[0-9]{9}$`),
	"ES": regexp.MustCompile(`^[A-Z0-9][0-9]{7}[A-Z0-9]$`),
	"FI": regexp.MustCompile(`^[0-9]{8}$`),
	"FR": regexp.MustCompile(`^[A-HJ-NP-Z0-9]{2}[0-9]{9}$`),
	"HR": regexp.MustCompile(`^[0-9]{11}$`),
	"HU": regexp.MustCompile(`^[0-9]{8}$`),
	"IE": regexp.MustCompile(`^([0-9]{7}[A-Z]{1,2}|[0-9][A-Z][0-9]{5}[A-Z])$`),
	"IT": regexp.MustCompile(`^[0-9]{11}$`),
	"LT": regexp.MustCompile(`^([0-9]{9}|[0-9]{12})$`),
	"LU": regexp.MustCompile(`^[0-9]{8}$`),
	"LV": regexp.MustCompile(`^[0-9]{11}$`),
	"MT": regexp.MustCompile(`^[0-9]{8}$`),
	"NL": regexp.MustCompile(`^[0-9]{9}B[0-9]{2}$`),
	"PL": regexp.MustCompile(`^[0-9]{10}$`),
	"PT": regexp.MustCompile(`^[0-9]{9}$`),
	"RO": regexp.MustCompile(`^[1-9][0-9]{1,9}$`),
	"SE": regexp.MustCompile(`^[0-9]{10}01$`),
	"SI": regexp.MustCompile(`^[0-9]{8}$`),
	"SK": regexp.MustCompile(`^[0-9]{10}$`),
	"XI": regexp.MustCompile(`^([0-9]{9}|[0-9]{12}|GD[0-9]{3}|HA[0-9]{3})$`),
}

// prefixToISO maps VIES prefixes that differ from the ISO country code.
var prefixToISO = map[string]string{"EL": "GR"}

// sanitizeVATNumber uppercases and drops every character that is not a
// letter or a digit.
func sanitizeVATNumber(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeVATNumber cleans a user supplied VAT number and checks it against
// the national format of its country prefix. GR is accepted as an alias of
// EL. Failures wrap ErrInvalidFormat.
func NormalizeVATNumber(raw string) (VATNumber, error) {
	cleaned := sanitizeVATNumber(raw)
	if len(cleaned) < 4 {
		return VATNumber{}, errors.Wrapf(ErrInvalidFormat, "%q is too short", raw)
	}

	prefix, number := cleaned[:2], cleaned[2:]
	if prefix == "GR" {
		prefix = "EL"
	}
	pattern, ok := vatPatterns[prefix]
	if !ok {
		return VATNumber{}, errors.Wrapf(ErrInvalidFormat, "unknown country prefix %q", prefix)
	}
	if !pattern.MatchString(number) {
		return VATNumber{}, errors.Wrapf(ErrInvalidFormat, "%s number does not match the national format", prefix)
	}

	country := prefix
	if iso, ok := prefixToISO[prefix]; ok {
		country = iso
	}
	return VATNumber{
		Prefix:   prefix,
		Number:   number,
		Country:  country,
		Complete: prefix + number,
	}, nil
}
