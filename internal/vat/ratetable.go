package vat

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// RateTable is a thread-safe, effective-dated table of VAT rates. Historical
// rates are kept so an order is always resolved against the rate in force at
// its order date. Reads take a read lock; Load swaps the whole table.
type RateTable struct {
	mu       sync.RWMutex
	rates    map[string][]VATRate // country_code -> rates, newest ValidFrom first
	names    map[string]string
	loadedAt time.Time
}

// NewRateTable creates an empty RateTable.
func NewRateTable() *RateTable {
	return &RateTable{
		rates: make(map[string][]VATRate),
		names: make(map[string]string),
	}
}

// Load replaces the table with the given rates.
func (t *RateTable) Load(rates []VATRate) {
	newRates := make(map[string][]VATRate, 30)
	newNames := make(map[string]string, 30)

	for _, r := range rates {
		newRates[r.CountryCode] = append(newRates[r.CountryCode], r)
		if r.CountryName != "" {
			newNames[r.CountryCode] = r.CountryName
		}
	}
	for code := range newRates {
		list := newRates[code]
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].ValidFrom.After(list[j].ValidFrom)
		})
	}

	t.mu.Lock()
	t.rates = newRates
	t.names = newNames
	t.loadedAt = time.Now().UTC()
	t.mu.Unlock()
}

// RateAt returns the rate of the given type in force in a country at the given time.
func (t *RateTable) RateAt(countryCode, rateType string, at time.Time) (decimal.Decimal, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, r := range t.rates[countryCode] {
		if r.RateType == rateType && r.ActiveAt(at) {
			return r.Rate, true
		}
	}
	return decimal.Zero, false
}

// Supports reports whether the country has any rate in the table.
func (t *RateTable) Supports(countryCode string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.rates[countryCode]
	return ok
}

// CountryName returns the display name of a country, or the code itself.
func (t *RateTable) CountryName(countryCode string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if name, ok := t.names[countryCode]; ok {
		return name
	}
	return countryCode
}

// StandardRatesAt returns the standard rate of every country at the given
// time, ordered by country code.
func (t *RateTable) StandardRatesAt(at time.Time) []CountryRate {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]CountryRate, 0, len(t.rates))
	for code, list := range t.rates {
		for _, r := range list {
			if r.RateType == RateTypeStandard && r.ActiveAt(at) {
				out = append(out, CountryRate{
					CountryCode: code,
					CountryName: t.names[code],
					Rate:        r.Rate,
					ValidFrom:   r.ValidFrom,
				})
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CountryCode < out[j].CountryCode })
	return out
}

// All returns a copy of every rate in the table.
func (t *RateTable) All() []VATRate {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []VATRate
	for _, list := range t.rates {
		out = append(out, list...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CountryCode != out[j].CountryCode {
			return out[i].CountryCode < out[j].CountryCode
		}
		if out[i].RateType != out[j].RateType {
			return out[i].RateType < out[j].RateType
		}
		return out[i].ValidFrom.Before(out[j].ValidFrom)
	})
	return out
}

// CountryCount returns the number of countries in the table.
func (t *RateTable) CountryCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rates)
}

// RateCount returns the total number of rate versions in the table.
func (t *RateTable) RateCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	for _, list := range t.rates {
		count += len(list)
	}
	return count
}

// LoadedAt returns when the table was last loaded.
func (t *RateTable) LoadedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.loadedAt
}
