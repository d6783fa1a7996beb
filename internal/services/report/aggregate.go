package report

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/euvatease/api/internal/services/order"
	"github.com/euvatease/api/internal/vat"
)

// CountryNamer resolves display names of country codes.
type CountryNamer interface {
	CountryName(code string) string
}

type lineKey struct {
	country string
	rate    string
}

// Aggregate groups the OSS eligible orders by destination and expected rate.
// Taxable amounts are EUR subtotals; VAT is what was actually collected,
// converted to EUR with the order's own subtotal ratio. Lines are sorted by
// country code then rate, so the same orders always give the same report.
func Aggregate(orders []order.Order, homeCountry string, names CountryNamer) (lines []Line, exempt int, err error) {
	groups := make(map[lineKey]*Line)

	for _, o := range orders {
		if o.DestinationCountry != homeCountry && o.Treatment == vat.TreatmentReverseCharge {
			exempt++
			continue
		}
		if !o.OSSEligible(homeCountry) || o.ExpectedRate == nil {
			continue
		}

		taxable, err := o.TaxableEUR()
		if err != nil {
			return nil, 0, err
		}
		vatEUR := o.TaxAmount
		if o.Currency != "EUR" && !o.Subtotal.IsZero() {
			vatEUR = o.TaxAmount.Mul(taxable).Div(o.Subtotal)
		}

		key := lineKey{country: o.DestinationCountry, rate: o.ExpectedRate.StringFixed(2)}
		l, ok := groups[key]
		if !ok {
			name := o.DestinationCountry
			if names != nil {
				name = names.CountryName(o.DestinationCountry)
			}
			l = &Line{
				CountryCode:   o.DestinationCountry,
				CountryName:   name,
				Rate:          o.ExpectedRate.Round(2),
				TaxableAmount: decimal.Zero,
				VATAmount:     decimal.Zero,
			}
			groups[key] = l
		}
		l.TaxableAmount = l.TaxableAmount.Add(taxable)
		l.VATAmount = l.VATAmount.Add(vatEUR)
		l.OrderCount++
	}

	lines = make([]Line, 0, len(groups))
	for _, l := range groups {
		l.TaxableAmount = l.TaxableAmount.Round(2)
		l.VATAmount = l.VATAmount.Round(2)
		lines = append(lines, *l)
	}
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].CountryCode != lines[j].CountryCode {
			return lines[i].CountryCode < lines[j].CountryCode
		}
		return lines[i].Rate.LessThan(lines[j].Rate)
	})
	return lines, exempt, nil
}

// applyTotals sets the report totals from its lines.
func applyTotals(r *Report) {
	r.TotalSales = decimal.Zero
	r.TotalVAT = decimal.Zero
	r.TotalOrders = 0
	countries := make(map[string]struct{})
	for _, l := range r.Lines {
		r.TotalSales = r.TotalSales.Add(l.TaxableAmount)
		r.TotalVAT = r.TotalVAT.Add(l.VATAmount)
		r.TotalOrders += l.OrderCount
		countries[l.CountryCode] = struct{}{}
	}
	r.CountriesCount = len(countries)
}
