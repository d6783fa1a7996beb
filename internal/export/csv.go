package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/go-faster/errors"
)

var csvHeader = []string{
	"country_code", "country_name", "vat_rate", "taxable_amount_eur", "vat_amount_eur", "order_count",
}

// WriteCSV writes one row per report line followed by a TOTAL row, a blank
// row and the period, generation time and shop.
func WriteCSV(w io.Writer, d Document) error {
	r := d.Report
	cw := csv.NewWriter(w)

	rows := [][]string{csvHeader}
	for _, l := range r.Lines {
		rows = append(rows, []string{
			l.CountryCode,
			l.CountryName,
			l.Rate.StringFixed(2),
			l.TaxableAmount.StringFixed(2),
			l.VATAmount.StringFixed(2),
			strconv.Itoa(l.OrderCount),
		})
	}
	rows = append(rows,
		[]string{"TOTAL", "", "", r.TotalSales.StringFixed(2), r.TotalVAT.StringFixed(2), strconv.Itoa(r.TotalOrders)},
		[]string{},
		[]string{"period", r.Period().String()},
		[]string{"generated_at", generatedAt(r)},
		[]string{"shop", d.Shop.Name},
		[]string{"home_country", d.Shop.HomeCountry},
	)

	if err := cw.WriteAll(rows); err != nil {
		return errors.Wrap(err, "write csv")
	}
	return nil
}
