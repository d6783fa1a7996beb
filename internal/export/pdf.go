package export

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/jung-kurt/gofpdf"
)

var pdfColumns = []struct {
	title string
	width float64
	align string
}{
	{"Country", 20, "C"},
	{"Name", 45, "L"},
	{"Rate %", 20, "R"},
	{"Taxable EUR", 35, "R"},
	{"VAT EUR", 35, "R"},
	{"Orders", 25, "R"},
}

// RenderPDF renders the report as a one-table A4 document.
func RenderPDF(d Document) ([]byte, error) {
	r := d.Report
	p := r.Period()

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("OSS return "+p.String(), false)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	pdf.Cell(0, 8, "OSS VAT return")
	pdf.Ln(9)
	pdf.SetFont("Arial", "", 11)
	pdf.Cell(0, 6, p.String())
	pdf.Ln(10)

	pdf.SetFont("Arial", "", 10)
	for _, kv := range [][2]string{
		{"Shop", d.Shop.Name},
		{"Country of establishment", d.Shop.HomeCountry},
		{"Period", fmt.Sprintf("%s to %s", p.Start().Format(time.DateOnly), p.End().AddDate(0, 0, -1).Format(time.DateOnly))},
		{"Status", string(r.Status)},
		{"Generated", generatedAt(r)},
	} {
		pdf.Cell(0, 5, kv[0]+": "+kv[1])
		pdf.Ln(5)
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 10)
	for _, c := range pdfColumns {
		pdf.CellFormat(c.width, 6, c.title, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 10)
	for _, l := range r.Lines {
		cells := []string{
			l.CountryCode,
			l.CountryName,
			l.Rate.StringFixed(2),
			l.TaxableAmount.StringFixed(2),
			l.VATAmount.StringFixed(2),
			strconv.Itoa(l.OrderCount),
		}
		for i, c := range pdfColumns {
			pdf.CellFormat(c.width, 6, cells[i], "1", 0, c.align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	pdf.SetFont("Arial", "B", 10)
	totals := []string{"TOTAL", "", "", r.TotalSales.StringFixed(2), r.TotalVAT.StringFixed(2), strconv.Itoa(r.TotalOrders)}
	for i, c := range pdfColumns {
		pdf.CellFormat(c.width, 6, totals[i], "1", 0, c.align, false, 0, "")
	}
	pdf.Ln(10)

	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 5, fmt.Sprintf("Countries: %d", r.CountriesCount))
	pdf.Ln(5)
	pdf.Cell(0, 5, fmt.Sprintf("Reverse-charge B2B orders (not declared): %d", r.ExemptOrders))
	pdf.Ln(5)
	pdf.Cell(0, 5, "VAT due: "+r.TotalVAT.StringFixed(2)+" EUR")
	pdf.Ln(5)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, errors.Wrap(err, "render pdf")
	}
	return buf.Bytes(), nil
}
