package export

import (
	"bytes"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/xuri/excelize/v2"
)

const (
	summarySheet = "summary"
	linesSheet   = "lines"
)

// RenderXLSX renders the report as a workbook with a summary sheet and a
// lines sheet. Amounts are written as numbers rounded to 2 decimals.
func RenderXLSX(d Document) ([]byte, error) {
	r := d.Report
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, errors.Wrap(err, "rename sheet")
	}
	if _, err := f.NewSheet(linesSheet); err != nil {
		return nil, errors.Wrap(err, "add sheet")
	}

	summary := [][2]any{
		{"OSS VAT return", r.Period().String()},
		{"Shop", d.Shop.Name},
		{"Home country", d.Shop.HomeCountry},
		{"Status", string(r.Status)},
		{"Generated", generatedAt(r)},
		{"Total taxable EUR", r.TotalSales.InexactFloat64()},
		{"Total VAT EUR", r.TotalVAT.InexactFloat64()},
		{"Orders", r.TotalOrders},
		{"Reverse-charge orders", r.ExemptOrders},
		{"Countries", r.CountriesCount},
	}
	for i, kv := range summary {
		row := i + 1
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), kv[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), kv[1])
	}

	for col, title := range csvHeader {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		_ = f.SetCellValue(linesSheet, cell, title)
	}
	for i, l := range r.Lines {
		row := i + 2
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("A%d", row), l.CountryCode)
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("B%d", row), l.CountryName)
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("C%d", row), l.Rate.InexactFloat64())
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("D%d", row), l.TaxableAmount.InexactFloat64())
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("E%d", row), l.VATAmount.InexactFloat64())
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("F%d", row), l.OrderCount)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, errors.Wrap(err, "render xlsx")
	}
	return buf.Bytes(), nil
}
