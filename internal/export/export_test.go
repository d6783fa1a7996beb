package export_test

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/euvatease/api/internal/export"
	"github.com/euvatease/api/internal/services/report"
	"github.com/euvatease/api/internal/services/shop"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func document() export.Document {
	generated := time.Date(2024, 7, 2, 10, 30, 0, 0, time.UTC)
	return export.Document{
		Shop: shop.Shop{ID: uuid.New(), Name: "Acme GmbH", HomeCountry: "DE"},
		Report: report.Report{
			ID:          uuid.New(),
			Year:        2024,
			Quarter:     2,
			Status:      report.StatusGenerated,
			GeneratedAt: &generated,
			Lines: []report.Line{
				{CountryCode: "FR", CountryName: "France", Rate: d("20"), TaxableAmount: d("150"), VATAmount: d("30"), OrderCount: 2},
				{CountryCode: "IT", CountryName: "Italy", Rate: d("22"), TaxableAmount: d("49.99"), VATAmount: d("11"), OrderCount: 1},
			},
			TotalSales:     d("199.99"),
			TotalVAT:       d("41"),
			TotalOrders:    3,
			CountriesCount: 2,
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, export.WriteCSV(&buf, document()))

	r := csv.NewReader(&buf)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 8)
	assert.Equal(t, "country_code", rows[0][0])
	assert.Equal(t, []string{"FR", "France", "20.00", "150.00", "30.00", "2"}, rows[1])
	assert.Equal(t, []string{"IT", "Italy", "22.00", "49.99", "11.00", "1"}, rows[2])
	assert.Equal(t, []string{"TOTAL", "", "", "199.99", "41.00", "3"}, rows[3])
	// The blank separator row is skipped by the reader.
	assert.Equal(t, []string{"period", "2024-Q2"}, rows[4])
	assert.Equal(t, []string{"generated_at", "2024-07-02T10:30:00Z"}, rows[5])
	assert.Equal(t, []string{"shop", "Acme GmbH"}, rows[6])
	assert.Equal(t, []string{"home_country", "DE"}, rows[7])
}

func TestWriteCSV_BlankSeparator(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, export.WriteCSV(&buf, document()))
	assert.Contains(t, buf.String(), "TOTAL,,,199.99,41.00,3\n\nperiod,2024-Q2\n")
}

func TestRenderPDF(t *testing.T) {
	out, err := export.RenderPDF(document())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
}

func TestRenderXLSX(t *testing.T) {
	out, err := export.RenderXLSX(document())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer f.Close()

	period, err := f.GetCellValue("summary", "B1")
	require.NoError(t, err)
	assert.Equal(t, "2024-Q2", period)

	rows, err := f.GetRows("lines")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "FR", rows[1][0])
	assert.Equal(t, "30", rows[1][4])
}

func TestRender(t *testing.T) {
	doc := document()
	for _, f := range []export.Format{export.FormatCSV, export.FormatPDF, export.FormatXLSX} {
		out, err := export.Render(f, doc)
		require.NoError(t, err, f)
		assert.NotEmpty(t, out, f)
		assert.True(t, strings.HasSuffix(doc.Filename(f), "."+string(f)))
	}

	_, err := export.Render("docx", doc)
	require.ErrorIs(t, err, export.ErrUnknownFormat)
}
