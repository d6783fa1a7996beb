package report_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/euvatease/api/internal/services/order"
	"github.com/euvatease/api/internal/services/report"
	"github.com/euvatease/api/internal/vat"
)

type names map[string]string

func (n names) CountryName(code string) string {
	if name, ok := n[code]; ok {
		return name
	}
	return code
}

var countryNames = names{"FR": "France", "IT": "Italy", "AT": "Austria"}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func audited(shopID uuid.UUID, dest string, subtotal, tax, rate string, at time.Time) order.Order {
	expected := d(rate)
	auditedAt := at
	return order.Order{
		ID:                 uuid.New(),
		ShopID:             shopID,
		DestinationCountry: dest,
		BuyerType:          vat.BuyerB2C,
		Currency:           "EUR",
		Subtotal:           d(subtotal),
		TaxAmount:          d(tax),
		TotalAmount:        d(subtotal).Add(d(tax)),
		AppliedRate:        d(rate),
		OrderedAt:          at,
		ExpectedRate:       &expected,
		Treatment:          vat.TreatmentStandard,
		Discrepancy:        order.DiscrepancyNone,
		AuditedAt:          &auditedAt,
	}
}

func TestAggregate_GroupsByCountryAndRate(t *testing.T) {
	shopID := uuid.New()
	at := time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC)

	reverse := audited(shopID, "IT", "500.00", "0.00", "22", at)
	reverse.BuyerType = vat.BuyerB2B
	reverse.Treatment = vat.TreatmentReverseCharge
	reverse.ExpectedRate = nil

	orders := []order.Order{
		audited(shopID, "IT", "100.00", "22.00", "22", at),
		audited(shopID, "FR", "100.00", "20.00", "20", at),
		audited(shopID, "FR", "50.00", "10.00", "20", at),
		audited(shopID, "FR", "10.00", "0.55", "5.5", at),
		audited(shopID, "DE", "100.00", "19.00", "19", at), // domestic
		reverse,
	}

	lines, exempt, err := report.Aggregate(orders, "DE", countryNames)
	require.NoError(t, err)
	assert.Equal(t, 1, exempt)
	require.Len(t, lines, 3)

	assert.Equal(t, "FR", lines[0].CountryCode)
	assert.Equal(t, "France", lines[0].CountryName)
	assert.Equal(t, "5.50", lines[0].Rate.StringFixed(2))
	assert.Equal(t, "10.00", lines[0].TaxableAmount.StringFixed(2))
	assert.Equal(t, 1, lines[0].OrderCount)

	assert.Equal(t, "FR", lines[1].CountryCode)
	assert.Equal(t, "20.00", lines[1].Rate.StringFixed(2))
	assert.Equal(t, "150.00", lines[1].TaxableAmount.StringFixed(2))
	assert.Equal(t, "30.00", lines[1].VATAmount.StringFixed(2))
	assert.Equal(t, 2, lines[1].OrderCount)

	assert.Equal(t, "IT", lines[2].CountryCode)
	assert.Equal(t, "22.00", lines[2].VATAmount.StringFixed(2))
}

func TestAggregate_ConvertsForeignCurrency(t *testing.T) {
	shopID := uuid.New()
	at := time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC)
	o := audited(shopID, "AT", "220.00", "44.00", "20", at)
	o.Currency = "CHF"
	eur := d("200.00")
	o.SubtotalEUR = &eur

	lines, _, err := report.Aggregate([]order.Order{o}, "DE", countryNames)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "200.00", lines[0].TaxableAmount.StringFixed(2))
	assert.Equal(t, "40.00", lines[0].VATAmount.StringFixed(2))
}

func TestAggregate_MissingEURSubtotal(t *testing.T) {
	o := audited(uuid.New(), "AT", "220.00", "44.00", "20", time.Now())
	o.Currency = "USD"

	_, _, err := report.Aggregate([]order.Order{o}, "DE", countryNames)
	require.ErrorIs(t, err, order.ErrInvalid)
}

func TestAggregate_Deterministic(t *testing.T) {
	shopID := uuid.New()
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	var orders []order.Order
	for i := range 30 {
		dest := []string{"FR", "IT", "AT"}[i%3]
		orders = append(orders, audited(shopID, dest, "33.33", "6.67", "20", at.Add(time.Duration(i)*time.Minute)))
	}

	first, _, err := report.Aggregate(orders, "DE", countryNames)
	require.NoError(t, err)
	for range 5 {
		// Reverse the input: the lines must not depend on order.
		for i, j := 0, len(orders)-1; i < j; i, j = i+1, j-1 {
			orders[i], orders[j] = orders[j], orders[i]
		}
		again, _, err := report.Aggregate(orders, "DE", countryNames)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestPeriod(t *testing.T) {
	_, err := report.NewPeriod(2024, 5)
	require.ErrorIs(t, err, report.ErrInvalidPeriod)
	_, err = report.NewPeriod(2020, 4)
	require.ErrorIs(t, err, report.ErrInvalidPeriod)

	p, err := report.NewPeriod(2024, 4)
	require.NoError(t, err)
	assert.Equal(t, "2024-Q4", p.String())
	assert.Equal(t, time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC), p.Start())
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), p.End())
	assert.Equal(t, time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC), p.Deadline(20))
	assert.Equal(t, report.Period{Year: 2024, Quarter: 3}, p.Prev())
	assert.Equal(t, report.Period{Year: 2023, Quarter: 4}, report.Period{Year: 2024, Quarter: 1}.Prev())
	assert.Equal(t, report.Period{Year: 2024, Quarter: 2}, report.PeriodOf(time.Date(2024, 6, 30, 23, 59, 0, 0, time.UTC)))
}
