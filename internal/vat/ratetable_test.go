package vat

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateTable_Empty(t *testing.T) {
	table := NewRateTable()

	_, ok := table.RateAt("DE", RateTypeStandard, time.Now())
	assert.False(t, ok)
	assert.False(t, table.Supports("DE"))
	assert.Equal(t, 0, table.CountryCount())
	assert.Equal(t, "DE", table.CountryName("DE"))
}

func TestRateTable_EffectiveDating(t *testing.T) {
	cut := date(2020, time.July, 1)
	back := date(2021, time.January, 1)
	table := NewRateTable()
	table.Load([]VATRate{
		{CountryCode: "DE", CountryName: "Germany", RateType: RateTypeStandard, Rate: decimal.NewFromInt(19), ValidFrom: date(2007, time.January, 1), ValidTo: &cut},
		{CountryCode: "DE", CountryName: "Germany", RateType: RateTypeStandard, Rate: decimal.NewFromInt(16), ValidFrom: cut, ValidTo: &back},
		{CountryCode: "DE", CountryName: "Germany", RateType: RateTypeStandard, Rate: decimal.NewFromInt(19), ValidFrom: back},
		{CountryCode: "DE", CountryName: "Germany", RateType: RateTypeReduced, Rate: decimal.NewFromInt(7), ValidFrom: date(2007, time.January, 1)},
	})

	rate, ok := table.RateAt("DE", RateTypeStandard, cut)
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(16).Equal(rate))

	// ValidTo is exclusive.
	rate, ok = table.RateAt("DE", RateTypeStandard, back.Add(-time.Nanosecond))
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(16).Equal(rate))

	rate, ok = table.RateAt("DE", RateTypeReduced, back)
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(7).Equal(rate))

	assert.Equal(t, "Germany", table.CountryName("DE"))
	assert.Equal(t, 1, table.CountryCount())
	assert.Equal(t, 4, table.RateCount())
	assert.Len(t, table.All(), 4)
}

func TestRateTable_StandardRatesAt(t *testing.T) {
	set, err := EmbeddedRuleSet()
	require.NoError(t, err)
	table := NewRateTable()
	table.Load(set.Rates)

	rates := table.StandardRatesAt(date(2024, time.October, 1))
	require.Len(t, rates, 27)
	assert.Equal(t, "AT", rates[0].CountryCode)
	for i := 1; i < len(rates); i++ {
		assert.Less(t, rates[i-1].CountryCode, rates[i].CountryCode)
	}
}

func TestRateTable_LoadReplaces(t *testing.T) {
	table := NewRateTable()
	table.Load([]VATRate{{CountryCode: "FR", RateType: RateTypeStandard, Rate: decimal.NewFromInt(20), ValidFrom: date(2014, time.January, 1)}})
	table.Load([]VATRate{{CountryCode: "IT", RateType: RateTypeStandard, Rate: decimal.NewFromInt(22), ValidFrom: date(2013, time.October, 1)}})

	assert.False(t, table.Supports("FR"))
	assert.True(t, table.Supports("IT"))
	assert.False(t, table.LoadedAt().IsZero())
}

func TestRateTable_ConcurrentAccess(t *testing.T) {
	set, err := EmbeddedRuleSet()
	require.NoError(t, err)
	table := NewRateTable()
	table.Load(set.Rates)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%10 == 0 {
				table.Load(set.Rates)
				return
			}
			_, _ = table.RateAt("DE", RateTypeStandard, time.Now())
			_ = table.StandardRatesAt(time.Now())
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 27, table.CountryCount())
}
