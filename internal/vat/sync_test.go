package vat

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRateStore struct {
	mu       sync.Mutex
	rates    []VATRate
	loadErr  error
	replaced int
}

func (s *memRateStore) LoadRates(context.Context) ([]VATRate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return append([]VATRate(nil), s.rates...), nil
}

func (s *memRateStore) ReplaceRates(_ context.Context, rates []VATRate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates = append([]VATRate(nil), rates...)
	s.replaced++
	return nil
}

func TestRateSyncer_Embedded(t *testing.T) {
	store := &memRateStore{}
	resolver := NewResolver(NewRateTable())
	syncer := NewRateSyncer(store, "", resolver, nil)

	res := syncer.Sync(context.Background())
	require.NoError(t, res.Error)
	assert.Equal(t, SourceEmbedded, res.Source)
	assert.Positive(t, res.RatesLoaded)
	assert.Equal(t, res.RatesLoaded, res.RatesChanged)
	assert.Equal(t, 1, store.replaced)
	assert.Equal(t, 27, resolver.Table().CountryCount())

	// A second sync sees no change and does not rewrite the store.
	res = syncer.Sync(context.Background())
	require.NoError(t, res.Error)
	assert.Zero(t, res.RatesChanged)
	assert.Equal(t, 1, store.replaced)
}

func TestRateSyncer_FileWithOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
countries:
  - code: FR
    name: France
    rates:
      - {rate: "20", from: 2014-01-01}
overrides:
  - {name: test, country: FR, treatment: EXEMPT, rate: "0", from: 2024-01-01}
`), 0o600))

	resolver := NewResolver(NewRateTable())
	res := NewRateSyncer(nil, path, resolver, nil).Sync(context.Background())
	require.NoError(t, res.Error)
	assert.Equal(t, SourceFile, res.Source)

	out, err := resolver.Resolve(Query{Destination: "FR", BuyerType: BuyerB2C, At: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, TreatmentExempt, out.Treatment)
}

func TestRateSyncer_FallsBackToStore(t *testing.T) {
	store := &memRateStore{rates: []VATRate{
		{CountryCode: "IT", RateType: RateTypeStandard, Rate: decimal.NewFromInt(22), ValidFrom: time.Date(2013, 10, 1, 0, 0, 0, 0, time.UTC)},
	}}
	resolver := NewResolver(NewRateTable())

	res := NewRateSyncer(store, "/nonexistent/rates.yaml", resolver, nil).Sync(context.Background())
	require.NoError(t, res.Error)
	assert.Equal(t, SourceDatabase, res.Source)
	assert.True(t, resolver.Table().Supports("IT"))
}

func TestRateSyncer_AllSourcesFail(t *testing.T) {
	store := &memRateStore{loadErr: errors.New("db down")}
	res := NewRateSyncer(store, "/nonexistent/rates.yaml", NewResolver(NewRateTable()), nil).Sync(context.Background())
	assert.Error(t, res.Error)
}

func TestDetectChanges(t *testing.T) {
	from := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	old := []VATRate{
		{CountryCode: "DE", RateType: RateTypeStandard, Rate: decimal.NewFromInt(19), ValidFrom: from},
		{CountryCode: "FR", RateType: RateTypeStandard, Rate: decimal.NewFromInt(20), ValidFrom: from},
	}
	fresh := []VATRate{
		{CountryCode: "DE", RateType: RateTypeStandard, Rate: decimal.RequireFromString("19.00"), ValidFrom: from},
		{CountryCode: "FR", RateType: RateTypeStandard, Rate: decimal.NewFromInt(21), ValidFrom: from},
		{CountryCode: "IT", RateType: RateTypeStandard, Rate: decimal.NewFromInt(22), ValidFrom: from},
	}

	changes := detectChanges(old, fresh)
	require.Len(t, changes, 2)
	assert.Equal(t, "FR", changes[0].CountryCode)
	assert.True(t, decimal.NewFromInt(20).Equal(changes[0].OldRate))
	assert.Equal(t, "IT", changes[1].CountryCode)
	assert.True(t, changes[1].OldRate.IsZero())
}
