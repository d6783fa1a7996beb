package archive_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/euvatease/api/internal/archive"
	"github.com/euvatease/api/internal/export"
	"github.com/euvatease/api/internal/services/report"
	"github.com/euvatease/api/internal/services/shop"
	"github.com/euvatease/api/internal/storage/memory"
)

func submitted(shopID uuid.UUID) report.Report {
	now := time.Date(2024, 7, 10, 0, 0, 0, 0, time.UTC)
	return report.Report{
		ID:          uuid.New(),
		ShopID:      shopID,
		Year:        2024,
		Quarter:     2,
		Status:      report.StatusSubmitted,
		GeneratedAt: &now,
		SubmittedAt: &now,
		Lines: []report.Line{{
			CountryCode: "FR", CountryName: "France", Rate: decimal.NewFromInt(20),
			TaxableAmount: decimal.NewFromInt(100), VATAmount: decimal.NewFromInt(20), OrderCount: 1,
		}},
		TotalSales:  decimal.NewFromInt(100),
		TotalVAT:    decimal.NewFromInt(20),
		TotalOrders: 1,
	}
}

func TestArchiver_Archive(t *testing.T) {
	dir := t.TempDir()
	sh := shop.Shop{ID: uuid.New(), Name: "Acme", HomeCountry: "DE"}
	a := archive.New(archive.NewLocal(dir, "/archive"), memory.NewShopRepository(sh), 0, nil)
	r := submitted(sh.ID)

	keys, err := a.Archive(context.Background(), r)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, archive.Key(r, export.FormatCSV), keys[0])

	csv, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(keys[0])))
	require.NoError(t, err)
	assert.Contains(t, string(csv), "FR,France,20.00,100.00,20.00,1")

	pdf, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(keys[1])))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(pdf), "%PDF-"))

	links, err := a.Links(context.Background(), r)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "/archive/"+keys[1], links[1].URL)
}

// flakyStore fails every Put after the first.
type flakyStore struct {
	puts    int
	deleted []string
}

func (s *flakyStore) Put(_ context.Context, key string, _ io.Reader, _ string) (string, error) {
	s.puts++
	if s.puts > 1 {
		return "", errors.New("quota exceeded")
	}
	return key, nil
}

func (s *flakyStore) Delete(_ context.Context, key string) error {
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *flakyStore) URL(_ context.Context, key string, _ time.Duration) (string, error) {
	return key, nil
}

func TestArchiver_Archive_RemovesPartialFiles(t *testing.T) {
	sh := shop.Shop{ID: uuid.New(), Name: "Acme", HomeCountry: "DE"}
	store := &flakyStore{}
	a := archive.New(store, memory.NewShopRepository(sh), time.Minute, nil)
	r := submitted(sh.ID)

	_, err := a.Archive(context.Background(), r)
	require.Error(t, err)
	assert.Equal(t, []string{archive.Key(r, export.FormatCSV)}, store.deleted)
}

func TestArchiver_Links_RequiresSubmitted(t *testing.T) {
	sh := shop.Shop{ID: uuid.New(), Name: "Acme", HomeCountry: "DE"}
	a := archive.New(&flakyStore{}, memory.NewShopRepository(sh), time.Minute, nil)
	r := submitted(sh.ID)
	r.Status = report.StatusGenerated

	_, err := a.Links(context.Background(), r)
	require.ErrorIs(t, err, report.ErrNotFound)
}
