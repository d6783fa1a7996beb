package report_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/euvatease/api/internal/services/alert"
	"github.com/euvatease/api/internal/services/order"
	"github.com/euvatease/api/internal/services/report"
	"github.com/euvatease/api/internal/services/shop"
	"github.com/euvatease/api/internal/services/threshold"
	"github.com/euvatease/api/internal/shoplock"
	"github.com/euvatease/api/internal/storage/memory"
)

// racingRepository fails the next n updates as if another writer won.
type racingRepository struct {
	*memory.ReportRepository
	mu      sync.Mutex
	failing int
	updates int
}

func (r *racingRepository) Update(ctx context.Context, rep report.Report, expected int) error {
	r.mu.Lock()
	r.updates++
	fail := r.failing > 0
	if fail {
		r.failing--
	}
	r.mu.Unlock()
	if fail {
		return report.ErrConcurrentModification
	}
	return r.ReportRepository.Update(ctx, rep, expected)
}

type unreachableOrders struct{ *memory.OrderRepository }

func (unreachableOrders) ListRange(context.Context, uuid.UUID, time.Time, time.Time) ([]order.Order, error) {
	return nil, errors.New("connection reset")
}

type failingArchiver struct{ calls int }

func (a *failingArchiver) Archive(context.Context, report.Report) ([]string, error) {
	a.calls++
	return nil, errors.New("bucket unreachable")
}

type fixture struct {
	svc     *report.Service
	repo    *racingRepository
	orders  *memory.OrderRepository
	alerts  *alert.Service
	tracker *threshold.Tracker
	shop    shop.Shop
	now     time.Time
}

func newFixture(t *testing.T, opts ...report.Option) *fixture {
	t.Helper()
	f := &fixture{
		repo:   &racingRepository{ReportRepository: memory.NewReportRepository()},
		orders: memory.NewOrderRepository(),
		alerts: alert.NewService(memory.NewAlertRepository(), nil),
		shop:   shop.Shop{ID: uuid.New(), Name: "Acme", HomeCountry: "DE", Active: true, OSSRegistered: true},
		now:    time.Date(2024, 7, 5, 9, 0, 0, 0, time.UTC),
	}
	f.tracker = threshold.NewTracker(memory.NewThresholdRepository(), f.alerts, threshold.DefaultConfig(), nil)
	shops := shop.NewService(memory.NewShopRepository(f.shop), nil)
	opts = append([]report.Option{report.WithClock(func() time.Time { return f.now })}, opts...)
	f.svc = report.NewService(f.repo, f.orders, shops, f.tracker, f.alerts, countryNames, shoplock.NewLocal(), nil, opts...)
	return f
}

func (f *fixture) seed(t *testing.T, dest, subtotal, tax, rate string, at time.Time) {
	t.Helper()
	_, err := f.orders.Save(context.Background(), audited(f.shop.ID, dest, subtotal, tax, rate, at))
	require.NoError(t, err)
}

func TestGenerate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q2 := time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC)
	f.seed(t, "FR", "100.00", "20.00", "20", q2)
	f.seed(t, "FR", "0.01", "0.00", "20", q2)
	f.seed(t, "IT", "49.99", "11.00", "22", q2)
	f.seed(t, "IT", "10.00", "2.20", "22", time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)) // Q3

	r, err := f.svc.Generate(ctx, f.shop.ID, 2024, 2)
	require.NoError(t, err)
	assert.Equal(t, report.StatusGenerated, r.Status)
	assert.Equal(t, 2, r.Version)
	require.NotNil(t, r.GeneratedAt)
	require.Len(t, r.Lines, 2)
	assert.Equal(t, 3, r.TotalOrders)
	assert.Equal(t, 2, r.CountriesCount)
	assert.Equal(t, "150.00", r.TotalSales.StringFixed(2))
	assert.Equal(t, "31.00", r.TotalVAT.StringFixed(2))

	sum := r.Lines[0].VATAmount.Add(r.Lines[1].VATAmount)
	assert.True(t, sum.Equal(r.TotalVAT))

	stored, err := f.svc.Get(ctx, f.shop.ID, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, stored.ID)
	assert.Equal(t, r.Version, stored.Version)
}

func TestGenerate_RegenerateKeepsID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q1 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	f.seed(t, "FR", "100.00", "20.00", "20", q1)

	first, err := f.svc.Generate(ctx, f.shop.ID, 2024, 1)
	require.NoError(t, err)

	f.seed(t, "FR", "100.00", "20.00", "20", q1)
	second, err := f.svc.Generate(ctx, f.shop.ID, 2024, 1)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Version+1, second.Version)
	assert.Equal(t, 2, second.TotalOrders)

	list, err := f.svc.List(ctx, f.shop.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestGenerate_SubmittedIsLocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q1 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	f.seed(t, "FR", "100.00", "20.00", "20", q1)

	r, err := f.svc.Generate(ctx, f.shop.ID, 2024, 1)
	require.NoError(t, err)
	submitted, err := f.svc.Submit(ctx, f.shop.ID, r.ID, "filed via portal")
	require.NoError(t, err)
	assert.Equal(t, report.StatusSubmitted, submitted.Status)
	assert.Equal(t, "filed via portal", submitted.Notes)
	require.NotNil(t, submitted.SubmittedAt)

	f.seed(t, "IT", "100.00", "22.00", "22", q1)
	_, err = f.svc.Generate(ctx, f.shop.ID, 2024, 1)
	require.ErrorIs(t, err, report.ErrReportLocked)

	_, err = f.svc.Submit(ctx, f.shop.ID, r.ID, "again")
	require.ErrorIs(t, err, report.ErrReportLocked)

	stored, err := f.svc.Get(ctx, f.shop.ID, r.ID)
	require.NoError(t, err)
	assert.Equal(t, submitted.Version, stored.Version)
	assert.Equal(t, 1, stored.TotalOrders)
	assert.Equal(t, "filed via portal", stored.Notes)
}

func TestGenerate_RetriesConcurrentModification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "FR", "100.00", "20.00", "20", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))

	f.repo.failing = 1
	r, err := f.svc.Generate(ctx, f.shop.ID, 2024, 1)
	require.NoError(t, err)
	assert.Equal(t, report.StatusGenerated, r.Status)
	assert.Equal(t, 2, f.repo.updates)

	f.repo.failing = 2
	_, err = f.svc.Generate(ctx, f.shop.ID, 2024, 1)
	require.ErrorIs(t, err, report.ErrConcurrentModification)
}

func TestGenerate_FailureStoresNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	shops := shop.NewService(memory.NewShopRepository(f.shop), nil)
	svc := report.NewService(f.repo, unreachableOrders{f.orders}, shops, f.tracker, f.alerts, countryNames, shoplock.NewLocal(), nil)

	_, err := svc.Generate(ctx, f.shop.ID, 2024, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	list, err := f.svc.List(ctx, f.shop.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGenerate_SubmittedWithoutTimestamp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.Create(ctx, report.Report{
		ID: uuid.New(), ShopID: f.shop.ID, Year: 2024, Quarter: 2,
		Status: report.StatusSubmitted, Version: 3,
	}))

	_, err := f.svc.Generate(ctx, f.shop.ID, 2024, 2)
	require.ErrorIs(t, err, report.ErrReportLocked)
}

func TestGenerate_InvalidPeriod(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Generate(context.Background(), f.shop.ID, 2024, 0)
	require.ErrorIs(t, err, report.ErrInvalidPeriod)
}

func TestGenerate_UnknownShop(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Generate(context.Background(), uuid.New(), 2024, 1)
	require.ErrorIs(t, err, shop.ErrNotFound)
}

func TestPreview_DoesNotStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "FR", "100.00", "20.00", "20", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))

	r, err := f.svc.Preview(ctx, f.shop.ID, 2024, 1)
	require.NoError(t, err)
	assert.Equal(t, "100.00", r.TotalSales.StringFixed(2))

	list, err := f.svc.List(ctx, f.shop.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSubmit_ArchiveFailureRaisesAlert(t *testing.T) {
	archiver := &failingArchiver{}
	f := newFixture(t, report.WithArchiver(archiver))
	ctx := context.Background()

	r, err := f.svc.Generate(ctx, f.shop.ID, 2024, 1)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, f.shop.ID, r.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 1, archiver.calls)

	list, err := f.alerts.List(ctx, f.shop.ID, alert.Filter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, alert.TypeConfigError, list[0].Type)
}

func TestSubmit_Unknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Submit(context.Background(), f.shop.ID, uuid.New(), "")
	require.ErrorIs(t, err, report.ErrNotFound)
}

func TestSubmit_DraftIsNotGenerated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Both attempts lose the race and leave the claimed draft behind.
	f.repo.failing = 2
	_, err := f.svc.Generate(ctx, f.shop.ID, 2024, 3)
	require.ErrorIs(t, err, report.ErrConcurrentModification)

	list, err := f.svc.List(ctx, f.shop.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, report.StatusDraft, list[0].Status)

	_, err = f.svc.Submit(ctx, f.shop.ID, list[0].ID, "")
	require.ErrorIs(t, err, report.ErrNotGenerated)
}
