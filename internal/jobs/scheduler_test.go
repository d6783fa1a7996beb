package jobs_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/euvatease/api/internal/jobs"
	"github.com/euvatease/api/internal/services/order"
	"github.com/euvatease/api/internal/services/shop"
	"github.com/euvatease/api/internal/services/threshold"
	"github.com/euvatease/api/internal/services/validation"
	"github.com/euvatease/api/internal/shoplock"
	"github.com/euvatease/api/internal/vat"
)

type fakeRates struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeRates) Sync(context.Context) vat.SyncResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return vat.SyncResult{Source: vat.SourceEmbedded, RatesLoaded: 27, Error: f.err}
}

func (f *fakeRates) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fakeShops []shop.Shop

func (f fakeShops) ListActive(context.Context) ([]shop.Shop, error) { return f, nil }

// ctxShops records the context state each ListActive call sees.
type ctxShops struct {
	mu   sync.Mutex
	errs []error
}

func (s *ctxShops) ListActive(ctx context.Context) ([]shop.Shop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, ctx.Err())
	return nil, nil
}

func (s *ctxShops) seen() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

type fakeOrders struct{}

func (fakeOrders) ListRange(context.Context, uuid.UUID, time.Time, time.Time) ([]order.Order, error) {
	return nil, nil
}

type call struct {
	shopID uuid.UUID
	year   int
}

type fakeThresholds struct {
	mu    sync.Mutex
	calls []call
	fail  uuid.UUID
}

func (f *fakeThresholds) Recompute(_ context.Context, sh shop.Shop, year int, _ []order.Order) (threshold.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{sh.ID, year})
	if sh.ID == f.fail {
		return threshold.State{}, errors.New("database gone")
	}
	return threshold.State{ShopID: sh.ID, Year: year, TotalEUR: decimal.Zero, Status: threshold.StatusUnder}, nil
}

type fakeDeadlines struct {
	mu    sync.Mutex
	shops []uuid.UUID
	at    time.Time
}

func (f *fakeDeadlines) EvaluateDeadlines(_ context.Context, sh shop.Shop, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shops = append(f.shops, sh.ID)
	f.at = now
	return nil
}

type fakeRetrier struct {
	mu    sync.Mutex
	shops []uuid.UUID
}

func (f *fakeRetrier) RetryFailed(_ context.Context, shopID uuid.UUID) (validation.RetrySummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shops = append(f.shops, shopID)
	return validation.RetrySummary{Attempted: 1, Valid: 1}, nil
}

type recorder struct {
	mu   sync.Mutex
	runs map[string]int
	errs map[string]int
}

func (r *recorder) JobRun(job string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[job]++
	if err != nil {
		r.errs[job]++
	}
}

type fixture struct {
	sched      *jobs.Scheduler
	rates      *fakeRates
	thresholds *fakeThresholds
	deadlines  *fakeDeadlines
	retrier    *fakeRetrier
	rec        *recorder
	shops      fakeShops
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	f := &fixture{
		rates:      &fakeRates{},
		thresholds: &fakeThresholds{},
		deadlines:  &fakeDeadlines{},
		retrier:    &fakeRetrier{},
		rec:        &recorder{runs: map[string]int{}, errs: map[string]int{}},
		shops:      fakeShops{{ID: uuid.New(), HomeCountry: "DE"}, {ID: uuid.New(), HomeCountry: "FR"}},
	}
	f.sched = jobs.NewScheduler(jobs.Deps{
		Rates:       f.rates,
		Shops:       f.shops,
		Orders:      fakeOrders{},
		Thresholds:  f.thresholds,
		Deadlines:   f.deadlines,
		Validations: f.retrier,
		Locker:      shoplock.NewLocal(),
	}, jobs.Config{Workers: 2, VIESSweepInterval: time.Hour}, nil,
		jobs.WithClock(func() time.Time { return now }),
		jobs.WithRecorder(f.rec),
	)
	return f
}

func TestRunNightly(t *testing.T) {
	now := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, now)

	require.NoError(t, f.sched.RunNightly(context.Background()))

	assert.Len(t, f.thresholds.calls, 2)
	for _, c := range f.thresholds.calls {
		assert.Equal(t, 2024, c.year)
	}
	assert.ElementsMatch(t, []uuid.UUID{f.shops[0].ID, f.shops[1].ID}, f.deadlines.shops)
	assert.Equal(t, now, f.deadlines.at)
	assert.Equal(t, 1, f.rec.runs[jobs.JobThresholds])
	assert.Equal(t, 1, f.rec.runs[jobs.JobDeadlines])
}

func TestRunNightly_FirstQuarterIncludesPreviousYear(t *testing.T) {
	f := newFixture(t, time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC))

	require.NoError(t, f.sched.RunNightly(context.Background()))

	years := map[int]int{}
	for _, c := range f.thresholds.calls {
		years[c.year]++
	}
	assert.Equal(t, map[int]int{2025: 2, 2024: 2}, years)
}

func TestRunNightly_ShopFailureDoesNotStopOthers(t *testing.T) {
	f := newFixture(t, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC))
	f.thresholds.fail = f.shops[0].ID

	err := f.sched.RunNightly(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database gone")

	assert.Len(t, f.thresholds.calls, 2)
	assert.Len(t, f.deadlines.shops, 2)
	assert.Equal(t, 1, f.rec.errs[jobs.JobThresholds])
	assert.Equal(t, 0, f.rec.errs[jobs.JobDeadlines])
}

func TestSweepVIES(t *testing.T) {
	f := newFixture(t, time.Now())

	require.NoError(t, f.sched.SweepVIES(context.Background()))
	assert.ElementsMatch(t, []uuid.UUID{f.shops[0].ID, f.shops[1].ID}, f.retrier.shops)
	assert.Equal(t, 1, f.rec.runs[jobs.JobVIESRetries])
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, time.Now())

	require.NoError(t, f.sched.Start(context.Background()))
	assert.Equal(t, 1, f.rates.calls)

	f.sched.Stop()
	f.sched.Stop()
}

func TestStart_RateSyncFailure(t *testing.T) {
	f := newFixture(t, time.Now())
	f.rates.err = errors.New("no rate source")

	require.Error(t, f.sched.Start(context.Background()))
	assert.Equal(t, 1, f.rec.errs[jobs.JobRateSync])
}

func TestNightly_FailedSyncDoesNotExpireJobs(t *testing.T) {
	rates := &fakeRates{}
	shops := &ctxShops{}
	sched := jobs.NewScheduler(jobs.Deps{
		Rates:       rates,
		Shops:       shops,
		Orders:      fakeOrders{},
		Thresholds:  &fakeThresholds{},
		Deadlines:   &fakeDeadlines{},
		Validations: &fakeRetrier{},
		Locker:      shoplock.NewLocal(),
	}, jobs.Config{
		VIESSweepInterval: time.Hour,
		JobTimeout:        100 * time.Millisecond,
		RetryDelay:        200 * time.Millisecond,
	}, nil, jobs.WithClock(func() time.Time {
		return time.Date(2024, 7, 1, 23, 59, 59, 950_000_000, time.UTC)
	}))

	require.NoError(t, sched.Start(context.Background()))
	rates.fail(errors.New("rate source down"))

	require.Eventually(t, func() bool { return len(shops.seen()) > 0 }, 2*time.Second, 10*time.Millisecond)
	sched.Stop()

	for _, err := range shops.seen() {
		assert.NoError(t, err)
	}
}
