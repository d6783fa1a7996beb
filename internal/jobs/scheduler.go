// Package jobs runs the background work of the service: the nightly rate
// reload, threshold re-evaluation and deadline alerts, and the sweep that
// retries unavailable VIES validations.
package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/euvatease/api/internal/services/order"
	"github.com/euvatease/api/internal/services/shop"
	"github.com/euvatease/api/internal/services/threshold"
	"github.com/euvatease/api/internal/services/validation"
	"github.com/euvatease/api/internal/shoplock"
	"github.com/euvatease/api/internal/vat"
)

// Job names used in logs and metrics.
const (
	JobRateSync    = "rate_sync"
	JobThresholds  = "threshold_recompute"
	JobDeadlines   = "deadline_alerts"
	JobVIESRetries = "vies_retry"
)

// RateSyncer reloads the VAT rate table.
type RateSyncer interface {
	Sync(ctx context.Context) vat.SyncResult
}

// ShopLister lists the shops jobs run for.
type ShopLister interface {
	ListActive(ctx context.Context) ([]shop.Shop, error)
}

// OrderLister reads a shop's orders in a time range.
type OrderLister interface {
	ListRange(ctx context.Context, shopID uuid.UUID, from, to time.Time) ([]order.Order, error)
}

// ThresholdRecomputer re-evaluates a year from stored orders.
type ThresholdRecomputer interface {
	Recompute(ctx context.Context, sh shop.Shop, year int, orders []order.Order) (threshold.State, error)
}

// DeadlineEvaluator raises filing deadline alerts.
type DeadlineEvaluator interface {
	EvaluateDeadlines(ctx context.Context, sh shop.Shop, now time.Time) error
}

// VIESRetrier retries unavailable validations of a shop.
type VIESRetrier interface {
	RetryFailed(ctx context.Context, shopID uuid.UUID) (validation.RetrySummary, error)
}

// Recorder observes job runs.
type Recorder interface {
	JobRun(job string, took time.Duration, err error)
}

// Deps are the services the scheduler drives.
type Deps struct {
	Rates       RateSyncer
	Shops       ShopLister
	Orders      OrderLister
	Thresholds  ThresholdRecomputer
	Deadlines   DeadlineEvaluator
	Validations VIESRetrier
	Locker      shoplock.Locker
}

// Config tunes the scheduler.
type Config struct {
	VIESSweepInterval time.Duration
	Workers           int
	RetryAttempts     int
	RetryDelay        time.Duration
	JobTimeout        time.Duration
}

func (c *Config) setDefaults() {
	if c.VIESSweepInterval <= 0 {
		c.VIESSweepInterval = 15 * time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Hour
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 5 * time.Minute
	}
}

// Scheduler runs the nightly jobs at midnight UTC and the VIES sweep on an
// interval.
type Scheduler struct {
	deps     Deps
	cfg      Config
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time

	stopCh   chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
	retrying atomic.Bool
}

// Option customizes the scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// NewScheduler creates a scheduler. Nothing runs until Start.
func NewScheduler(deps Deps, cfg Config, logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.setDefaults()
	s := &Scheduler{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start loads the rate table synchronously with ctx, then starts the
// nightly loop and the VIES sweep in the background.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.SyncRates(ctx); err != nil {
		return err
	}

	s.wg.Add(2)
	go s.nightlyLoop()
	go s.sweepLoop()
	return nil
}

// Stop signals the loops to stop and waits for running jobs to finish.
// It is safe to call Stop multiple times.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		s.logger.Info("Stopping scheduler")
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *Scheduler) nightlyLoop() {
	defer s.wg.Done()

	wait := untilNextMidnight(s.now())
	s.logger.Info("Nightly jobs scheduled", zap.Duration("in", wait.Round(time.Second)))

	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
		case <-s.stopCh:
			return
		}

		syncCtx, cancelSync := s.jobContext()
		err := s.SyncRates(syncCtx)
		cancelSync()
		if err != nil && s.retrying.CompareAndSwap(false, true) {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer s.retrying.Store(false)
				s.retrySync()
			}()
		}

		// The nightly jobs run on the previous table while retries wait.
		ctx, cancel := s.jobContext()
		if err := s.RunNightly(ctx); err != nil {
			s.logger.Error("Nightly jobs failed", zap.Error(err))
		}
		cancel()

		timer.Reset(untilNextMidnight(s.now()))
	}
}

func (s *Scheduler) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.VIESSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := s.jobContext()
			if err := s.SweepVIES(ctx); err != nil {
				s.logger.Error("VIES retry sweep failed", zap.Error(err))
			}
			cancel()
		case <-s.stopCh:
			return
		}
	}
}

// jobContext is cancelled by Stop or after the job timeout.
func (s *Scheduler) jobContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// retrySync retries a failed rate reload, stopping early on success or Stop.
func (s *Scheduler) retrySync() {
	for i := 1; i <= s.cfg.RetryAttempts; i++ {
		s.logger.Info("Rate sync retry scheduled",
			zap.Int("attempt", i),
			zap.Int("max_attempts", s.cfg.RetryAttempts),
			zap.Duration("delay", s.cfg.RetryDelay),
		)
		select {
		case <-time.After(s.cfg.RetryDelay):
		case <-s.stopCh:
			return
		}

		ctx, cancel := s.jobContext()
		err := s.SyncRates(ctx)
		cancel()
		if err == nil {
			return
		}
	}
	s.logger.Error("All rate sync retries exhausted", zap.Int("max_attempts", s.cfg.RetryAttempts))
}

// SyncRates reloads the rate table once.
func (s *Scheduler) SyncRates(ctx context.Context) error {
	return s.run(JobRateSync, func() error {
		res := s.deps.Rates.Sync(ctx)
		if res.Error != nil {
			return res.Error
		}
		s.logger.Info("Rate sync completed",
			zap.String("source", res.Source),
			zap.Int("rates_loaded", res.RatesLoaded),
			zap.Int("rates_changed", res.RatesChanged),
		)
		return nil
	})
}

// RunNightly re-evaluates the threshold of every active shop from its
// stored orders and raises filing deadline alerts. In the first quarter
// the previous year is re-evaluated too, since its Q4 return is still due.
func (s *Scheduler) RunNightly(ctx context.Context) error {
	shops, err := s.deps.Shops.ListActive(ctx)
	if err != nil {
		return errors.Wrap(err, "list shops")
	}
	now := s.now()

	thresholdErr := s.run(JobThresholds, func() error {
		years := []int{now.Year()}
		if now.Month() <= time.March {
			years = append(years, now.Year()-1)
		}
		return s.forEachShop(ctx, shops, func(ctx context.Context, sh shop.Shop) error {
			for _, year := range years {
				if err := s.recompute(ctx, sh, year); err != nil {
					return err
				}
			}
			return nil
		})
	})

	deadlineErr := s.run(JobDeadlines, func() error {
		return s.forEachShop(ctx, shops, func(ctx context.Context, sh shop.Shop) error {
			return s.deps.Deadlines.EvaluateDeadlines(ctx, sh, now)
		})
	})

	return multierr.Combine(thresholdErr, deadlineErr)
}

func (s *Scheduler) recompute(ctx context.Context, sh shop.Shop, year int) error {
	unlock, err := s.deps.Locker.Lock(ctx, sh.ID)
	if err != nil {
		return errors.Wrap(err, "lock shop")
	}
	defer unlock()

	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	orders, err := s.deps.Orders.ListRange(ctx, sh.ID, from, from.AddDate(1, 0, 0))
	if err != nil {
		return errors.Wrapf(err, "list %d orders", year)
	}
	st, err := s.deps.Thresholds.Recompute(ctx, sh, year, orders)
	if err != nil {
		return errors.Wrapf(err, "recompute %d", year)
	}
	s.logger.Debug("Threshold re-evaluated",
		zap.String("shop_id", sh.ID.String()),
		zap.Int("year", year),
		zap.String("total_eur", st.TotalEUR.StringFixed(2)),
		zap.String("status", string(st.Status)),
	)
	return nil
}

// SweepVIES retries the unavailable validations of every active shop.
func (s *Scheduler) SweepVIES(ctx context.Context) error {
	return s.run(JobVIESRetries, func() error {
		shops, err := s.deps.Shops.ListActive(ctx)
		if err != nil {
			return errors.Wrap(err, "list shops")
		}
		return s.forEachShop(ctx, shops, func(ctx context.Context, sh shop.Shop) error {
			sum, err := s.deps.Validations.RetryFailed(ctx, sh.ID)
			if err != nil {
				return err
			}
			if sum.Attempted > 0 {
				s.logger.Info("VIES retry sweep",
					zap.String("shop_id", sh.ID.String()),
					zap.Int("attempted", sum.Attempted),
					zap.Int("valid", sum.Valid),
					zap.Int("invalid", sum.Invalid),
					zap.Int("unavailable", sum.Unavailable),
				)
			}
			return nil
		})
	})
}

// forEachShop runs fn for every shop with at most Workers in flight. A
// failing shop is logged and does not stop the others.
func (s *Scheduler) forEachShop(ctx context.Context, shops []shop.Shop, fn func(context.Context, shop.Shop) error) error {
	var (
		mu     sync.Mutex
		failed []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, sh := range shops {
		g.Go(func() error {
			if err := fn(gctx, sh); err != nil {
				s.logger.Error("Job failed for shop", zap.String("shop_id", sh.ID.String()), zap.Error(err))
				mu.Lock()
				failed = append(failed, errors.Wrapf(err, "shop %s", sh.ID))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return multierr.Combine(failed...)
}

func (s *Scheduler) run(job string, fn func() error) error {
	start := time.Now()
	err := fn()
	took := time.Since(start)
	if s.recorder != nil {
		s.recorder.JobRun(job, took, err)
	}
	if err != nil {
		s.logger.Error("Job failed", zap.String("job", job), zap.Duration("took", took), zap.Error(err))
		return err
	}
	s.logger.Debug("Job completed", zap.String("job", job), zap.Duration("took", took))
	return nil
}

func untilNextMidnight(now time.Time) time.Duration {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	return next.Sub(now)
}
