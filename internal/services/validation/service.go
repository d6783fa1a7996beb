package validation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/euvatease/api/internal/logger"
	"github.com/euvatease/api/internal/services/alert"
	"github.com/euvatease/api/internal/shoplock"
	"github.com/euvatease/api/internal/vat"
)

// Checker performs one VIES lookup. *vat.VIESClient implements it.
type Checker interface {
	Check(ctx context.Context, number vat.VATNumber) (vat.VIESResult, error)
}

// AlertRaiser opens deduplicated alerts.
type AlertRaiser interface {
	Raise(ctx context.Context, r alert.Raise) (alert.Alert, bool, error)
}

// Recorder observes VIES checks.
type Recorder interface {
	VIESCheck(status string, attempts int, took time.Duration)
}

// Config tunes retries and reuse.
type Config struct {
	MaxAttempts      int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	CallTimeout      time.Duration
	ReuseWindow      time.Duration
	RetryConcurrency int
}

func (c *Config) setDefaults() {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.RetryConcurrency < 1 {
		c.RetryConcurrency = 4
	}
}

// Service validates VAT numbers. The VIES call never holds the shop lock;
// the resulting record is appended under it afterwards.
type Service struct {
	repo     Repository
	checker  Checker
	alerts   AlertRaiser
	locker   shoplock.Locker
	cfg      Config
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
}

// Option customizes the service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// NewService creates a validation service.
func NewService(repo Repository, checker Checker, alerts AlertRaiser, locker shoplock.Locker, cfg Config, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.setDefaults()
	s := &Service{
		repo:    repo,
		checker: checker,
		alerts:  alerts,
		locker:  locker,
		cfg:     cfg,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate normalizes raw and checks it against VIES. Malformed numbers fail
// with vat.ErrInvalidFormat before any network call. A VALID record younger
// than the reuse window is returned without a new lookup. When VIES stays
// unavailable the outcome is recorded and ErrServiceUnavailable returned.
func (s *Service) Validate(ctx context.Context, shopID uuid.UUID, raw string) (Outcome, error) {
	number, err := vat.NormalizeVATNumber(raw)
	if err != nil {
		return Outcome{}, err
	}

	if s.cfg.ReuseWindow > 0 {
		latest, err := s.repo.Latest(ctx, shopID, number.Complete)
		switch {
		case err == nil:
			if latest.Status == StatusValid && s.now().Sub(latest.ValidatedAt) < s.cfg.ReuseWindow {
				return outcomeFrom(latest, true), nil
			}
		case !errors.Is(err, ErrNotFound):
			return Outcome{}, errors.Wrap(err, "load latest validation")
		}
	}

	return s.check(ctx, shopID, number)
}

// IsValidated reports whether the newest definitive record of the number is
// VALID. Malformed numbers are simply not validated.
func (s *Service) IsValidated(ctx context.Context, shopID uuid.UUID, raw string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	number, err := vat.NormalizeVATNumber(raw)
	if err != nil {
		return false, nil
	}
	rec, err := s.repo.LatestDefinitive(ctx, shopID, number.Complete)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "load validation record")
	}
	return rec.Status == StatusValid, nil
}

// History returns validation records newest first.
func (s *Service) History(ctx context.Context, shopID uuid.UUID, page, size int) ([]Record, int, error) {
	return s.repo.History(ctx, shopID, page, size)
}

// RetryFailed re-validates every number whose newest record is UNAVAILABLE.
// Each number produces a new record; none is modified.
func (s *Service) RetryFailed(ctx context.Context, shopID uuid.UUID) (RetrySummary, error) {
	numbers, err := s.repo.ListUnavailable(ctx, shopID)
	if err != nil {
		return RetrySummary{}, errors.Wrap(err, "list unavailable validations")
	}

	var (
		mu      sync.Mutex
		summary RetrySummary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.RetryConcurrency)
	for _, raw := range numbers {
		g.Go(func() error {
			number, err := vat.NormalizeVATNumber(raw)
			if err != nil {
				s.logger.Warn("Skipping malformed stored VAT number", zap.String("vat_number", logger.MaskVATNumber(raw)))
				return nil
			}
			out, err := s.check(gctx, shopID, number)

			mu.Lock()
			defer mu.Unlock()
			summary.Attempted++
			switch {
			case errors.Is(err, ErrServiceUnavailable):
				summary.Unavailable++
			case err != nil:
				return err
			case out.Valid:
				summary.Valid++
			default:
				summary.Invalid++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	s.logger.Info("VIES retry sweep finished",
		zap.String("shop_id", shopID.String()),
		zap.Int("attempted", summary.Attempted),
		zap.Int("valid", summary.Valid),
		zap.Int("invalid", summary.Invalid),
		zap.Int("unavailable", summary.Unavailable),
	)
	return summary, nil
}

// check runs the bounded retry loop. Cancellation is observed between
// attempts only: each attempt runs detached from ctx with its own timeout.
func (s *Service) check(ctx context.Context, shopID uuid.UUID, number vat.VATNumber) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	var (
		result   vat.VIESResult
		attempts int
		lastErr  error
	)
	start := time.Now()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.cfg.InitialBackoff
	exp.MaxInterval = s.cfg.MaxBackoff
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(s.cfg.MaxAttempts-1)), ctx)

	err := backoff.Retry(func() error {
		attempts++
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CallTimeout)
		defer cancel()

		res, err := s.checker.Check(callCtx, number)
		if err == nil {
			result = res
			return nil
		}
		lastErr = err
		if errors.Is(err, vat.ErrVIESUnavailable) {
			s.logger.Warn("VIES attempt failed",
				zap.String("vat_number", logger.MaskVATNumber(number.Complete)),
				zap.Int("attempt", attempts),
				zap.Error(err),
			)
			return err
		}
		return backoff.Permanent(err)
	}, policy)

	rec := Record{
		ID:          uuid.New(),
		ShopID:      shopID,
		VATNumber:   number.Complete,
		CountryCode: number.Country,
		ValidatedAt: s.now(),
		Attempts:    attempts,
	}

	switch {
	case err == nil && result.Valid:
		rec.Valid = true
		rec.Status = StatusValid
		rec.CompanyName = result.CompanyName
		rec.CompanyAddress = result.CompanyAddress
		rec.ProofID = "VIES-" + ulid.Make().String()
	case err == nil:
		rec.Status = StatusInvalid
		rec.FailureReason = "VAT number is not registered in VIES"
	case ctx.Err() != nil && lastErr != nil && errors.Is(lastErr, vat.ErrVIESUnavailable):
		rec.Status = StatusUnavailable
		rec.FailureReason = "cancelled"
	case errors.Is(err, vat.ErrVIESUnavailable):
		rec.Status = StatusUnavailable
		rec.FailureReason = err.Error()
	default:
		return Outcome{}, errors.Wrap(err, "check VIES")
	}

	if s.recorder != nil {
		s.recorder.VIESCheck(string(rec.Status), attempts, time.Since(start))
	}
	// The record outlives a cancelled caller.
	if appendErr := s.append(context.WithoutCancel(ctx), rec); appendErr != nil {
		return Outcome{}, appendErr
	}

	s.logger.Info("VAT number validated",
		zap.String("shop_id", shopID.String()),
		zap.String("vat_number", logger.MaskVATNumber(number.Complete)),
		zap.String("status", string(rec.Status)),
		zap.Int("attempts", attempts),
	)

	out := outcomeFrom(rec, false)
	if rec.Status != StatusUnavailable {
		return out, nil
	}
	if rec.FailureReason == "cancelled" {
		return out, errors.Wrap(ctx.Err(), "validation cancelled")
	}

	s.raiseFailure(context.WithoutCancel(ctx), shopID, number, attempts)
	return out, errors.Wrapf(ErrServiceUnavailable, "%d attempts", attempts)
}

func (s *Service) append(ctx context.Context, rec Record) error {
	unlock, err := s.locker.Lock(ctx, rec.ShopID)
	if err != nil {
		return errors.Wrap(err, "lock shop")
	}
	defer unlock()

	if err := s.repo.Append(ctx, rec); err != nil {
		return errors.Wrap(err, "append validation record")
	}
	return nil
}

func (s *Service) raiseFailure(ctx context.Context, shopID uuid.UUID, number vat.VATNumber, attempts int) {
	if s.alerts == nil {
		return
	}
	_, _, err := s.alerts.Raise(ctx, alert.Raise{
		ShopID:         shopID,
		Type:           alert.TypeVIESFailure,
		Severity:       alert.SeverityWarning,
		Subject:        "vies:" + number.Complete,
		CountryCode:    number.Country,
		Title:          "VIES validation unavailable",
		Message:        fmt.Sprintf("VIES did not answer for %s after %d attempts.", logger.MaskVATNumber(number.Complete), attempts),
		ActionRequired: "The number stays unvalidated and is retried automatically.",
	})
	if err != nil {
		s.logger.Error("Failed to raise VIES failure alert", zap.Error(err))
	}
}
