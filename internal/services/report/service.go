package report

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/euvatease/api/internal/services/alert"
	"github.com/euvatease/api/internal/services/order"
	"github.com/euvatease/api/internal/services/shop"
	"github.com/euvatease/api/internal/services/threshold"
	"github.com/euvatease/api/internal/shoplock"
)

// ShopReader loads shop configuration.
type ShopReader interface {
	Get(ctx context.Context, id uuid.UUID) (shop.Shop, error)
}

// ThresholdReader returns the yearly threshold state.
type ThresholdReader interface {
	Current(ctx context.Context, shopID uuid.UUID, year int) (threshold.State, error)
}

// AlertRaiser opens deduplicated alerts.
type AlertRaiser interface {
	Raise(ctx context.Context, r alert.Raise) (alert.Alert, bool, error)
}

// Archiver keeps an immutable copy of submitted reports.
type Archiver interface {
	Archive(ctx context.Context, r Report) ([]string, error)
}

// Recorder observes report generation.
type Recorder interface {
	ReportGenerated(status string)
}

// Service generates, lists and submits OSS reports.
type Service struct {
	repo        Repository
	orders      order.Repository
	shops       ShopReader
	thresholds  ThresholdReader
	alerts      AlertRaiser
	names       CountryNamer
	locker      shoplock.Locker
	archiver    Archiver
	recorder    Recorder
	deadlineDay int
	logger      *zap.Logger
	now         func() time.Time
}

// Option customizes the service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithArchiver stores a copy of every submitted report.
func WithArchiver(a Archiver) Option {
	return func(s *Service) { s.archiver = a }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithDeadlineDay sets the filing day of the month after the quarter.
func WithDeadlineDay(day int) Option {
	return func(s *Service) {
		if day >= 1 && day <= 28 {
			s.deadlineDay = day
		}
	}
}

// NewService creates a report service.
func NewService(
	repo Repository,
	orders order.Repository,
	shops ShopReader,
	thresholds ThresholdReader,
	alerts AlertRaiser,
	names CountryNamer,
	locker shoplock.Locker,
	logger *zap.Logger,
	opts ...Option,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		repo:        repo,
		orders:      orders,
		shops:       shops,
		thresholds:  thresholds,
		alerts:      alerts,
		names:       names,
		locker:      locker,
		deadlineDay: 20,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns one report.
func (s *Service) Get(ctx context.Context, shopID, id uuid.UUID) (Report, error) {
	return s.repo.Get(ctx, shopID, id)
}

// List returns the shop's reports, newest period first.
func (s *Service) List(ctx context.Context, shopID uuid.UUID) ([]Report, error) {
	return s.repo.List(ctx, shopID)
}

// Preview aggregates a quarter without storing anything.
func (s *Service) Preview(ctx context.Context, shopID uuid.UUID, year, quarter int) (Report, error) {
	p, err := NewPeriod(year, quarter)
	if err != nil {
		return Report{}, err
	}
	sh, err := s.shops.Get(ctx, shopID)
	if err != nil {
		return Report{}, err
	}
	r := Report{ShopID: shopID, Year: p.Year, Quarter: p.Quarter, Status: StatusDraft}
	if err := s.fill(ctx, sh, &r); err != nil {
		return Report{}, err
	}
	return r, nil
}

// Generate aggregates a quarter and stores it as GENERATED, replacing a
// DRAFT or GENERATED report of the same quarter under the same id.
// Submitted reports fail with ErrReportLocked and stay unchanged. A lost
// race with another writer is retried once.
func (s *Service) Generate(ctx context.Context, shopID uuid.UUID, year, quarter int) (Report, error) {
	p, err := NewPeriod(year, quarter)
	if err != nil {
		return Report{}, err
	}
	sh, err := s.shops.Get(ctx, shopID)
	if err != nil {
		return Report{}, err
	}

	r, err := s.generate(ctx, sh, p)
	if errors.Is(err, ErrConcurrentModification) {
		s.logger.Warn("Report changed during generation, retrying",
			zap.String("shop_id", shopID.String()),
			zap.String("period", p.String()),
		)
		r, err = s.generate(ctx, sh, p)
	}
	if err != nil {
		return Report{}, err
	}

	if s.recorder != nil {
		s.recorder.ReportGenerated(string(r.Status))
	}
	s.logger.Info("OSS report generated",
		zap.String("shop_id", shopID.String()),
		zap.String("report_id", r.ID.String()),
		zap.String("period", p.String()),
		zap.Int("version", r.Version),
		zap.Int("lines", len(r.Lines)),
		zap.String("total_vat", r.TotalVAT.StringFixed(2)),
	)
	return r, nil
}

// generate holds the shop lock for the whole aggregation.
func (s *Service) generate(ctx context.Context, sh shop.Shop, p Period) (Report, error) {
	unlock, err := s.locker.Lock(ctx, sh.ID)
	if err != nil {
		return Report{}, errors.Wrap(err, "lock shop")
	}
	defer unlock()

	existing, err := s.repo.FindByPeriod(ctx, sh.ID, p.Year, p.Quarter)
	claim := false
	switch {
	case errors.Is(err, ErrNotFound):
		now := s.now()
		existing = Report{
			ID:        uuid.New(),
			ShopID:    sh.ID,
			Year:      p.Year,
			Quarter:   p.Quarter,
			Status:    StatusDraft,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		applyTotals(&existing)
		claim = true
	case err != nil:
		return Report{}, errors.Wrap(err, "find report")
	case existing.Status == StatusSubmitted:
		if existing.SubmittedAt == nil {
			return Report{}, errors.Wrapf(ErrReportLocked, "%s submitted", p)
		}
		return Report{}, errors.Wrapf(ErrReportLocked, "%s submitted at %s", p, existing.SubmittedAt.Format(time.RFC3339))
	}

	// Aggregate before the quarter is claimed so a failure stores nothing.
	r := existing
	r.Status = StatusGenerated
	if err := s.fill(ctx, sh, &r); err != nil {
		return Report{}, err
	}
	if claim {
		if err := s.repo.Create(ctx, existing); err != nil {
			return Report{}, err
		}
	}
	now := s.now()
	r.GeneratedAt = &now
	r.UpdatedAt = now
	r.Version = existing.Version + 1

	if err := s.repo.Update(ctx, r, existing.Version); err != nil {
		return Report{}, err
	}
	return r, nil
}

func (s *Service) fill(ctx context.Context, sh shop.Shop, r *Report) error {
	p := r.Period()
	orders, err := s.orders.ListRange(ctx, sh.ID, p.Start(), p.End())
	if err != nil {
		return errors.Wrap(err, "list orders")
	}
	lines, exempt, err := Aggregate(orders, sh.HomeCountry, s.names)
	if err != nil {
		return errors.Wrap(err, "aggregate orders")
	}
	r.Lines = lines
	r.ExemptOrders = exempt
	applyTotals(r)
	return nil
}

// Submit marks a generated report as filed. Submitted reports are final.
func (s *Service) Submit(ctx context.Context, shopID, id uuid.UUID, notes string) (Report, error) {
	unlock, err := s.locker.Lock(ctx, shopID)
	if err != nil {
		return Report{}, errors.Wrap(err, "lock shop")
	}
	defer unlock()

	r, err := s.repo.Get(ctx, shopID, id)
	if err != nil {
		return Report{}, err
	}
	switch r.Status {
	case StatusSubmitted:
		return Report{}, ErrReportLocked
	case StatusDraft:
		return Report{}, ErrNotGenerated
	}

	prev := r.Version
	now := s.now()
	r.Status = StatusSubmitted
	r.SubmittedAt = &now
	r.Notes = notes
	r.UpdatedAt = now
	r.Version++
	if err := s.repo.Update(ctx, r, prev); err != nil {
		return Report{}, err
	}

	s.logger.Info("OSS report submitted",
		zap.String("shop_id", shopID.String()),
		zap.String("report_id", id.String()),
		zap.String("period", r.Period().String()),
	)
	s.archive(context.WithoutCancel(ctx), r)
	return r, nil
}

func (s *Service) archive(ctx context.Context, r Report) {
	if s.archiver == nil {
		return
	}
	keys, err := s.archiver.Archive(ctx, r)
	if err == nil {
		s.logger.Info("OSS report archived", zap.String("report_id", r.ID.String()), zap.Strings("keys", keys))
		return
	}

	s.logger.Error("Failed to archive submitted report", zap.String("report_id", r.ID.String()), zap.Error(err))
	if s.alerts == nil {
		return
	}
	if _, _, rerr := s.alerts.Raise(ctx, alert.Raise{
		ShopID:         r.ShopID,
		Type:           alert.TypeConfigError,
		Severity:       alert.SeverityWarning,
		Subject:        "archive:" + r.ID.String(),
		Title:          "Report archive failed",
		Message:        "The submitted report for " + r.Period().String() + " could not be archived: " + err.Error(),
		ActionRequired: "Check the archive storage settings and download the report manually.",
	}); rerr != nil {
		s.logger.Error("Failed to raise archive alert", zap.Error(rerr))
	}
}
