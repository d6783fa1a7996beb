package alert

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Raise describes a condition an alert should be opened for.
type Raise struct {
	ShopID         uuid.UUID
	Type           Type
	Severity       Severity
	Subject        string
	OrderID        *uuid.UUID
	CountryCode    string
	Title          string
	Message        string
	ActionRequired string
	// Once keeps a condition from being raised again after its alert was
	// resolved or dismissed.
	Once bool
}

// Recorder observes alert lifecycle events.
type Recorder interface {
	AlertRaised(alertType string, severity string)
}

// Service provides the alert engine operations.
type Service struct {
	repo     Repository
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

// NewService creates an alert service.
func NewService(repo Repository, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Raise opens an alert for (type, subject) unless one is already active,
// in which case the active one is returned and created is false. With Once
// set, any earlier alert for the pair suppresses the new one.
func (s *Service) Raise(ctx context.Context, r Raise) (Alert, bool, error) {
	if !r.Type.Valid() {
		return Alert{}, false, errors.Errorf("unknown alert type %q", r.Type)
	}
	if !r.Severity.Valid() {
		return Alert{}, false, errors.Errorf("unknown alert severity %q", r.Severity)
	}
	if r.Subject == "" {
		return Alert{}, false, errors.New("alert subject is required")
	}

	if r.Once {
		prev, err := s.repo.Latest(ctx, r.ShopID, r.Type, r.Subject)
		switch {
		case err == nil:
			return prev, false, nil
		case !errors.Is(err, ErrNotFound):
			return Alert{}, false, errors.Wrap(err, "find previous alert")
		}
	}

	a := Alert{
		ID:             uuid.New(),
		ShopID:         r.ShopID,
		Type:           r.Type,
		Severity:       r.Severity,
		Status:         StatusActive,
		Subject:        r.Subject,
		OrderID:        r.OrderID,
		CountryCode:    r.CountryCode,
		Title:          r.Title,
		Message:        r.Message,
		ActionRequired: r.ActionRequired,
		CreatedAt:      s.now(),
	}
	stored, created, err := s.repo.CreateIfAbsent(ctx, a)
	if err != nil {
		return Alert{}, false, errors.Wrap(err, "create alert")
	}
	if created {
		s.logger.Info("Alert raised",
			zap.String("shop_id", r.ShopID.String()),
			zap.String("type", string(r.Type)),
			zap.String("severity", string(r.Severity)),
			zap.String("subject", r.Subject),
		)
		if s.recorder != nil {
			s.recorder.AlertRaised(string(r.Type), string(r.Severity))
		}
	}
	return stored, created, nil
}

// Resolve closes an active alert as resolved.
func (s *Service) Resolve(ctx context.Context, shopID, id uuid.UUID) (Alert, error) {
	return s.close(ctx, shopID, id, StatusResolved)
}

// Dismiss closes an active alert as dismissed.
func (s *Service) Dismiss(ctx context.Context, shopID, id uuid.UUID) (Alert, error) {
	return s.close(ctx, shopID, id, StatusDismissed)
}

func (s *Service) close(ctx context.Context, shopID, id uuid.UUID, status Status) (Alert, error) {
	a, err := s.repo.Close(ctx, shopID, id, status, s.now())
	if err != nil {
		return Alert{}, err
	}
	s.logger.Info("Alert closed",
		zap.String("shop_id", shopID.String()),
		zap.String("alert_id", id.String()),
		zap.String("status", string(status)),
	)
	return a, nil
}

// Get returns one alert.
func (s *Service) Get(ctx context.Context, shopID, id uuid.UUID) (Alert, error) {
	return s.repo.Get(ctx, shopID, id)
}

// List returns alerts newest first.
func (s *Service) List(ctx context.Context, shopID uuid.UUID, f Filter) ([]Alert, error) {
	if f.Severity != "" && !f.Severity.Valid() {
		return nil, errors.Errorf("unknown alert severity %q", f.Severity)
	}
	return s.repo.List(ctx, shopID, f)
}

// MarkAllRead flags every alert of the shop as read.
func (s *Service) MarkAllRead(ctx context.Context, shopID uuid.UUID) (int, error) {
	return s.repo.MarkAllRead(ctx, shopID)
}
