package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/euvatease/api/internal/services/alert"
	"github.com/euvatease/api/internal/services/order"
	"github.com/euvatease/api/internal/services/shop"
	"github.com/euvatease/api/internal/services/threshold"
	"github.com/euvatease/api/internal/shoplock"
	"github.com/euvatease/api/internal/vat"
)

// ShopReader loads shop configuration.
type ShopReader interface {
	Get(ctx context.Context, id uuid.UUID) (shop.Shop, error)
}

// ValidationReader answers whether a VAT number is currently valid. It
// reads history only and never calls VIES.
type ValidationReader interface {
	IsValidated(ctx context.Context, shopID uuid.UUID, vatNumber string) (bool, error)
}

// AlertRaiser opens deduplicated alerts.
type AlertRaiser interface {
	Raise(ctx context.Context, r alert.Raise) (alert.Alert, bool, error)
}

// Recorder observes audits.
type Recorder interface {
	OrderAudited(discrepancy string)
}

// Ingested is the result of storing and auditing one order.
type Ingested struct {
	Order     order.Order
	Threshold threshold.State
}

// Summary counts the results of a bulk re-audit.
type Summary struct {
	Audited     int
	WithErrors  int
	Unsupported int
}

// Service runs audits and persists their results under the shop lock.
type Service struct {
	auditor     *Auditor
	orders      order.Repository
	shops       ShopReader
	validations ValidationReader
	tracker     *threshold.Tracker
	alerts      AlertRaiser
	locker      shoplock.Locker
	recorder    Recorder
	logger      *zap.Logger
	now         func() time.Time
	parallelism int
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

// WithParallelism bounds the number of concurrent audits in Analyze.
func WithParallelism(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

// NewService creates an audit service.
func NewService(
	auditor *Auditor,
	orders order.Repository,
	shops ShopReader,
	validations ValidationReader,
	tracker *threshold.Tracker,
	alerts AlertRaiser,
	locker shoplock.Locker,
	logger *zap.Logger,
	opts ...Option,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		auditor:     auditor,
		orders:      orders,
		shops:       shops,
		validations: validations,
		tracker:     tracker,
		alerts:      alerts,
		locker:      locker,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		parallelism: 8,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest stores a new or corrected order, audits it and applies it to the
// threshold. An order with a known external id replaces the stored one.
func (s *Service) Ingest(ctx context.Context, o order.Order) (Ingested, error) {
	o.Normalize()
	if err := o.Validate(); err != nil {
		return Ingested{}, err
	}
	sh, err := s.shops.Get(ctx, o.ShopID)
	if err != nil {
		return Ingested{}, err
	}
	validated, err := s.isValidated(ctx, o)
	if err != nil {
		return Ingested{}, err
	}

	unlock, err := s.locker.Lock(ctx, o.ShopID)
	if err != nil {
		return Ingested{}, errors.Wrap(err, "lock shop")
	}
	defer unlock()

	var prev *order.Order
	if o.ExternalID != "" {
		existing, err := s.orders.GetByExternalID(ctx, o.ShopID, o.ExternalID)
		switch {
		case err == nil:
			o.ID = existing.ID
			prev = &existing
		case !errors.Is(err, order.ErrNotFound):
			return Ingested{}, errors.Wrap(err, "find order by external id")
		}
	}
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}

	res, auditErr := s.auditor.Audit(o, validated)
	saved, err := s.persist(ctx, prev, o, res, auditErr)
	if err != nil {
		return Ingested{}, err
	}
	st, err := s.tracker.Apply(ctx, sh, saved)
	if err != nil {
		return Ingested{}, errors.Wrap(err, "apply threshold")
	}
	return Ingested{Order: saved, Threshold: st}, nil
}

// Reaudit audits a stored order again, for example after a rate table
// correction or a new VIES answer.
func (s *Service) Reaudit(ctx context.Context, shopID, orderID uuid.UUID) (order.Order, error) {
	sh, err := s.shops.Get(ctx, shopID)
	if err != nil {
		return order.Order{}, err
	}

	unlock, err := s.locker.Lock(ctx, shopID)
	if err != nil {
		return order.Order{}, errors.Wrap(err, "lock shop")
	}
	defer unlock()

	o, err := s.orders.Get(ctx, shopID, orderID)
	if err != nil {
		return order.Order{}, err
	}
	validated, err := s.isValidated(ctx, o)
	if err != nil {
		return order.Order{}, err
	}

	res, auditErr := s.auditor.Audit(o, validated)
	saved, err := s.persist(ctx, &o, o, res, auditErr)
	if err != nil {
		return order.Order{}, err
	}
	if _, err := s.tracker.Apply(ctx, sh, saved); err != nil {
		return order.Order{}, errors.Wrap(err, "apply threshold")
	}
	return saved, nil
}

type audited struct {
	res Result
	err error
}

// Analyze re-audits every order of the shop. Audits run in parallel;
// results are persisted one by one under the shop lock. An order changed
// since it was listed is audited again from its stored copy.
func (s *Service) Analyze(ctx context.Context, shopID uuid.UUID) (Summary, error) {
	sh, err := s.shops.Get(ctx, shopID)
	if err != nil {
		return Summary{}, err
	}
	orders, err := s.orders.ListRange(ctx, shopID, time.Time{}, s.now().AddDate(100, 0, 0))
	if err != nil {
		return Summary{}, errors.Wrap(err, "list orders")
	}

	validated := make(map[string]bool)
	for _, o := range orders {
		if o.VATNumber == "" {
			continue
		}
		if _, seen := validated[o.VATNumber]; seen {
			continue
		}
		ok, err := s.validations.IsValidated(ctx, shopID, o.VATNumber)
		if err != nil {
			return Summary{}, errors.Wrap(err, "load validation state")
		}
		validated[o.VATNumber] = ok
	}

	results := make([]audited, len(orders))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, o := range orders {
		g.Go(func() error {
			res, err := s.auditor.Audit(o, o.BuyerType == vat.BuyerB2B && validated[o.VATNumber])
			results[i] = audited{res: res, err: err}
			return nil
		})
	}
	_ = g.Wait()

	unlock, err := s.locker.Lock(ctx, shopID)
	if err != nil {
		return Summary{}, errors.Wrap(err, "lock shop")
	}
	defer unlock()

	var sum Summary
	for i, listed := range orders {
		o, err := s.orders.Get(ctx, shopID, listed.ID)
		if errors.Is(err, order.ErrNotFound) {
			continue
		}
		if err != nil {
			return sum, errors.Wrap(err, "reload order")
		}
		res, auditErr := results[i].res, results[i].err
		if !o.UpdatedAt.Equal(listed.UpdatedAt) {
			ok, err := s.isValidated(ctx, o)
			if err != nil {
				return sum, err
			}
			res, auditErr = s.auditor.Audit(o, ok)
		}

		saved, err := s.persist(ctx, &o, o, res, auditErr)
		if err != nil {
			return sum, err
		}
		sum.Audited++
		if saved.HasError {
			sum.WithErrors++
		}
		if saved.Discrepancy == order.DiscrepancyUnsupportedJurisdiction {
			sum.Unsupported++
		}
		if _, err := s.tracker.Apply(ctx, sh, saved); err != nil {
			return sum, errors.Wrap(err, "apply threshold")
		}
	}

	s.logger.Info("Orders re-audited",
		zap.String("shop_id", shopID.String()),
		zap.Int("audited", sum.Audited),
		zap.Int("with_errors", sum.WithErrors),
	)
	return sum, nil
}

func (s *Service) isValidated(ctx context.Context, o order.Order) (bool, error) {
	if o.BuyerType != vat.BuyerB2B || o.VATNumber == "" {
		return false, nil
	}
	ok, err := s.validations.IsValidated(ctx, o.ShopID, o.VATNumber)
	if err != nil {
		return false, errors.Wrap(err, "load validation state")
	}
	return ok, nil
}

// persist stores the audit result on the order and raises the matching
// alert when the discrepancy is new for the order, so a dismissed alert is
// not reopened by a re-audit that finds the same problem. prev is the
// stored version of the order, nil for a new one. Callers hold the shop
// lock.
func (s *Service) persist(ctx context.Context, prev *order.Order, o order.Order, res Result, auditErr error) (order.Order, error) {
	now := s.now()
	o.AuditedAt = &now
	o.Discrepancy = res.Discrepancy
	o.HasError = res.HasError()

	switch {
	case auditErr == nil:
		rate, diff := res.ExpectedRate, res.Difference
		o.ExpectedRate = &rate
		o.VATDifference = &diff
		o.Treatment = res.Treatment
	case errors.Is(auditErr, vat.ErrUnsupportedJurisdiction):
		o.ExpectedRate = nil
		o.VATDifference = nil
		o.Treatment = ""
	default:
		return order.Order{}, errors.Wrap(auditErr, "audit order")
	}

	saved, err := s.orders.Save(ctx, o)
	if err != nil {
		return order.Order{}, errors.Wrap(err, "save order")
	}
	if s.recorder != nil {
		s.recorder.OrderAudited(string(saved.Discrepancy))
	}
	if saved.HasError && (prev == nil || !prev.Audited() || prev.Discrepancy != saved.Discrepancy) {
		s.raise(ctx, saved)
	}
	return saved, nil
}

func (s *Service) raise(ctx context.Context, o order.Order) {
	id := o.ID
	r := alert.Raise{
		ShopID:      o.ShopID,
		Subject:     "order:" + o.ID.String(),
		OrderID:     &id,
		CountryCode: o.DestinationCountry,
	}
	label := o.ExternalID
	if label == "" {
		label = o.ID.String()
	}

	switch o.Discrepancy {
	case order.DiscrepancyVATMissing:
		r.Type, r.Severity = alert.TypeVATMissing, alert.SeverityCritical
		r.Title = "VAT missing"
		r.Message = fmt.Sprintf("Order %s to %s was charged no VAT; %s%% was expected.", label, o.DestinationCountry, o.ExpectedRate.StringFixed(2))
		r.ActionRequired = "Correct the order or issue a corrective invoice."
	case order.DiscrepancyB2BVATCharged:
		r.Type, r.Severity = alert.TypeB2BVATCharged, alert.SeverityWarning
		r.Title = "VAT charged on a reverse-charge sale"
		r.Message = fmt.Sprintf("Order %s is a B2B sale with a valid VAT number but %s VAT was charged.", label, o.TaxAmount.StringFixed(2))
		r.ActionRequired = "Refund the VAT and mark the invoice as reverse charge."
	case order.DiscrepancyRateMismatch:
		r.Type, r.Severity = alert.TypeVATRateError, alert.SeverityWarning
		r.Title = "Wrong VAT rate"
		r.Message = fmt.Sprintf("Order %s to %s used %s%% instead of %s%%.", label, o.DestinationCountry, o.AppliedRate.StringFixed(2), o.ExpectedRate.StringFixed(2))
		r.ActionRequired = "Check the tax settings for " + o.DestinationCountry + "."
	case order.DiscrepancyUnsupportedJurisdiction:
		r.Type, r.Severity = alert.TypeUnsupportedJurisdiction, alert.SeverityWarning
		r.Title = "Unsupported destination"
		r.Message = fmt.Sprintf("Order %s ships to %s, which has no VAT rate in the rate table.", label, o.DestinationCountry)
		r.ActionRequired = "Review the order manually."
	default:
		return
	}

	if _, _, err := s.alerts.Raise(ctx, r); err != nil {
		s.logger.Error("Failed to raise audit alert",
			zap.String("order_id", o.ID.String()),
			zap.Error(err),
		)
	}
}
