package threshold

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/euvatease/api/internal/services/alert"
	"github.com/euvatease/api/internal/services/order"
	"github.com/euvatease/api/internal/services/shop"
)

// AlertRaiser opens deduplicated alerts.
type AlertRaiser interface {
	Raise(ctx context.Context, r alert.Raise) (alert.Alert, bool, error)
}

// Recorder observes status transitions.
type Recorder interface {
	ThresholdTransition(status string)
}

// Config holds the OSS threshold and the warning level in percent.
type Config struct {
	ThresholdEUR   decimal.Decimal
	WarningPercent decimal.Decimal
}

// DefaultConfig is the EU-wide 10,000 EUR threshold with a warning at 80%.
func DefaultConfig() Config {
	return Config{
		ThresholdEUR:   decimal.NewFromInt(10000),
		WarningPercent: decimal.NewFromInt(80),
	}
}

// Tracker applies orders to the yearly state. Callers hold the shop lock
// around Apply and Recompute.
type Tracker struct {
	repo     Repository
	alerts   AlertRaiser
	cfg      Config
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
}

// Option customizes the tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(t *Tracker) { t.recorder = r }
}

// NewTracker creates a threshold tracker.
func NewTracker(repo Repository, alerts AlertRaiser, cfg Config, logger *zap.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ThresholdEUR.IsZero() {
		cfg = DefaultConfig()
	}
	t := &Tracker{
		repo:   repo,
		alerts: alerts,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Evaluate maps a total to its status.
func (t *Tracker) Evaluate(total decimal.Decimal) Status {
	if total.GreaterThanOrEqual(t.cfg.ThresholdEUR) {
		return StatusExceeded
	}
	warnAt := t.cfg.ThresholdEUR.Mul(t.cfg.WarningPercent).Div(decimal.NewFromInt(100))
	if total.GreaterThanOrEqual(warnAt) {
		return StatusApproaching
	}
	return StatusUnder
}

// Threshold returns the configured threshold in EUR.
func (t *Tracker) Threshold() decimal.Decimal { return t.cfg.ThresholdEUR }

// Current returns the state of a year, UNDER with a zero total when the
// shop has none yet.
func (t *Tracker) Current(ctx context.Context, shopID uuid.UUID, year int) (State, error) {
	st, err := t.repo.Get(ctx, shopID, year)
	if errors.Is(err, ErrNotFound) {
		return State{ShopID: shopID, Year: year, TotalEUR: decimal.Zero, Status: StatusUnder}, nil
	}
	if err != nil {
		return State{}, errors.Wrap(err, "load threshold state")
	}
	return st, nil
}

// Apply counts an OSS eligible order in the year of its order date.
// Applying a corrected order again adds only what exceeds the amount
// counted before, so the total never drops. An order whose date moved to
// another year is withdrawn from the old year and counted in full in the
// new one. Orders that are not eligible leave the state as is.
func (t *Tracker) Apply(ctx context.Context, sh shop.Shop, o order.Order) (State, error) {
	year := o.OrderedAt.Year()
	if !o.OSSEligible(sh.HomeCountry) {
		return t.Current(ctx, sh.ID, year)
	}

	amount, err := o.TaxableEUR()
	if err != nil {
		return State{}, err
	}
	return t.count(ctx, sh.ID, Contribution{OrderID: o.ID, Year: year, AmountEUR: amount})
}

// Recompute counts every eligible order of the year the way Apply does,
// catching up on orders that were missed. It never lowers the status.
func (t *Tracker) Recompute(ctx context.Context, sh shop.Shop, year int, orders []order.Order) (State, error) {
	for _, o := range orders {
		if o.OrderedAt.Year() != year || !o.OSSEligible(sh.HomeCountry) {
			continue
		}
		amount, err := o.TaxableEUR()
		if err != nil {
			t.logger.Warn("Skipping order without EUR amount",
				zap.String("order_id", o.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if _, err := t.count(ctx, sh.ID, Contribution{OrderID: o.ID, Year: year, AmountEUR: amount}); err != nil {
			return State{}, err
		}
	}
	return t.Current(ctx, sh.ID, year)
}

func (t *Tracker) count(ctx context.Context, shopID uuid.UUID, c Contribution) (State, error) {
	prev, err := t.repo.GetContribution(ctx, shopID, c.OrderID)
	counted := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return State{}, errors.Wrap(err, "load threshold contribution")
	}

	st, err := t.Current(ctx, shopID, c.Year)
	if err != nil {
		return State{}, err
	}

	delta := c.AmountEUR
	switch {
	case counted && prev.Year == c.Year:
		delta = c.AmountEUR.Sub(prev.AmountEUR)
		if !delta.IsPositive() {
			return st, nil
		}
	case counted:
		if err := t.withdraw(ctx, shopID, prev); err != nil {
			return State{}, err
		}
	}

	if err := t.repo.SaveContribution(ctx, shopID, c); err != nil {
		return State{}, errors.Wrap(err, "record threshold contribution")
	}
	return t.advance(ctx, st, st.TotalEUR.Add(delta))
}

// withdraw takes a moved order out of its old year. The status of that year
// stays where it was.
func (t *Tracker) withdraw(ctx context.Context, shopID uuid.UUID, c Contribution) error {
	st, err := t.Current(ctx, shopID, c.Year)
	if err != nil {
		return err
	}
	total := st.TotalEUR.Sub(c.AmountEUR)
	if total.IsNegative() {
		total = decimal.Zero
	}
	t.logger.Info("Order moved to another year",
		zap.String("shop_id", shopID.String()),
		zap.String("order_id", c.OrderID.String()),
		zap.Int("from_year", c.Year),
	)
	_, err = t.advance(ctx, st, total)
	return err
}

func (t *Tracker) advance(ctx context.Context, st State, total decimal.Decimal) (State, error) {
	prev := st.Status
	st.TotalEUR = total
	st.Status = Max(prev, t.Evaluate(total))
	st.UpdatedAt = t.now()

	if err := t.repo.Save(ctx, st); err != nil {
		return State{}, errors.Wrap(err, "save threshold state")
	}

	if prev.rank() < StatusApproaching.rank() && st.Status.rank() >= StatusApproaching.rank() {
		t.transition(ctx, st, StatusApproaching)
	}
	if prev.rank() < StatusExceeded.rank() && st.Status == StatusExceeded {
		t.transition(ctx, st, StatusExceeded)
	}
	return st, nil
}

func (t *Tracker) transition(ctx context.Context, st State, to Status) {
	t.logger.Info("OSS threshold status changed",
		zap.String("shop_id", st.ShopID.String()),
		zap.Int("year", st.Year),
		zap.String("status", string(to)),
		zap.String("total_eur", st.TotalEUR.StringFixed(2)),
	)
	if t.recorder != nil {
		t.recorder.ThresholdTransition(string(to))
	}
	if t.alerts == nil {
		return
	}

	r := alert.Raise{
		ShopID:  st.ShopID,
		Subject: fmt.Sprintf("oss:%d", st.Year),
	}
	if to == StatusExceeded {
		r.Type = alert.TypeOSSThresholdExceeded
		r.Severity = alert.SeverityCritical
		r.Title = "OSS threshold exceeded"
		r.Message = fmt.Sprintf("Cross-border B2C sales in %d reached %s EUR, above the %s EUR threshold.",
			st.Year, st.TotalEUR.StringFixed(2), t.cfg.ThresholdEUR.StringFixed(2))
		r.ActionRequired = "Register for OSS and charge destination-country VAT."
	} else {
		r.Type = alert.TypeOSSThresholdWarning
		r.Severity = alert.SeverityWarning
		r.Title = "Approaching OSS threshold"
		r.Message = fmt.Sprintf("Cross-border B2C sales in %d reached %s EUR of the %s EUR threshold.",
			st.Year, st.TotalEUR.StringFixed(2), t.cfg.ThresholdEUR.StringFixed(2))
		r.ActionRequired = "Prepare OSS registration."
	}
	if _, _, err := t.alerts.Raise(ctx, r); err != nil {
		t.logger.Error("Failed to raise threshold alert", zap.Error(err))
	}
}
