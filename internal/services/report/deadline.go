package report

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/euvatease/api/internal/services/alert"
	"github.com/euvatease/api/internal/services/shop"
	"github.com/euvatease/api/internal/services/threshold"
)

// Deadline is the next OSS filing obligation.
type Deadline struct {
	Period   Period
	DueAt    time.Time
	DaysLeft int
}

// NextDeadline returns the filing deadline that is due next at now: the
// previous quarter's while it has not passed, the current quarter's after.
func (s *Service) NextDeadline(now time.Time) Deadline {
	now = now.UTC()
	current := PeriodOf(now)
	p := current.Prev()
	if !now.Before(p.Deadline(s.deadlineDay)) {
		p = current
	}
	due := p.Deadline(s.deadlineDay)
	return Deadline{
		Period:   p,
		DueAt:    due,
		DaysLeft: int(math.Ceil(due.Sub(now).Hours() / 24)),
	}
}

// EvaluateDeadlines raises filing alerts for the last ended quarter of a
// shop that files OSS returns: a warning until the deadline and a critical
// overdue alert once it passed without a submitted report. Each of them is
// raised at most once per quarter, so a dismissed reminder stays closed.
func (s *Service) EvaluateDeadlines(ctx context.Context, sh shop.Shop, now time.Time) error {
	p := PeriodOf(now).Prev()
	due := p.Deadline(s.deadlineDay)

	if !sh.OSSRegistered {
		st, err := s.thresholds.Current(ctx, sh.ID, p.Year)
		if err != nil {
			return errors.Wrap(err, "load threshold state")
		}
		if st.Status == threshold.StatusUnder {
			return nil
		}
	}

	r, err := s.repo.FindByPeriod(ctx, sh.ID, p.Year, p.Quarter)
	switch {
	case err == nil && r.Status == StatusSubmitted:
		return nil
	case err != nil && !errors.Is(err, ErrNotFound):
		return errors.Wrap(err, "find report")
	}

	raise := alert.Raise{
		ShopID: sh.ID,
		Type:   alert.TypeOSSDeadline,
		Once:   true,
	}
	if now.Before(due) {
		days := int(math.Ceil(due.Sub(now).Hours() / 24))
		raise.Severity = alert.SeverityWarning
		raise.Subject = "oss-deadline:" + p.String()
		raise.Title = "OSS return due"
		raise.Message = fmt.Sprintf("The OSS return for %s is due on %s (%d days left).", p, due.Format(time.DateOnly), days)
		raise.ActionRequired = "Generate and submit the quarterly OSS report."
	} else {
		raise.Severity = alert.SeverityCritical
		raise.Subject = "oss-deadline:" + p.String() + ":overdue"
		raise.Title = "OSS return overdue"
		raise.Message = fmt.Sprintf("The OSS return for %s was due on %s and has not been submitted.", p, due.Format(time.DateOnly))
		raise.ActionRequired = "Submit the OSS return immediately."
	}

	if _, created, err := s.alerts.Raise(ctx, raise); err != nil {
		return errors.Wrap(err, "raise deadline alert")
	} else if created {
		s.logger.Info("OSS deadline alert raised",
			zap.String("shop_id", sh.ID.String()),
			zap.String("period", p.String()),
			zap.String("severity", string(raise.Severity)),
		)
	}
	return nil
}
