package report_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/euvatease/api/internal/services/alert"
)

func TestNextDeadline(t *testing.T) {
	f := newFixture(t)

	dl := f.svc.NextDeadline(time.Date(2024, 7, 5, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "2024-Q2", dl.Period.String())
	assert.Equal(t, time.Date(2024, 7, 20, 0, 0, 0, 0, time.UTC), dl.DueAt)
	assert.Equal(t, 15, dl.DaysLeft)

	dl = f.svc.NextDeadline(time.Date(2024, 7, 25, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "2024-Q3", dl.Period.String())
	assert.Equal(t, time.Date(2024, 10, 20, 0, 0, 0, 0, time.UTC), dl.DueAt)

	dl = f.svc.NextDeadline(time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "2024-Q4", dl.Period.String())
	assert.Equal(t, time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC), dl.DueAt)
}

func deadlineAlerts(t *testing.T, f *fixture) []alert.Alert {
	t.Helper()
	list, err := f.alerts.List(context.Background(), f.shop.ID, alert.Filter{})
	require.NoError(t, err)
	var out []alert.Alert
	for _, a := range list {
		if a.Type == alert.TypeOSSDeadline {
			out = append(out, a)
		}
	}
	return out
}

func TestEvaluateDeadlines_WarningThenOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.EvaluateDeadlines(ctx, f.shop, time.Date(2024, 7, 5, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, f.svc.EvaluateDeadlines(ctx, f.shop, time.Date(2024, 7, 6, 0, 0, 0, 0, time.UTC)))
	list := deadlineAlerts(t, f)
	require.Len(t, list, 1)
	assert.Equal(t, alert.SeverityWarning, list[0].Severity)
	assert.Equal(t, "oss-deadline:2024-Q2", list[0].Subject)

	require.NoError(t, f.svc.EvaluateDeadlines(ctx, f.shop, time.Date(2024, 7, 21, 0, 0, 0, 0, time.UTC)))
	list = deadlineAlerts(t, f)
	require.Len(t, list, 2)
	var overdue int
	for _, a := range list {
		if a.Subject == "oss-deadline:2024-Q2:overdue" {
			overdue++
			assert.Equal(t, alert.SeverityCritical, a.Severity)
		}
	}
	assert.Equal(t, 1, overdue)
}

func TestEvaluateDeadlines_DismissedStaysClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.EvaluateDeadlines(ctx, f.shop, time.Date(2024, 7, 5, 0, 0, 0, 0, time.UTC)))
	list := deadlineAlerts(t, f)
	require.Len(t, list, 1)
	_, err := f.alerts.Dismiss(ctx, f.shop.ID, list[0].ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.EvaluateDeadlines(ctx, f.shop, time.Date(2024, 7, 6, 0, 0, 0, 0, time.UTC)))
	list = deadlineAlerts(t, f)
	require.Len(t, list, 1)
	assert.Equal(t, alert.StatusDismissed, list[0].Status)

	// The overdue alert is a separate condition.
	require.NoError(t, f.svc.EvaluateDeadlines(ctx, f.shop, time.Date(2024, 7, 21, 0, 0, 0, 0, time.UTC)))
	assert.Len(t, deadlineAlerts(t, f), 2)
}

func TestEvaluateDeadlines_SubmittedReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svc.Generate(ctx, f.shop.ID, 2024, 2)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, f.shop.ID, r.ID, "")
	require.NoError(t, err)

	require.NoError(t, f.svc.EvaluateDeadlines(ctx, f.shop, time.Date(2024, 7, 25, 0, 0, 0, 0, time.UTC)))
	assert.Empty(t, deadlineAlerts(t, f))
}

func TestEvaluateDeadlines_UnregisteredUnderThreshold(t *testing.T) {
	f := newFixture(t)
	f.shop.OSSRegistered = false

	require.NoError(t, f.svc.EvaluateDeadlines(context.Background(), f.shop, time.Date(2024, 7, 25, 0, 0, 0, 0, time.UTC)))
	assert.Empty(t, deadlineAlerts(t, f))
}

func TestEvaluateDeadlines_UnregisteredOverThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.shop.OSSRegistered = false

	_, err := f.tracker.Apply(ctx, f.shop, audited(f.shop.ID, "FR", "12000.00", "2400.00", "20", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	require.NoError(t, f.svc.EvaluateDeadlines(ctx, f.shop, time.Date(2024, 7, 25, 0, 0, 0, 0, time.UTC)))
	assert.Len(t, deadlineAlerts(t, f), 1)
}
