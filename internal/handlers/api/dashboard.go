package api

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/euvatease/api/internal/services/alert"
	"github.com/euvatease/api/internal/services/order"
	"github.com/euvatease/api/internal/services/report"
	"github.com/euvatease/api/internal/services/shop"
	"github.com/euvatease/api/internal/services/threshold"
)

// DashboardHandler serves the aggregate snapshot shown on the dashboard.
type DashboardHandler struct {
	shops      *shop.Service
	orders     *order.Service
	thresholds *threshold.Tracker
	alerts     *alert.Service
	reports    *report.Service
	logger     *zap.Logger
	now        func() time.Time
}

// NewDashboardHandler creates a new dashboard handler.
func NewDashboardHandler(
	shops *shop.Service,
	orders *order.Service,
	thresholds *threshold.Tracker,
	alerts *alert.Service,
	reports *report.Service,
	logger *zap.Logger,
) *DashboardHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardHandler{
		shops:      shops,
		orders:     orders,
		thresholds: thresholds,
		alerts:     alerts,
		reports:    reports,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RegisterRoutes registers the dashboard route on mux behind mw.
func (h *DashboardHandler) RegisterRoutes(mux *http.ServeMux, mw Middleware) {
	handle(mux, "GET /vat/dashboard", mw, h.Get)
}

type dashboardThresholdJSON struct {
	Year     int    `json:"year"`
	TotalEUR string `json:"totalEur"`
	LimitEUR string `json:"limitEur"`
	Percent  string `json:"percent"`
	Status   string `json:"status"`
}

type dashboardAlertsJSON struct {
	Active   int `json:"active"`
	Critical int `json:"critical"`
	Unread   int `json:"unread"`
}

type dashboardJSON struct {
	Shop         shopJSON               `json:"shop"`
	Orders       errorSummaryJSON       `json:"orders"`
	ErrorRate    string                 `json:"errorRate"`
	Threshold    dashboardThresholdJSON `json:"threshold"`
	Alerts       dashboardAlertsJSON    `json:"alerts"`
	RecentAlerts []alertJSON            `json:"recentAlerts"`
	NextDeadline deadlineJSON           `json:"nextDeadline"`
	LatestReport *reportJSON            `json:"latestReport"`
	GeneratedAt  time.Time              `json:"generatedAt"`
}

const recentAlertLimit = 5

// Get handles GET /vat/dashboard. The independent reads run in parallel.
func (h *DashboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	shopID, ok := shopFrom(w, r)
	if !ok {
		return
	}
	now := h.now()

	var (
		sh      shop.Shop
		stats   order.Stats
		st      threshold.State
		active  []alert.Alert
		reports []report.Report
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) {
		sh, err = h.shops.Get(ctx, shopID)
		return err
	})
	g.Go(func() (err error) {
		stats, err = h.orders.ErrorSummary(ctx, shopID)
		return err
	})
	g.Go(func() (err error) {
		st, err = h.thresholds.Current(ctx, shopID, now.Year())
		return err
	})
	g.Go(func() (err error) {
		unresolved := false
		active, err = h.alerts.List(ctx, shopID, alert.Filter{Resolved: &unresolved})
		return err
	})
	g.Go(func() (err error) {
		reports, err = h.reports.List(ctx, shopID)
		return err
	})
	if err := g.Wait(); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	limit := h.thresholds.Threshold()
	percent := decimal.Zero
	if limit.IsPositive() {
		percent = st.TotalEUR.Div(limit).Mul(decimal.NewFromInt(100))
	}
	errorRate := decimal.Zero
	if stats.Audited > 0 {
		errorRate = decimal.NewFromInt(int64(stats.WithErrors)).
			Div(decimal.NewFromInt(int64(stats.Audited))).
			Mul(decimal.NewFromInt(100))
	}

	out := dashboardJSON{
		Shop:   toShopJSON(sh),
		Orders: toErrorSummaryJSON(stats),
		Threshold: dashboardThresholdJSON{
			Year:     st.Year,
			TotalEUR: money(st.TotalEUR),
			LimitEUR: money(limit),
			Percent:  money(percent),
			Status:   string(st.Status),
		},
		Alerts:       dashboardAlertsJSON{Active: len(active)},
		NextDeadline: toDeadlineJSON(h.reports.NextDeadline(now)),
		GeneratedAt:  now,
		ErrorRate:    money(errorRate),
		RecentAlerts: make([]alertJSON, 0, recentAlertLimit),
	}
	for _, a := range active {
		if a.Severity == alert.SeverityCritical {
			out.Alerts.Critical++
		}
		if !a.Read {
			out.Alerts.Unread++
		}
		if len(out.RecentAlerts) < recentAlertLimit {
			out.RecentAlerts = append(out.RecentAlerts, toAlertJSON(a))
		}
	}
	if len(reports) > 0 {
		latest := toReportJSON(reports[0])
		out.LatestReport = &latest
	}
	writeJSON(w, http.StatusOK, out)
}
