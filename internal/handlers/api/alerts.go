package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/euvatease/api/internal/services/alert"
)

// AlertHandler serves the alert routes.
type AlertHandler struct {
	alerts *alert.Service
	logger *zap.Logger
}

// NewAlertHandler creates a new alert handler.
func NewAlertHandler(alerts *alert.Service, logger *zap.Logger) *AlertHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertHandler{alerts: alerts, logger: logger}
}

// RegisterRoutes registers the alert routes on mux behind mw.
func (h *AlertHandler) RegisterRoutes(mux *http.ServeMux, mw Middleware) {
	handle(mux, "GET /vat/alerts", mw, h.List)
	handle(mux, "POST /vat/alerts/read-all", mw, h.MarkAllRead)
	handle(mux, "POST /vat/alerts/{id}/resolve", mw, h.Resolve)
	handle(mux, "POST /vat/alerts/{id}/dismiss", mw, h.Dismiss)
}

type alertJSON struct {
	ID             uuid.UUID  `json:"id"`
	Type           string     `json:"type"`
	Severity       string     `json:"severity"`
	Status         string     `json:"status"`
	Subject        string     `json:"subject"`
	OrderID        *uuid.UUID `json:"orderId,omitempty"`
	CountryCode    string     `json:"countryCode,omitempty"`
	Title          string     `json:"title"`
	Message        string     `json:"message"`
	ActionRequired string     `json:"actionRequired,omitempty"`
	Read           bool       `json:"read"`
	Resolved       bool       `json:"resolved"`
	CreatedAt      time.Time  `json:"createdAt"`
	ResolvedAt     *time.Time `json:"resolvedAt"`
}

func toAlertJSON(a alert.Alert) alertJSON {
	return alertJSON{
		ID:             a.ID,
		Type:           string(a.Type),
		Severity:       string(a.Severity),
		Status:         string(a.Status),
		Subject:        a.Subject,
		OrderID:        a.OrderID,
		CountryCode:    a.CountryCode,
		Title:          a.Title,
		Message:        a.Message,
		ActionRequired: a.ActionRequired,
		Read:           a.Read,
		Resolved:       !a.Active(),
		CreatedAt:      utc(a.CreatedAt),
		ResolvedAt:     utcPtr(a.ResolvedAt),
	}
}

// List handles GET /vat/alerts?resolved&severity.
func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	shopID, ok := shopFrom(w, r)
	if !ok {
		return
	}
	resolved, ok := parseOptionalBool(w, r, "resolved")
	if !ok {
		return
	}
	f := alert.Filter{Resolved: resolved}
	if raw := r.URL.Query().Get("severity"); raw != "" {
		f.Severity = alert.Severity(strings.ToUpper(raw))
		if !f.Severity.Valid() {
			badRequest(w, "severity must be INFO, WARNING or CRITICAL")
			return
		}
	}

	alerts, err := h.alerts.List(r.Context(), shopID, f)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	data := make([]alertJSON, len(alerts))
	for i, a := range alerts {
		data[i] = toAlertJSON(a)
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

// Resolve handles POST /vat/alerts/{id}/resolve.
func (h *AlertHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	h.close(w, r, h.alerts.Resolve)
}

// Dismiss handles POST /vat/alerts/{id}/dismiss.
func (h *AlertHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	h.close(w, r, h.alerts.Dismiss)
}

func (h *AlertHandler) close(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, shopID, id uuid.UUID) (alert.Alert, error)) {
	shopID, ok := shopFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a, err := fn(r.Context(), shopID, id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAlertJSON(a))
}

// MarkAllRead handles POST /vat/alerts/read-all.
func (h *AlertHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	shopID, ok := shopFrom(w, r)
	if !ok {
		return
	}
	n, err := h.alerts.MarkAllRead(r.Context(), shopID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}
