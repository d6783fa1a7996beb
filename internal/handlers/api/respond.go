// Package api implements the shop scoped REST surface of the VAT engine.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/euvatease/api/internal/export"
	"github.com/euvatease/api/internal/middleware"
	"github.com/euvatease/api/internal/services/alert"
	"github.com/euvatease/api/internal/services/order"
	"github.com/euvatease/api/internal/services/report"
	"github.com/euvatease/api/internal/services/shop"
	"github.com/euvatease/api/internal/services/validation"
	"github.com/euvatease/api/internal/vat"
)

const maxBodyBytes = 1 << 20

// Middleware wraps a route handler.
type Middleware func(http.Handler) http.Handler

// Chain composes middleware. The first one runs outermost.
func Chain(mws ...func(http.Handler) http.Handler) Middleware {
	return func(h http.Handler) http.Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			h = mws[i](h)
		}
		return h
	}
}

// Routes is implemented by every handler of the package.
type Routes interface {
	RegisterRoutes(mux *http.ServeMux, mw Middleware)
}

// Register registers the routes of every handler on mux behind mw.
func Register(mux *http.ServeMux, mw Middleware, handlers ...Routes) {
	for _, h := range handlers {
		h.RegisterRoutes(mux, mw)
	}
}

func handle(mux *http.ServeMux, pattern string, mw Middleware, fn http.HandlerFunc) {
	var h http.Handler = fn
	if mw != nil {
		h = mw(h)
	}
	mux.Handle(pattern, h)
}

// Error codes of the JSON error body.
const (
	CodeUnsupportedJurisdiction = "UNSUPPORTED_JURISDICTION"
	CodeInvalidFormat           = "INVALID_FORMAT"
	CodeServiceUnavailable      = "SERVICE_UNAVAILABLE"
	CodeReportLocked            = "REPORT_LOCKED"
	CodeConcurrentModification  = "CONCURRENT_MODIFICATION"
	CodeNotFound                = "NOT_FOUND"
	CodeInvalidPeriod           = "INVALID_PERIOD"
	CodeNotGenerated            = "NOT_GENERATED"
	CodeAlertClosed             = "ALERT_CLOSED"
	CodeValidation              = "VALIDATION_ERROR"
	CodeUnauthorized            = "UNAUTHORIZED"
	CodeInternal                = "INTERNAL"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// errorMappings is checked in order; the first match wins.
var errorMappings = []errorMapping{
	{vat.ErrUnsupportedJurisdiction, http.StatusUnprocessableEntity, CodeUnsupportedJurisdiction},
	{vat.ErrInvalidFormat, http.StatusBadRequest, CodeInvalidFormat},
	{validation.ErrServiceUnavailable, http.StatusServiceUnavailable, CodeServiceUnavailable},
	{vat.ErrVIESUnavailable, http.StatusServiceUnavailable, CodeServiceUnavailable},
	{report.ErrReportLocked, http.StatusConflict, CodeReportLocked},
	{report.ErrConcurrentModification, http.StatusConflict, CodeConcurrentModification},
	{report.ErrInvalidPeriod, http.StatusBadRequest, CodeInvalidPeriod},
	{report.ErrNotGenerated, http.StatusConflict, CodeNotGenerated},
	{alert.ErrClosed, http.StatusConflict, CodeAlertClosed},
	{order.ErrInvalid, http.StatusBadRequest, CodeValidation},
	{shop.ErrInvalid, http.StatusBadRequest, CodeValidation},
	{export.ErrUnknownFormat, http.StatusBadRequest, CodeValidation},
	{order.ErrNotFound, http.StatusNotFound, CodeNotFound},
	{alert.ErrNotFound, http.StatusNotFound, CodeNotFound},
	{report.ErrNotFound, http.StatusNotFound, CodeNotFound},
	{shop.ErrNotFound, http.StatusNotFound, CodeNotFound},
	{validation.ErrNotFound, http.StatusNotFound, CodeNotFound},
}

// writeError maps a service error to its status and code. Unmapped errors
// are logged and answered with a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			middleware.WriteJSONError(w, m.status, m.code, err.Error())
			return
		}
	}
	logger.Error("Request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.RequestIDFromContext(r.Context())),
		zap.Error(err),
	)
	middleware.WriteJSONError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
}

func badRequest(w http.ResponseWriter, msg string) {
	middleware.WriteJSONError(w, http.StatusBadRequest, CodeValidation, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// shopFrom returns the authenticated shop or answers 401.
func shopFrom(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := middleware.ShopFromContext(r.Context())
	if !ok {
		middleware.WriteJSONError(w, http.StatusUnauthorized, CodeUnauthorized, "missing shop credentials")
		return uuid.Nil, false
	}
	return id, true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		badRequest(w, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

// parsePage reads the page and size query parameters. Missing values are
// left at zero for the service to default.
func parsePage(w http.ResponseWriter, r *http.Request) (page, size int, ok bool) {
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *int
	}{{"page", &page}, {"size", &size}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(w, p.name+" must be a non-negative integer")
			return 0, 0, false
		}
		*p.dst = n
	}
	return page, size, true
}

func parseOptionalBool(w http.ResponseWriter, r *http.Request, name string) (*bool, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		badRequest(w, name+" must be true or false")
		return nil, false
	}
	return &v, true
}

type listResponse struct {
	Data       any `json:"data"`
	Page       int `json:"page"`
	Size       int `json:"size"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

func newListResponse(data any, page, size, total int) listResponse {
	pages := 0
	if size > 0 {
		pages = (total + size - 1) / size
	}
	return listResponse{Data: data, Page: page, Size: size, Total: total, TotalPages: pages}
}

// money renders amounts and percentages with two fraction digits.
func money(d decimal.Decimal) string { return d.StringFixed(2) }

func moneyPtr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := money(*d)
	return &s
}

func utc(t time.Time) time.Time { return t.UTC() }

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
