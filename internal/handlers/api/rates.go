package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/euvatease/api/internal/vat"
)

// RateHandler serves the rate table snapshot.
type RateHandler struct {
	table  *vat.RateTable
	logger *zap.Logger
	now    func() time.Time
}

// NewRateHandler creates a new rate handler.
func NewRateHandler(table *vat.RateTable, logger *zap.Logger) *RateHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateHandler{table: table, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// RegisterRoutes registers the rate routes on mux behind mw.
func (h *RateHandler) RegisterRoutes(mux *http.ServeMux, mw Middleware) {
	handle(mux, "GET /vat/rates", mw, h.List)
}

type rateJSON struct {
	CountryCode string `json:"countryCode"`
	CountryName string `json:"countryName"`
	Rate        string `json:"rate"`
	ValidFrom   string `json:"validFrom"`
}

type ratesResponse struct {
	Date     string     `json:"date"`
	LoadedAt time.Time  `json:"loadedAt"`
	Rates    []rateJSON `json:"rates"`
}

// List handles GET /vat/rates?date=YYYY-MM-DD. Without a date the rates in
// force today are returned.
func (h *RateHandler) List(w http.ResponseWriter, r *http.Request) {
	if _, ok := shopFrom(w, r); !ok {
		return
	}
	at := h.now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			badRequest(w, "date must be YYYY-MM-DD")
			return
		}
		at = parsed
	}

	rates := h.table.StandardRatesAt(at)
	data := make([]rateJSON, len(rates))
	for i, cr := range rates {
		data[i] = rateJSON{
			CountryCode: cr.CountryCode,
			CountryName: cr.CountryName,
			Rate:        money(cr.Rate),
			ValidFrom:   cr.ValidFrom.Format(time.DateOnly),
		}
	}
	writeJSON(w, http.StatusOK, ratesResponse{
		Date:     at.Format(time.DateOnly),
		LoadedAt: utc(h.table.LoadedAt()),
		Rates:    data,
	})
}
