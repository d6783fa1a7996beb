package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/euvatease/api/internal/services/audit"
	"github.com/euvatease/api/internal/services/order"
	"github.com/euvatease/api/internal/services/threshold"
	"github.com/euvatease/api/internal/vat"
)

// OrderHandler serves order ingest, audit and error summary routes.
type OrderHandler struct {
	audits *audit.Service
	orders *order.Service
	logger *zap.Logger
}

// NewOrderHandler creates a new order handler.
func NewOrderHandler(audits *audit.Service, orders *order.Service, logger *zap.Logger) *OrderHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderHandler{audits: audits, orders: orders, logger: logger}
}

// RegisterRoutes registers the order routes on mux behind mw.
func (h *OrderHandler) RegisterRoutes(mux *http.ServeMux, mw Middleware) {
	handle(mux, "POST /vat/orders", mw, h.Ingest)
	handle(mux, "GET /vat/orders", mw, h.List)
	handle(mux, "GET /vat/orders/{id}", mw, h.Get)
	handle(mux, "POST /vat/orders/{id}/analyze", mw, h.Reaudit)
	handle(mux, "POST /vat/analyze", mw, h.AnalyzeAll)
	handle(mux, "GET /vat/errors/summary", mw, h.ErrorSummary)
}

type orderRequest struct {
	ExternalID         string           `json:"externalId"`
	DestinationCountry string           `json:"destinationCountry"`
	BuyerType          string           `json:"buyerType"`
	VATNumber          string           `json:"vatNumber"`
	Currency           string           `json:"currency"`
	Subtotal           decimal.Decimal  `json:"subtotal"`
	SubtotalEUR        *decimal.Decimal `json:"subtotalEur"`
	TaxAmount          decimal.Decimal  `json:"taxAmount"`
	TotalAmount        decimal.Decimal  `json:"totalAmount"`
	AppliedRate        decimal.Decimal  `json:"appliedRate"`
	OrderedAt          time.Time        `json:"orderedAt"`
}

type orderJSON struct {
	ID                 uuid.UUID  `json:"id"`
	ExternalID         string     `json:"externalId,omitempty"`
	DestinationCountry string     `json:"destinationCountry"`
	BuyerType          string     `json:"buyerType"`
	VATNumber          string     `json:"vatNumber,omitempty"`
	Currency           string     `json:"currency"`
	Subtotal           string     `json:"subtotal"`
	SubtotalEUR        *string    `json:"subtotalEur"`
	TaxAmount          string     `json:"taxAmount"`
	TotalAmount        string     `json:"totalAmount"`
	AppliedRate        string     `json:"appliedRate"`
	OrderedAt          time.Time  `json:"orderedAt"`
	ExpectedRate       *string    `json:"expectedRate"`
	Treatment          string     `json:"treatment,omitempty"`
	VATDifference      *string    `json:"vatDifference"`
	Discrepancy        string     `json:"discrepancy,omitempty"`
	HasError           bool       `json:"hasError"`
	AuditedAt          *time.Time `json:"auditedAt"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

func toOrderJSON(o order.Order) orderJSON {
	return orderJSON{
		ID:                 o.ID,
		ExternalID:         o.ExternalID,
		DestinationCountry: o.DestinationCountry,
		BuyerType:          string(o.BuyerType),
		VATNumber:          o.VATNumber,
		Currency:           o.Currency,
		Subtotal:           money(o.Subtotal),
		SubtotalEUR:        moneyPtr(o.SubtotalEUR),
		TaxAmount:          money(o.TaxAmount),
		TotalAmount:        money(o.TotalAmount),
		AppliedRate:        money(o.AppliedRate),
		OrderedAt:          utc(o.OrderedAt),
		ExpectedRate:       moneyPtr(o.ExpectedRate),
		Treatment:          string(o.Treatment),
		VATDifference:      moneyPtr(o.VATDifference),
		Discrepancy:        string(o.Discrepancy),
		HasError:           o.HasError,
		AuditedAt:          utcPtr(o.AuditedAt),
		CreatedAt:          utc(o.CreatedAt),
		UpdatedAt:          utc(o.UpdatedAt),
	}
}

type thresholdJSON struct {
	Year     int    `json:"year"`
	TotalEUR string `json:"totalEur"`
	Status   string `json:"status"`
}

func toThresholdJSON(st threshold.State) thresholdJSON {
	return thresholdJSON{Year: st.Year, TotalEUR: money(st.TotalEUR), Status: string(st.Status)}
}

type ingestResponse struct {
	Order     orderJSON     `json:"order"`
	Threshold thresholdJSON `json:"threshold"`
}

// Ingest handles POST /vat/orders. The order is stored, audited and counted
// towards the OSS threshold in one step. Re-sending a known externalId
// replaces the stored order.
func (h *OrderHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	shopID, ok := shopFrom(w, r)
	if !ok {
		return
	}
	var req orderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.audits.Ingest(r.Context(), order.Order{
		ShopID:             shopID,
		ExternalID:         req.ExternalID,
		DestinationCountry: req.DestinationCountry,
		BuyerType:          vat.BuyerType(req.BuyerType),
		VATNumber:          req.VATNumber,
		Currency:           req.Currency,
		Subtotal:           req.Subtotal,
		SubtotalEUR:        req.SubtotalEUR,
		TaxAmount:          req.TaxAmount,
		TotalAmount:        req.TotalAmount,
		AppliedRate:        req.AppliedRate,
		OrderedAt:          req.OrderedAt,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, ingestResponse{
		Order:     toOrderJSON(res.Order),
		Threshold: toThresholdJSON(res.Threshold),
	})
}

// List handles GET /vat/orders?page&size&hasErrors.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	shopID, ok := shopFrom(w, r)
	if !ok {
		return
	}
	page, size, ok := parsePage(w, r)
	if !ok {
		return
	}
	hasErrors, ok := parseOptionalBool(w, r, "hasErrors")
	if !ok {
		return
	}

	page, size = order.NormalizePage(page, size)
	orders, total, err := h.orders.List(r.Context(), shopID, order.ListFilter{Page: page, Size: size, HasErrors: hasErrors})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	data := make([]orderJSON, len(orders))
	for i, o := range orders {
		data[i] = toOrderJSON(o)
	}
	writeJSON(w, http.StatusOK, newListResponse(data, page, size, total))
}

// Get handles GET /vat/orders/{id}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	shopID, ok := shopFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	o, err := h.orders.Get(r.Context(), shopID, id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderJSON(o))
}

// Reaudit handles POST /vat/orders/{id}/analyze.
func (h *OrderHandler) Reaudit(w http.ResponseWriter, r *http.Request) {
	shopID, ok := shopFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	o, err := h.audits.Reaudit(r.Context(), shopID, id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderJSON(o))
}

type analyzeResponse struct {
	Audited     int `json:"audited"`
	WithErrors  int `json:"withErrors"`
	Unsupported int `json:"unsupported"`
}

// AnalyzeAll handles POST /vat/analyze, re-auditing every stored order.
func (h *OrderHandler) AnalyzeAll(w http.ResponseWriter, r *http.Request) {
	shopID, ok := shopFrom(w, r)
	if !ok {
		return
	}
	sum, err := h.audits.Analyze(r.Context(), shopID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, analyzeResponse{
		Audited:     sum.Audited,
		WithErrors:  sum.WithErrors,
		Unsupported: sum.Unsupported,
	})
}

type errorSummaryJSON struct {
	Total      int            `json:"total"`
	Audited    int            `json:"audited"`
	WithErrors int            `json:"withErrors"`
	ByType     map[string]int `json:"byType"`
}

func toErrorSummaryJSON(st order.Stats) errorSummaryJSON {
	byType := make(map[string]int, len(st.ByDiscrepancy))
	for d, n := range st.ByDiscrepancy {
		byType[string(d)] = n
	}
	return errorSummaryJSON{Total: st.Total, Audited: st.Audited, WithErrors: st.WithErrors, ByType: byType}
}

// ErrorSummary handles GET /vat/errors/summary.
func (h *OrderHandler) ErrorSummary(w http.ResponseWriter, r *http.Request) {
	shopID, ok := shopFrom(w, r)
	if !ok {
		return
	}
	st, err := h.orders.ErrorSummary(r.Context(), shopID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toErrorSummaryJSON(st))
}
