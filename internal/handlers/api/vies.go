package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/euvatease/api/internal/services/order"
	"github.com/euvatease/api/internal/services/validation"
)

// VIESHandler serves VAT number validation routes.
type VIESHandler struct {
	validations *validation.Service
	logger      *zap.Logger
}

// NewVIESHandler creates a new VIES handler.
func NewVIESHandler(validations *validation.Service, logger *zap.Logger) *VIESHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VIESHandler{validations: validations, logger: logger}
}

// RegisterRoutes registers the VIES routes on mux behind mw.
func (h *VIESHandler) RegisterRoutes(mux *http.ServeMux, mw Middleware) {
	handle(mux, "POST /vat/vies/validate", mw, h.Validate)
	handle(mux, "GET /vat/vies/history", mw, h.History)
	handle(mux, "POST /vat/vies/retry-failed", mw, h.RetryFailed)
}

type validateRequest struct {
	VATNumber string `json:"vatNumber"`
}

type outcomeJSON struct {
	RecordID       uuid.UUID `json:"recordId"`
	VATNumber      string    `json:"vatNumber"`
	CountryCode    string    `json:"countryCode"`
	Valid          bool      `json:"valid"`
	Status         string    `json:"status"`
	CompanyName    string    `json:"companyName,omitempty"`
	CompanyAddress string    `json:"companyAddress,omitempty"`
	ProofID        string    `json:"proofId,omitempty"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	ValidatedAt    time.Time `json:"validatedAt"`
	Reused         bool      `json:"reused"`
}

type recordJSON struct {
	ID             uuid.UUID `json:"id"`
	VATNumber      string    `json:"vatNumber"`
	CountryCode    string    `json:"countryCode"`
	Valid          bool      `json:"valid"`
	Status         string    `json:"status"`
	CompanyName    string    `json:"companyName,omitempty"`
	CompanyAddress string    `json:"companyAddress,omitempty"`
	ProofID        string    `json:"proofId,omitempty"`
	FailureReason  string    `json:"failureReason,omitempty"`
	Attempts       int       `json:"attempts"`
	ValidatedAt    time.Time `json:"validatedAt"`
}

type retryResponse struct {
	Attempted   int `json:"attempted"`
	Valid       int `json:"valid"`
	Invalid     int `json:"invalid"`
	Unavailable int `json:"unavailable"`
}

// Validate handles POST /vat/vies/validate. A number VIES could not answer
// for is recorded as UNAVAILABLE and answered with 503.
func (h *VIESHandler) Validate(w http.ResponseWriter, r *http.Request) {
	shopID, ok := shopFrom(w, r)
	if !ok {
		return
	}
	var req validateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.VATNumber == "" {
		badRequest(w, "vatNumber is required")
		return
	}

	out, err := h.validations.Validate(r.Context(), shopID, req.VATNumber)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomeJSON{
		RecordID:       out.RecordID,
		VATNumber:      out.VATNumber,
		CountryCode:    out.CountryCode,
		Valid:          out.Valid,
		Status:         string(out.Status),
		CompanyName:    out.CompanyName,
		CompanyAddress: out.CompanyAddress,
		ProofID:        out.ProofID,
		ErrorMessage:   out.ErrorMessage,
		ValidatedAt:    utc(out.ValidatedAt),
		Reused:         out.Reused,
	})
}

// History handles GET /vat/vies/history?page&size.
func (h *VIESHandler) History(w http.ResponseWriter, r *http.Request) {
	shopID, ok := shopFrom(w, r)
	if !ok {
		return
	}
	page, size, ok := parsePage(w, r)
	if !ok {
		return
	}
	page, size = order.NormalizePage(page, size)

	records, total, err := h.validations.History(r.Context(), shopID, page, size)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	data := make([]recordJSON, len(records))
	for i, rec := range records {
		data[i] = recordJSON{
			ID:             rec.ID,
			VATNumber:      rec.VATNumber,
			CountryCode:    rec.CountryCode,
			Valid:          rec.Valid,
			Status:         string(rec.Status),
			CompanyName:    rec.CompanyName,
			CompanyAddress: rec.CompanyAddress,
			ProofID:        rec.ProofID,
			FailureReason:  rec.FailureReason,
			Attempts:       rec.Attempts,
			ValidatedAt:    utc(rec.ValidatedAt),
		}
	}
	writeJSON(w, http.StatusOK, newListResponse(data, page, size, total))
}

// RetryFailed handles POST /vat/vies/retry-failed.
func (h *VIESHandler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	shopID, ok := shopFrom(w, r)
	if !ok {
		return
	}
	sum, err := h.validations.RetryFailed(r.Context(), shopID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, retryResponse{
		Attempted:   sum.Attempted,
		Valid:       sum.Valid,
		Invalid:     sum.Invalid,
		Unavailable: sum.Unavailable,
	})
}
