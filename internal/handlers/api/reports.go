package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/euvatease/api/internal/archive"
	"github.com/euvatease/api/internal/export"
	"github.com/euvatease/api/internal/middleware"
	"github.com/euvatease/api/internal/services/report"
	"github.com/euvatease/api/internal/services/shop"
)

// ArchiveLinker returns download links of an archived report.
type ArchiveLinker interface {
	Links(ctx context.Context, r report.Report) ([]archive.Link, error)
}

// ReportHandler serves the OSS report lifecycle routes.
type ReportHandler struct {
	reports *report.Service
	shops   *shop.Service
	archive ArchiveLinker
	logger  *zap.Logger
	now     func() time.Time
}

// NewReportHandler creates a new report handler. archive may be nil when
// archiving is disabled.
func NewReportHandler(reports *report.Service, shops *shop.Service, archive ArchiveLinker, logger *zap.Logger) *ReportHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportHandler{
		reports: reports,
		shops:   shops,
		archive: archive,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RegisterRoutes registers the report routes on mux behind mw.
func (h *ReportHandler) RegisterRoutes(mux *http.ServeMux, mw Middleware) {
	handle(mux, "GET /oss/reports", mw, h.List)
	handle(mux, "POST /oss/reports/generate", mw, h.Generate)
	handle(mux, "POST /oss/preview", mw, h.Preview)
	handle(mux, "GET /oss/deadline", mw, h.Deadline)
	handle(mux, "GET /oss/reports/{id}", mw, h.Get)
	handle(mux, "POST /oss/reports/{id}/submit", mw, h.Submit)
	handle(mux, "GET /oss/reports/{id}/archive", mw, h.ArchiveLinks)
	handle(mux, "GET /oss/reports/{id}/csv", mw, h.Export(export.FormatCSV))
	handle(mux, "GET /oss/reports/{id}/pdf", mw, h.Export(export.FormatPDF))
	handle(mux, "GET /oss/reports/{id}/xlsx", mw, h.Export(export.FormatXLSX))
}

type periodRequest struct {
	Year    int `json:"year"`
	Quarter int `json:"quarter"`
}

type submitRequest struct {
	Notes string `json:"notes"`
}

type lineJSON struct {
	CountryCode   string `json:"countryCode"`
	CountryName   string `json:"countryName"`
	Rate          string `json:"rate"`
	TaxableAmount string `json:"taxableAmount"`
	VATAmount     string `json:"vatAmount"`
	OrderCount    int    `json:"orderCount"`
}

type reportJSON struct {
	ID             *uuid.UUID `json:"id"`
	Year           int        `json:"year"`
	Quarter        int        `json:"quarter"`
	Period         string     `json:"period"`
	Status         string     `json:"status"`
	GeneratedAt    *time.Time `json:"generatedAt"`
	SubmittedAt    *time.Time `json:"submittedAt"`
	Notes          string     `json:"notes,omitempty"`
	TotalSales     string     `json:"totalSales"`
	TotalVAT       string     `json:"totalVat"`
	TotalOrders    int        `json:"totalOrders"`
	ExemptOrders   int        `json:"exemptOrders"`
	CountriesCount int        `json:"countriesCount"`
	Version        int        `json:"version"`
	Lines          []lineJSON `json:"lines"`
}

func toReportJSON(r report.Report) reportJSON {
	out := reportJSON{
		Year:           r.Year,
		Quarter:        r.Quarter,
		Period:         r.Period().String(),
		Status:         string(r.Status),
		GeneratedAt:    utcPtr(r.GeneratedAt),
		SubmittedAt:    utcPtr(r.SubmittedAt),
		Notes:          r.Notes,
		TotalSales:     money(r.TotalSales),
		TotalVAT:       money(r.TotalVAT),
		TotalOrders:    r.TotalOrders,
		ExemptOrders:   r.ExemptOrders,
		CountriesCount: r.CountriesCount,
		Version:        r.Version,
		Lines:          make([]lineJSON, len(r.Lines)),
	}
	if r.ID != uuid.Nil {
		id := r.ID
		out.ID = &id
	}
	for i, l := range r.Lines {
		out.Lines[i] = lineJSON{
			CountryCode:   l.CountryCode,
			CountryName:   l.CountryName,
			Rate:          money(l.Rate),
			TaxableAmount: money(l.TaxableAmount),
			VATAmount:     money(l.VATAmount),
			OrderCount:    l.OrderCount,
		}
	}
	return out
}

type linkJSON struct {
	Format string `json:"format"`
	Key    string `json:"key"`
	URL    string `json:"url"`
}

type deadlineJSON struct {
	Period   string    `json:"period"`
	DueAt    time.Time `json:"dueAt"`
	DaysLeft int       `json:"daysLeft"`
}

func toDeadlineJSON(d report.Deadline) deadlineJSON {
	return deadlineJSON{Period: d.Period.String(), DueAt: utc(d.DueAt), DaysLeft: d.DaysLeft}
}

// List handles GET /oss/reports.
func (h *ReportHandler) List(w http.ResponseWriter, r *http.Request) {
	shopID, ok := shopFrom(w, r)
	if !ok {
		return
	}
	reports, err := h.reports.List(r.Context(), shopID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	data := make([]reportJSON, len(reports))
	for i, rep := range reports {
		data[i] = toReportJSON(rep)
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

// Generate handles POST /oss/reports/generate {year, quarter}.
func (h *ReportHandler) Generate(w http.ResponseWriter, r *http.Request) {
	shopID, ok := shopFrom(w, r)
	if !ok {
		return
	}
	var req periodRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rep, err := h.reports.Generate(r.Context(), shopID, req.Year, req.Quarter)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportJSON(rep))
}

// Preview handles POST /oss/preview {year, quarter}. Nothing is stored.
func (h *ReportHandler) Preview(w http.ResponseWriter, r *http.Request) {
	shopID, ok := shopFrom(w, r)
	if !ok {
		return
	}
	var req periodRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rep, err := h.reports.Preview(r.Context(), shopID, req.Year, req.Quarter)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportJSON(rep))
}

// Deadline handles GET /oss/deadline.
func (h *ReportHandler) Deadline(w http.ResponseWriter, r *http.Request) {
	if _, ok := shopFrom(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, toDeadlineJSON(h.reports.NextDeadline(h.now())))
}

func (h *ReportHandler) load(w http.ResponseWriter, r *http.Request) (report.Report, bool) {
	shopID, ok := shopFrom(w, r)
	if !ok {
		return report.Report{}, false
	}
	id, ok := pathID(w, r)
	if !ok {
		return report.Report{}, false
	}
	rep, err := h.reports.Get(r.Context(), shopID, id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return report.Report{}, false
	}
	return rep, true
}

// Get handles GET /oss/reports/{id}.
func (h *ReportHandler) Get(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toReportJSON(rep))
}

// Submit handles POST /oss/reports/{id}/submit {notes}.
func (h *ReportHandler) Submit(w http.ResponseWriter, r *http.Request) {
	shopID, ok := shopFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	rep, err := h.reports.Submit(r.Context(), shopID, id, req.Notes)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportJSON(rep))
}

// ArchiveLinks handles GET /oss/reports/{id}/archive.
func (h *ReportHandler) ArchiveLinks(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		middleware.WriteJSONError(w, http.StatusNotFound, CodeNotFound, "report archive is disabled")
		return
	}
	rep, ok := h.load(w, r)
	if !ok {
		return
	}
	links, err := h.archive.Links(r.Context(), rep)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	data := make([]linkJSON, len(links))
	for i, l := range links {
		data[i] = linkJSON{Format: string(l.Format), Key: l.Key, URL: l.URL}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

// Export returns the handler of GET /oss/reports/{id}/<format>. Only
// generated or submitted reports can be exported.
func (h *ReportHandler) Export(f export.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, ok := h.load(w, r)
		if !ok {
			return
		}
		if rep.Status == report.StatusDraft {
			writeError(w, r, h.logger, errors.Wrapf(report.ErrNotGenerated, "report %s", rep.Period()))
			return
		}
		sh, err := h.shops.Get(r.Context(), rep.ShopID)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}

		doc := export.Document{Report: rep, Shop: sh}
		body, err := export.Render(f, doc)
		if err != nil {
			writeError(w, r, h.logger, errors.Wrapf(err, "render %s", f))
			return
		}
		w.Header().Set("Content-Type", f.ContentType())
		w.Header().Set("Content-Disposition", `attachment; filename="`+doc.Filename(f)+`"`)
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}
}
