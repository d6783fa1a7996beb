package api

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/euvatease/api/internal/services/shop"
)

// ShopHandler serves the settings of the authenticated shop.
type ShopHandler struct {
	shops  *shop.Service
	logger *zap.Logger
}

// NewShopHandler creates a new shop handler.
func NewShopHandler(shops *shop.Service, logger *zap.Logger) *ShopHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShopHandler{shops: shops, logger: logger}
}

// RegisterRoutes registers the shop routes on mux behind mw.
func (h *ShopHandler) RegisterRoutes(mux *http.ServeMux, mw Middleware) {
	handle(mux, "GET /shop", mw, h.Get)
	handle(mux, "PUT /shop", mw, h.Update)
}

type shopRequest struct {
	Name          string `json:"name"`
	HomeCountry   string `json:"homeCountry"`
	OSSRegistered bool   `json:"ossRegistered"`
}

type shopJSON struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	HomeCountry   string    `json:"homeCountry"`
	OSSRegistered bool      `json:"ossRegistered"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func toShopJSON(s shop.Shop) shopJSON {
	return shopJSON{
		ID:            s.ID,
		Name:          s.Name,
		HomeCountry:   s.HomeCountry,
		OSSRegistered: s.OSSRegistered,
		Active:        s.Active,
		CreatedAt:     utc(s.CreatedAt),
		UpdatedAt:     utc(s.UpdatedAt),
	}
}

// Get handles GET /shop.
func (h *ShopHandler) Get(w http.ResponseWriter, r *http.Request) {
	shopID, ok := shopFrom(w, r)
	if !ok {
		return
	}
	s, err := h.shops.Get(r.Context(), shopID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toShopJSON(s))
}

// Update handles PUT /shop. The first call creates the shop settings as
// active; later calls keep the active flag.
func (h *ShopHandler) Update(w http.ResponseWriter, r *http.Request) {
	shopID, ok := shopFrom(w, r)
	if !ok {
		return
	}
	var req shopRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	current, err := h.shops.Get(r.Context(), shopID)
	switch {
	case errors.Is(err, shop.ErrNotFound):
		current = shop.Shop{ID: shopID, Active: true}
	case err != nil:
		writeError(w, r, h.logger, err)
		return
	}
	current.Name = req.Name
	current.HomeCountry = req.HomeCountry
	current.OSSRegistered = req.OSSRegistered

	saved, err := h.shops.Save(r.Context(), current)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toShopJSON(saved))
}
