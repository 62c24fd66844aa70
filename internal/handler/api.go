package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/movebid/quoteform/internal/catalog"
	"github.com/movebid/quoteform/internal/options"
	"github.com/movebid/quoteform/internal/postal"
)

// APIHandler serves the JSON lookups behind the entry form.
type APIHandler struct {
	catalog Catalog
	options *options.Registry
	postal  AddressLookup
	logger  *zap.Logger
}

// NewAPIHandler creates an APIHandler. postal may be nil.
func NewAPIHandler(cat Catalog, opts *options.Registry, postal AddressLookup, logger *zap.Logger) *APIHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{catalog: cat, options: opts, postal: postal, logger: logger}
}

// HandleLuggage returns the luggage catalog in display order.
// GET /api/luggage
func (h *APIHandler) HandleLuggage(w http.ResponseWriter, r *http.Request) {
	cats, err := h.catalog.Categories(r.Context())
	if err != nil {
		h.logger.Error("loading luggage catalog", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "CATALOG_UNAVAILABLE", "luggage catalog is unavailable")
		return
	}
	if cats == nil {
		cats = []catalog.Category{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": cats})
}

// HandleOptions returns every select option group.
// GET /api/options
func (h *APIHandler) HandleOptions(w http.ResponseWriter, r *http.Request) {
	out := make(map[string][]options.Option)
	for _, g := range h.options.Groups() {
		out[g] = h.options.Options(g)
	}
	out[options.MovingYearMonth] = h.options.Options(options.MovingYearMonth)
	writeJSON(w, http.StatusOK, out)
}

// HandlePostal resolves a postal code to an address.
// GET /api/postal/{zipcode}
func (h *APIHandler) HandlePostal(w http.ResponseWriter, r *http.Request) {
	if h.postal == nil {
		writeError(w, http.StatusNotFound, "LOOKUP_DISABLED", "postal lookup is disabled")
		return
	}
	zip := postal.FormatZipcode(chi.URLParam(r, "zipcode"))
	if !postal.IsValidZipcode(zip) {
		writeError(w, http.StatusBadRequest, "INVALID_ZIPCODE", "zipcode must be seven digits")
		return
	}
	addr, err := h.postal.Lookup(r.Context(), zip)
	switch {
	case errors.Is(err, postal.ErrUnavailable):
		h.logger.Warn("postal service unavailable", zap.String("zipcode", zip), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "LOOKUP_UNAVAILABLE", "postal lookup is temporarily unavailable")
		return
	case err != nil:
		h.logger.Warn("postal lookup", zap.String("zipcode", zip), zap.Error(err))
		writeError(w, http.StatusBadGateway, "LOOKUP_FAILED", "postal lookup failed")
		return
	}
	if addr == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no address for "+zip)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"zipcode": zip,
		"address": addr,
		"full":    postal.FormatFullAddress(*addr),
	})
}
