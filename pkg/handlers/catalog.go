package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/healthsync/connector-engine/pkg/adapters/connector"
	"github.com/healthsync/connector-engine/pkg/auth"
	"github.com/healthsync/connector-engine/pkg/models"
	"github.com/healthsync/connector-engine/pkg/services"
)

// CatalogHandler exposes what a connection can see in its external system:
// schemas, DHIS2 programs, datasets and organisation units.
type CatalogHandler struct {
	integration services.IntegrationService
	logger      *zap.Logger
}

// NewCatalogHandler creates a new catalog handler.
func NewCatalogHandler(integration services.IntegrationService, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{integration: integration, logger: logger}
}

// RegisterRoutes registers the catalog handler's routes on the given mux.
func (h *CatalogHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /api/connections/{id}/schemas", authMiddleware.RequireAdmin(h.Schemas))
	mux.HandleFunc("GET /api/connections/{id}/programs", authMiddleware.RequireAdmin(h.Programs))
	mux.HandleFunc("GET /api/connections/{id}/datasets", authMiddleware.RequireAdmin(h.Datasets))
	mux.HandleFunc("GET /api/connections/{id}/org-units", authMiddleware.RequireAdmin(h.OrgUnits))
}

// Schemas handles GET /api/connections/{id}/schemas?type=&id=
func (h *CatalogHandler) Schemas(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseConnectionID(w, r, h.logger)
	if !ok {
		return
	}

	sel, ok := h.parseSelector(w, r)
	if !ok {
		return
	}

	elements, err := h.integration.FetchSchemas(r.Context(), id, sel)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	if elements == nil {
		elements = []models.SchemaElement{}
	}
	writeOK(w, http.StatusOK, elements, h.logger)
}

// Programs handles GET /api/connections/{id}/programs?page=&pageSize=
func (h *CatalogHandler) Programs(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseConnectionID(w, r, h.logger)
	if !ok {
		return
	}
	page, ok := ParsePage(w, r, h.logger)
	if !ok {
		return
	}

	result, err := h.integration.GetPrograms(r.Context(), id, page)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeOK(w, http.StatusOK, result, h.logger)
}

// Datasets handles GET /api/connections/{id}/datasets?page=&pageSize=
func (h *CatalogHandler) Datasets(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseConnectionID(w, r, h.logger)
	if !ok {
		return
	}
	page, ok := ParsePage(w, r, h.logger)
	if !ok {
		return
	}

	result, err := h.integration.GetDatasets(r.Context(), id, page)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeOK(w, http.StatusOK, result, h.logger)
}

// OrgUnits handles GET /api/connections/{id}/org-units?type=program|dataSet&id=
func (h *CatalogHandler) OrgUnits(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseConnectionID(w, r, h.logger)
	if !ok {
		return
	}
	sel, ok := h.parseSelector(w, r)
	if !ok {
		return
	}

	units, err := h.integration.GetOrgUnits(r.Context(), id, sel)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	if units == nil {
		units = []connector.OrgUnit{}
	}
	writeOK(w, http.StatusOK, units, h.logger)
}

func (h *CatalogHandler) parseSelector(w http.ResponseWriter, r *http.Request) (models.SchemaSelector, bool) {
	q := r.URL.Query()
	sel := models.SchemaSelector{Type: q.Get("type"), ID: q.Get("id")}
	if sel.Type == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "bad_request", "type query parameter is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return sel, false
	}
	return sel, true
}
