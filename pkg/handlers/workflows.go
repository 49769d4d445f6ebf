package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/healthsync/connector-engine/pkg/auth"
	"github.com/healthsync/connector-engine/pkg/models"
	"github.com/healthsync/connector-engine/pkg/services"
)

// WorkflowsHandler manages the fields, field mappings and connector
// configurations of a workflow.
type WorkflowsHandler struct {
	fields         services.WorkflowFieldService
	mappings       services.FieldMappingService
	configurations services.WorkflowConfigurationService
	logger         *zap.Logger
}

// NewWorkflowsHandler creates a new workflows handler.
func NewWorkflowsHandler(
	fields services.WorkflowFieldService,
	mappings services.FieldMappingService,
	configurations services.WorkflowConfigurationService,
	logger *zap.Logger,
) *WorkflowsHandler {
	return &WorkflowsHandler{
		fields:         fields,
		mappings:       mappings,
		configurations: configurations,
		logger:         logger,
	}
}

// RegisterRoutes registers the workflows handler's routes on the given mux.
func (h *WorkflowsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /api/workflows/{wid}/fields", authMiddleware.RequireAdmin(h.ListFields))
	mux.HandleFunc("PUT /api/workflows/{wid}/fields", authMiddleware.RequireAdmin(h.UpsertFields))
	mux.HandleFunc("DELETE /api/workflows/{wid}/fields/{fid}", authMiddleware.RequireAdmin(h.DeleteField))

	mux.HandleFunc("GET /api/workflows/{wid}/field-mappings", authMiddleware.RequireAdmin(h.ListMappings))
	mux.HandleFunc("PUT /api/workflows/{wid}/field-mappings", authMiddleware.RequireAdmin(h.UpsertMappings))
	mux.HandleFunc("DELETE /api/workflows/{wid}/field-mappings/{mid}", authMiddleware.RequireAdmin(h.DeleteMapping))

	mux.HandleFunc("GET /api/workflows/{wid}/configurations", authMiddleware.RequireAdmin(h.ListConfigurations))
	mux.HandleFunc("PUT /api/workflows/{wid}/configurations", authMiddleware.RequireAdmin(h.UpsertConfigurations))
	mux.HandleFunc("DELETE /api/workflow-configurations/{id}", authMiddleware.RequireAdmin(h.DeleteConfiguration))
}

// ListFields handles GET /api/workflows/{wid}/fields
func (h *WorkflowsHandler) ListFields(w http.ResponseWriter, r *http.Request) {
	wid, ok := ParseWorkflowID(w, r, h.logger)
	if !ok {
		return
	}

	fields, err := h.fields.GetWorkflowFields(r.Context(), wid)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	if fields == nil {
		fields = []*models.WorkflowField{}
	}
	writeOK(w, http.StatusOK, fields, h.logger)
}

// UpsertFields handles PUT /api/workflows/{wid}/fields
func (h *WorkflowsHandler) UpsertFields(w http.ResponseWriter, r *http.Request) {
	wid, ok := ParseWorkflowID(w, r, h.logger)
	if !ok {
		return
	}

	var items []services.WorkflowFieldInput
	if !decodeBody(w, r, &items, h.logger) {
		return
	}

	fields, err := h.fields.UpsertWorkflowFields(r.Context(), wid, items)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeOK(w, http.StatusOK, fields, h.logger)
}

// DeleteField handles DELETE /api/workflows/{wid}/fields/{fid}
func (h *WorkflowsHandler) DeleteField(w http.ResponseWriter, r *http.Request) {
	wid, ok := ParseWorkflowID(w, r, h.logger)
	if !ok {
		return
	}
	fid, ok := ParseFieldID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.fields.RemoveWorkflowField(r.Context(), wid, fid); err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListMappings handles GET /api/workflows/{wid}/field-mappings
func (h *WorkflowsHandler) ListMappings(w http.ResponseWriter, r *http.Request) {
	wid, ok := ParseWorkflowID(w, r, h.logger)
	if !ok {
		return
	}

	mappings, err := h.mappings.GetWorkflowFieldMappings(r.Context(), wid)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	if mappings == nil {
		mappings = []*models.FieldMapping{}
	}
	writeOK(w, http.StatusOK, mappings, h.logger)
}

// UpsertMappings handles PUT /api/workflows/{wid}/field-mappings
// The batch is validated as a whole; on any item error nothing is written and
// every problem is reported in the 422 details.
func (h *WorkflowsHandler) UpsertMappings(w http.ResponseWriter, r *http.Request) {
	wid, ok := ParseWorkflowID(w, r, h.logger)
	if !ok {
		return
	}

	var items []services.FieldMappingInput
	if !decodeBody(w, r, &items, h.logger) {
		return
	}

	mappings, err := h.mappings.UpsertFieldMappings(r.Context(), wid, items)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("Saved field mappings",
		zap.String("workflow_id", wid.String()),
		zap.Int("count", len(mappings)))
	writeOK(w, http.StatusOK, mappings, h.logger)
}

// DeleteMapping handles DELETE /api/workflows/{wid}/field-mappings/{mid}
func (h *WorkflowsHandler) DeleteMapping(w http.ResponseWriter, r *http.Request) {
	wid, ok := ParseWorkflowID(w, r, h.logger)
	if !ok {
		return
	}
	mid, ok := ParseMappingID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.mappings.DeleteFieldMapping(r.Context(), wid, mid); err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListConfigurations handles GET /api/workflows/{wid}/configurations
func (h *WorkflowsHandler) ListConfigurations(w http.ResponseWriter, r *http.Request) {
	wid, ok := ParseWorkflowID(w, r, h.logger)
	if !ok {
		return
	}

	configs, err := h.configurations.GetWorkflowConfigurations(r.Context(), wid)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	if configs == nil {
		configs = []*models.WorkflowConfiguration{}
	}
	writeOK(w, http.StatusOK, configs, h.logger)
}

// UpsertConfigurations handles PUT /api/workflows/{wid}/configurations
func (h *WorkflowsHandler) UpsertConfigurations(w http.ResponseWriter, r *http.Request) {
	wid, ok := ParseWorkflowID(w, r, h.logger)
	if !ok {
		return
	}

	var items []services.WorkflowConfigurationInput
	if !decodeBody(w, r, &items, h.logger) {
		return
	}

	configs, err := h.configurations.UpsertWorkflowConfigurations(r.Context(), wid, items)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeOK(w, http.StatusOK, configs, h.logger)
}

// DeleteConfiguration handles DELETE /api/workflow-configurations/{id}
func (h *WorkflowsHandler) DeleteConfiguration(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseConfigurationID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.configurations.RemoveWorkflowConfiguration(r.Context(), id); err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
