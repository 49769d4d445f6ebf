package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/healthsync/connector-engine/pkg/auth"
	"github.com/healthsync/connector-engine/pkg/models"
	"github.com/healthsync/connector-engine/pkg/services"
)

// ConnectionResponse is a stored connection with its secrets masked.
type ConnectionResponse struct {
	ID             uuid.UUID          `json:"id"`
	Name           string             `json:"name"`
	Type           string             `json:"type"`
	Configuration  map[string]any     `json:"configuration"`
	IsActive       bool               `json:"isActive"`
	LastTestedAt   *time.Time         `json:"lastTestedAt,omitempty"`
	LastTestResult *models.TestResult `json:"lastTestResult,omitempty"`
	CreatedBy      string             `json:"createdBy,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

func toConnectionResponse(c *models.Connection) ConnectionResponse {
	return ConnectionResponse{
		ID:             c.ID,
		Name:           c.Name,
		Type:           string(c.Type),
		Configuration:  c.MaskedConfig(),
		IsActive:       c.IsActive,
		LastTestedAt:   c.LastTestedAt,
		LastTestResult: c.LastTestResult,
		CreatedBy:      c.CreatedBy,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

// TestConfigurationRequest is the body of POST /api/connections/test.
type TestConfigurationRequest struct {
	Type          string         `json:"type"`
	Configuration map[string]any `json:"configuration"`
}

// ConnectionsHandler handles connection CRUD and connectivity tests.
type ConnectionsHandler struct {
	connections services.ConnectionService
	integration services.IntegrationService
	logger      *zap.Logger
}

// NewConnectionsHandler creates a new connections handler.
func NewConnectionsHandler(connections services.ConnectionService, integration services.IntegrationService, logger *zap.Logger) *ConnectionsHandler {
	return &ConnectionsHandler{
		connections: connections,
		integration: integration,
		logger:      logger,
	}
}

// RegisterRoutes registers the connections handler's routes on the given mux.
func (h *ConnectionsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /api/connections", authMiddleware.RequireAdmin(h.List))
	mux.HandleFunc("POST /api/connections", authMiddleware.RequireAdmin(h.Create))
	mux.HandleFunc("POST /api/connections/test", authMiddleware.RequireAdmin(h.TestConfiguration))
	mux.HandleFunc("GET /api/connections/{id}", authMiddleware.RequireAdmin(h.Get))
	mux.HandleFunc("PATCH /api/connections/{id}", authMiddleware.RequireAdmin(h.Update))
	mux.HandleFunc("DELETE /api/connections/{id}", authMiddleware.RequireAdmin(h.Delete))
	mux.HandleFunc("POST /api/connections/{id}/test", authMiddleware.RequireAdmin(h.Test))
}

// List handles GET /api/connections
func (h *ConnectionsHandler) List(w http.ResponseWriter, r *http.Request) {
	conns, err := h.connections.FindAll(r.Context())
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	resp := make([]ConnectionResponse, 0, len(conns))
	for _, c := range conns {
		resp = append(resp, toConnectionResponse(c))
	}
	writeOK(w, http.StatusOK, resp, h.logger)
}

// Create handles POST /api/connections
func (h *ConnectionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req services.CreateConnectionRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}
	req.CreatedBy = auth.GetSubject(r.Context())

	conn, err := h.connections.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("Created connection",
		zap.String("connection_id", conn.ID.String()),
		zap.String("type", string(conn.Type)))
	writeOK(w, http.StatusCreated, toConnectionResponse(conn), h.logger)
}

// Get handles GET /api/connections/{id}
func (h *ConnectionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseConnectionID(w, r, h.logger)
	if !ok {
		return
	}

	conn, err := h.connections.FindOne(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeOK(w, http.StatusOK, toConnectionResponse(conn), h.logger)
}

// Update handles PATCH /api/connections/{id}
// Configuration keys are merged; a masked secret keeps the stored value.
func (h *ConnectionsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseConnectionID(w, r, h.logger)
	if !ok {
		return
	}

	var req services.UpdateConnectionRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	conn, err := h.connections.Update(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeOK(w, http.StatusOK, toConnectionResponse(conn), h.logger)
}

// Delete handles DELETE /api/connections/{id}
func (h *ConnectionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseConnectionID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.connections.Remove(r.Context(), id); err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("Deleted connection", zap.String("connection_id", id.String()))
	w.WriteHeader(http.StatusNoContent)
}

// Test handles POST /api/connections/{id}/test
// A failed test is still a 200; the outcome is in the body.
func (h *ConnectionsHandler) Test(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseConnectionID(w, r, h.logger)
	if !ok {
		return
	}

	result, err := h.integration.TestConnection(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeOK(w, http.StatusOK, result, h.logger)
}

// TestConfiguration handles POST /api/connections/test for unsaved parameters.
func (h *ConnectionsHandler) TestConfiguration(w http.ResponseWriter, r *http.Request) {
	var req TestConfigurationRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	result, err := h.integration.TestConfiguration(r.Context(), req.Type, req.Configuration)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeOK(w, http.StatusOK, result, h.logger)
}
