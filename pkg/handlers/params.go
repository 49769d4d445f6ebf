package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/healthsync/connector-engine/pkg/adapters/connector"
)

// ParseConnectionID extracts and validates the connection ID from the request path.
// Returns the parsed UUID and true on success, or uuid.Nil and false on error
// (after writing an error response).
// Expects path parameter: id
func ParseConnectionID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "id", "Invalid connection ID format", logger)
}

// ParseWorkflowID extracts and validates the workflow ID from the request path.
// Expects path parameter: wid
func ParseWorkflowID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "wid", "Invalid workflow ID format", logger)
}

// ParseFieldID expects path parameter: fid
func ParseFieldID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "fid", "Invalid field ID format", logger)
}

// ParseMappingID expects path parameter: mid
func ParseMappingID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "mid", "Invalid mapping ID format", logger)
}

// ParseConfigurationID expects path parameter: id
func ParseConfigurationID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "id", "Invalid workflow configuration ID format", logger)
}

// parseUUID is the internal helper that does the actual parsing work.
func parseUUID(w http.ResponseWriter, r *http.Request, pathParam, errorMessage string, logger *zap.Logger) (uuid.UUID, bool) {
	idStr := r.PathValue(pathParam)
	id, err := uuid.Parse(idStr)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "bad_request", errorMessage); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}

// ParsePage reads the page and pageSize query parameters. Missing values are
// left zero for connector.Page.Normalize to fill in.
func ParsePage(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (connector.Page, bool) {
	var page connector.Page
	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"page", &page.Page},
		{"pageSize", &page.PageSize},
	} {
		raw := r.URL.Query().Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			if err := ErrorResponse(w, http.StatusBadRequest, "bad_request", p.name+" must be a positive integer"); err != nil {
				logger.Error("Failed to write error response", zap.Error(err))
			}
			return connector.Page{}, false
		}
		*p.dst = n
	}
	return page, true
}
