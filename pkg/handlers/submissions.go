package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/healthsync/connector-engine/pkg/auth"
	"github.com/healthsync/connector-engine/pkg/services"
)

// PushSubmissionRequest is the body of POST /api/workflows/{wid}/submissions/push.
type PushSubmissionRequest struct {
	Entries []map[string]any `json:"entries"`
}

// PushSubmissionResponse reports one outcome per active configuration.
type PushSubmissionResponse struct {
	Success  bool                   `json:"success"`
	Outcomes []services.PushOutcome `json:"outcomes"`
}

// SubmissionsHandler delivers completed workflow submissions to the
// external systems configured for the workflow.
type SubmissionsHandler struct {
	push   services.PushService
	logger *zap.Logger
}

// NewSubmissionsHandler creates a new submissions handler.
func NewSubmissionsHandler(push services.PushService, logger *zap.Logger) *SubmissionsHandler {
	return &SubmissionsHandler{push: push, logger: logger}
}

// RegisterRoutes registers the submissions handler's routes on the given mux.
func (h *SubmissionsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /api/workflows/{wid}/submissions/push", authMiddleware.RequireAdmin(h.Push))
}

// Push handles POST /api/workflows/{wid}/submissions/push
// Per-configuration failures are reported in the outcomes with a 200; only
// problems with the workflow setup produce an error status.
func (h *SubmissionsHandler) Push(w http.ResponseWriter, r *http.Request) {
	wid, ok := ParseWorkflowID(w, r, h.logger)
	if !ok {
		return
	}

	var req PushSubmissionRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	outcomes, err := h.push.PushSubmission(r.Context(), services.Submission{
		WorkflowID: wid,
		Entries:    req.Entries,
	})
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	resp := PushSubmissionResponse{Success: true, Outcomes: outcomes}
	if resp.Outcomes == nil {
		resp.Outcomes = []services.PushOutcome{}
	}
	for _, o := range outcomes {
		if !o.Success {
			resp.Success = false
		}
	}
	writeOK(w, http.StatusOK, resp, h.logger)
}
