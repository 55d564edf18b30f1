package handler

import (
	"log/slog"
	"net/http"

	"github.com/rotagate/rotagate/internal/service"
)

// AuditHandler serves the audit trail to operators.
type AuditHandler struct {
	audit  *service.Auditor
	logger *slog.Logger
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(audit *service.Auditor, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger}
}

// Recent returns the newest audit entries.
// GET /api/v1/audit?limit=N
func (h *AuditHandler) Recent(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audit.Recent(r.Context(), queryInt(r, "limit", service.DefaultAuditLimit))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
