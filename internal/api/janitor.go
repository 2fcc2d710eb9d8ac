package api

import (
	"net/http"

	"github.com/lakequery/lakequery/internal/auth"
)

func handleJanitorRun(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Janitor == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "JANITOR_NOT_CONFIGURED", "janitor is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleOpsAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	summary, err := deps.Janitor.RunOnce(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "JANITOR_RUN_FAILED", "janitor run failed", true, map[string]any{
			"details": err.Error(),
			"summary": summary,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "completed",
		"summary": summary,
	})
}
