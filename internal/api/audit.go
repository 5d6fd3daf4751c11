package api

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/erazemk/najdeno/internal/model"
	"github.com/erazemk/najdeno/internal/store"
)

// AuditHandler serves the audit log (admin only).
type AuditHandler struct {
	DB *sql.DB
}

// List handles GET /api/audit?entity=&entity_id=&limit=.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.AuditFilter{
		EntityType: q.Get("entity"),
		EntityID:   q.Get("entity_id"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			jsonError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		f.Limit = n
	}

	entries, err := store.ListAudit(r.Context(), h.DB, f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	jsonResponse(w, http.StatusOK, entries)
}
