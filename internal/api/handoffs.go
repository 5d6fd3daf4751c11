package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/erazemk/najdeno/internal/handoff"
	"github.com/erazemk/najdeno/internal/model"
	"github.com/erazemk/najdeno/internal/store"
)

// HandoffsHandler serves the handoff sessions that confirm a physical
// return with a two-way code exchange.
type HandoffsHandler struct {
	DB      *sql.DB
	Service *handoff.Service
}

type createHandoffRequest struct {
	LostItemID  int64 `json:"lost_item_id"`
	FoundItemID int64 `json:"found_item_id"`
	// OwnerID defaults to the reporter of the lost item.
	OwnerID int64 `json:"owner_id"`
	// CounterpartID defaults to the caller.
	CounterpartID int64 `json:"counterpart_id"`
}

type submitRequest struct {
	Code string `json:"code"`
}

type submitResponse struct {
	Outcome handoff.Outcome `json:"outcome"`
	Session handoff.View    `json:"session"`
}

type resetResponse struct {
	ID        string         `json:"id"`
	Status    handoff.Status `json:"status"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// handoffItem loads an item that may take part in a handoff as kind. Only
// matched items qualify.
func handoffItem(ctx context.Context, db *sql.DB, id int64, kind model.ItemKind) (*model.Item, error) {
	field := kind.String() + "_item_id"
	if id <= 0 {
		return nil, model.NewValidationError(field, "required")
	}
	item, err := store.GetItem(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, model.NewValidationError(field, "item does not exist")
	}
	if item.Kind != kind {
		return nil, model.NewValidationError(field, fmt.Sprintf("must be a %s item", kind))
	}
	if item.Status != model.ItemStatusMatched {
		return nil, fmt.Errorf("item %d is %s, not matched: %w", item.ID, item.Status, model.ErrConflict)
	}
	return item, nil
}

// activeUser checks that id names a user who has not been deleted.
func activeUser(ctx context.Context, db *sql.DB, id int64, field string) error {
	user, err := store.GetUser(ctx, db, id)
	if err != nil {
		return err
	}
	if user == nil || user.DeletedAt != nil {
		return model.NewValidationError(field, "user does not exist")
	}
	return nil
}

// Create handles POST /api/handoffs for a confirmed pairing with no handoff
// in progress. The response carries the caller's own code when the caller
// is a party, and no code otherwise.
func (h *HandoffsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createHandoffRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	claims := GetClaims(r.Context())

	var sess *handoff.Session
	err := store.RunInTx(r.Context(), h.DB, func(ctx context.Context) error {
		lost, err := handoffItem(ctx, h.DB, req.LostItemID, model.ItemKindLost)
		if err != nil {
			return err
		}
		found, err := handoffItem(ctx, h.DB, req.FoundItemID, model.ItemKindFound)
		if err != nil {
			return err
		}
		if err := store.RequirePairing(ctx, h.DB, lost.ID, found.ID); err != nil {
			return err
		}
		busy, err := store.HasActiveSession(ctx, h.DB, lost.ID, found.ID, h.Service.Now())
		if err != nil {
			return err
		}
		if busy {
			return fmt.Errorf("a handoff is already in progress for these items: %w", model.ErrConflict)
		}

		p := handoff.CreateParams{
			LostItemID:    lost.ID,
			FoundItemID:   found.ID,
			OwnerID:       req.OwnerID,
			CounterpartID: req.CounterpartID,
			CreatedBy:     claims.UserID,
		}
		if p.OwnerID == 0 {
			p.OwnerID = lost.ReportedBy
		}
		if p.CounterpartID == 0 {
			p.CounterpartID = claims.UserID
		}
		if err := activeUser(ctx, h.DB, p.OwnerID, "owner_id"); err != nil {
			return err
		}
		if err := activeUser(ctx, h.DB, p.CounterpartID, "counterpart_id"); err != nil {
			return err
		}

		sess, err = h.Service.Create(ctx, p)
		if err != nil {
			return err
		}
		return store.InsertAudit(ctx, h.DB, model.AuditEntry{
			Action:     model.AuditHandoffCreated,
			EntityType: model.EntityHandoff,
			EntityID:   sess.ID,
			ActorID:    &claims.UserID,
			Details:    fmt.Sprintf("lost=%d found=%d owner=%d counterpart=%d", lost.ID, found.ID, p.OwnerID, p.CounterpartID),
		})
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	role, _ := sess.RoleOf(claims.UserID)
	jsonResponse(w, http.StatusCreated, h.Service.Project(sess, role))
}

// Get handles GET /api/handoffs/{id}. Parties see their own code; staff who
// are not a party see the session without codes.
func (h *HandoffsHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	privileged := model.RoleAtLeast(claims.Role, model.RoleStaff)

	view, err := h.Service.ViewFor(r.Context(), r.PathValue("id"), claims.UserID, privileged)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, view)
}

// Submit handles POST /api/handoffs/{id}/submit.
func (h *HandoffsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	claims := GetClaims(r.Context())
	id := r.PathValue("id")

	out, err := h.Service.Submit(r.Context(), id, claims.UserID, req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}

	view, err := h.Service.ViewFor(r.Context(), id, claims.UserID, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, submitResponse{Outcome: out, Session: view})
}

// Reset handles POST /api/handoffs/{id}/reset.
func (h *HandoffsHandler) Reset(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	id := r.PathValue("id")

	sess, err := h.Service.Reset(r.Context(), id, claims.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// The reset itself has committed; a failed audit write is logged only.
	if err := store.InsertAudit(r.Context(), h.DB, model.AuditEntry{
		Action:     model.AuditHandoffReset,
		EntityType: model.EntityHandoff,
		EntityID:   sess.ID,
		ActorID:    &claims.UserID,
		Details:    fmt.Sprintf("expires_at=%s", sess.ExpiresAt.Format(time.RFC3339)),
	}); err != nil {
		slog.Error("failed to audit handoff reset", "id", sess.ID, "error", err)
	}

	jsonResponse(w, http.StatusOK, resetResponse{ID: sess.ID, Status: sess.Status, ExpiresAt: sess.ExpiresAt})
}

// ListForItem handles GET /api/items/{id}/handoffs. Codes are never included.
func (h *HandoffsHandler) ListForItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	sessions, err := store.ListSessionsForItem(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	views := make([]handoff.View, 0, len(sessions))
	for i := range sessions {
		views = append(views, h.Service.Project(&sessions[i], ""))
	}
	jsonResponse(w, http.StatusOK, views)
}
