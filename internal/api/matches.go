package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/erazemk/najdeno/internal/match"
	"github.com/erazemk/najdeno/internal/model"
	"github.com/erazemk/najdeno/internal/store"
)

// MatchesHandler serves match suggestions and records staff decisions on them.
type MatchesHandler struct {
	DB       *sql.DB
	Engine   *match.Engine
	Defaults MatchDefaults
}

type matchesResponse struct {
	Source  *model.Item    `json:"source"`
	Matches []match.Result `json:"matches"`
}

type pairingResponse struct {
	Lost  *model.Item `json:"lost"`
	Found *model.Item `json:"found"`
}

// queryOptions reads limit and min_score, falling back to the defaults.
func (h *MatchesHandler) queryOptions(r *http.Request) (match.Options, error) {
	opts := match.Options{Limit: h.Defaults.Limit, MinScore: h.Defaults.MinScore}
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return opts, model.NewValidationError("limit", "must be a positive integer")
		}
		opts.Limit = n
	}
	if h.Defaults.MaxLimit > 0 {
		opts.Limit = min(opts.Limit, h.Defaults.MaxLimit)
	}

	if v := q.Get("min_score"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > match.MaxScore {
			return opts, model.NewValidationError("min_score", "must be between 0 and 100")
		}
		opts.MinScore = f
	}
	return opts, nil
}

// Find handles GET /api/items/{id}/matches.
func (h *MatchesHandler) Find(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	kind := model.ItemKind(r.URL.Query().Get("kind"))
	if kind != "" && !kind.IsValid() {
		jsonError(w, http.StatusBadRequest, "invalid kind")
		return
	}
	opts, err := h.queryOptions(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	source, err := store.GetItem(ctx, h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if source == nil {
		jsonError(w, http.StatusNotFound, "item not found")
		return
	}
	if kind == source.Kind {
		jsonError(w, http.StatusBadRequest, "candidates must be of the opposite kind")
		return
	}

	opts.Exclude, err = store.DeclinedWith(ctx, h.DB, source.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	candidates, err := store.ListCandidates(ctx, h.DB, source, kind)
	if err != nil {
		writeError(w, r, err)
		return
	}

	results, err := h.Engine.Rank(ctx, *source, candidates, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if results == nil {
		results = []match.Result{}
	}

	slog.Debug("matches ranked", "item", source.ID, "candidates", len(candidates), "excluded", len(opts.Exclude), "results", len(results))
	jsonResponse(w, http.StatusOK, matchesResponse{Source: source, Matches: results})
}

// pairIDs reads the source and candidate ids of a pairing route.
func pairIDs(w http.ResponseWriter, r *http.Request) (sourceID, candidateID int64, ok bool) {
	sourceID, ok = pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return 0, 0, false
	}
	candidateID, ok = pathID(r, "candidateId")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid candidate id")
		return 0, 0, false
	}
	if sourceID == candidateID {
		jsonError(w, http.StatusBadRequest, "an item cannot be paired with itself")
		return 0, 0, false
	}
	return sourceID, candidateID, true
}

// Decline handles POST /api/items/{id}/matches/{candidateId}/decline.
// Declining an already declined pairing succeeds without a new audit entry.
func (h *MatchesHandler) Decline(w http.ResponseWriter, r *http.Request) {
	sourceID, candidateID, ok := pairIDs(w, r)
	if !ok {
		return
	}
	claims := GetClaims(r.Context())

	err := store.RunInTx(r.Context(), h.DB, func(ctx context.Context) error {
		for _, id := range []int64{sourceID, candidateID} {
			item, err := store.GetItem(ctx, h.DB, id)
			if err != nil {
				return err
			}
			if item == nil {
				return fmt.Errorf("item %d: %w", id, model.ErrNotFound)
			}
		}

		excluded, err := store.DeclinedWith(ctx, h.DB, sourceID)
		if err != nil {
			return err
		}
		if excluded[candidateID] {
			return nil
		}
		if err := store.DeclinePairing(ctx, h.DB, sourceID, candidateID, claims.UserID); err != nil {
			return err
		}
		return store.InsertAudit(ctx, h.DB, model.AuditEntry{
			Action:     model.AuditPairingDeclined,
			EntityType: model.EntityItem,
			EntityID:   fmt.Sprint(sourceID),
			ActorID:    &claims.UserID,
			Details:    fmt.Sprintf("candidate=%d", candidateID),
		})
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("pairing declined", "user", claims.Username, "item", sourceID, "candidate", candidateID)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "pairing declined"})
}

// ListDeclined handles GET /api/items/{id}/declined.
func (h *MatchesHandler) ListDeclined(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	pairings, err := store.ListDeclined(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if pairings == nil {
		pairings = []model.DeclinedPairing{}
	}
	jsonResponse(w, http.StatusOK, pairings)
}

// Confirm handles POST /api/items/{id}/matches/{candidateId}/confirm.
func (h *MatchesHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	sourceID, candidateID, ok := pairIDs(w, r)
	if !ok {
		return
	}
	claims := GetClaims(r.Context())

	lost, found, err := store.ConfirmPairing(r.Context(), h.DB, sourceID, candidateID, claims.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("pairing confirmed", "user", claims.Username, "lost", lost.ID, "found", found.ID)
	jsonResponse(w, http.StatusOK, pairingResponse{Lost: lost, Found: found})
}
