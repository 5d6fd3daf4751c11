package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/erazemk/najdeno/internal/auth"
	"github.com/erazemk/najdeno/internal/imaging"
	"github.com/erazemk/najdeno/internal/model"
	"github.com/erazemk/najdeno/internal/store"
)

// ItemsHandler handles lost and found reports.
type ItemsHandler struct {
	DB     *sql.DB
	Images imaging.Processor
}

type itemRequest struct {
	Kind        model.ItemKind `json:"kind"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Category    string         `json:"category"`
	Location    string         `json:"location"`
	OccurredOn  string         `json:"occurred_on"`
}

type statusRequest struct {
	Status model.ItemStatus `json:"status"`
}

// toItem converts the request into an item, collecting every field problem.
func (req itemRequest) toItem(now time.Time) (*model.Item, error) {
	item := &model.Item{
		Kind:        req.Kind,
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		Location:    strings.TrimSpace(req.Location),
	}
	if c, ok := model.ParseCategory(req.Category); ok {
		item.Category = c
	} else {
		item.Category = model.Category(req.Category)
	}

	var errs []model.FieldError
	if req.OccurredOn != "" {
		on, err := time.Parse(model.DateLayout, req.OccurredOn)
		if err != nil {
			errs = append(errs, model.FieldError{Field: "occurred_on", Message: "must be a date in YYYY-MM-DD form"})
		}
		item.OccurredOn = on
	}
	if err := item.Validate(now); err != nil {
		var verr *model.ValidationError
		if !errors.As(err, &verr) {
			return nil, err
		}
		for _, fe := range verr.Errors {
			if fe.Field == "occurred_on" && len(errs) > 0 {
				continue
			}
			errs = append(errs, fe)
		}
	}
	if len(errs) > 0 {
		return nil, model.NewValidationErrors(errs)
	}
	return item, nil
}

// canEdit reports whether the caller may change item: its reporter or staff+.
func canEdit(claims *auth.Claims, item *model.Item) bool {
	return claims.UserID == item.ReportedBy || model.RoleAtLeast(claims.Role, model.RoleStaff)
}

// loadItem fetches the item named by the id path value, writing the error
// response itself when it returns nil.
func (h *ItemsHandler) loadItem(w http.ResponseWriter, r *http.Request) *model.Item {
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return nil
	}
	item, err := store.GetItem(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return nil
	}
	if item == nil {
		jsonError(w, http.StatusNotFound, "item not found")
		return nil
	}
	return item
}

// Categories handles GET /api/categories.
func (h *ItemsHandler) Categories(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, model.Categories)
}

// List handles GET /api/items.
func (h *ItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.ItemFilter{
		Kind:   model.ItemKind(q.Get("kind")),
		Status: model.ItemStatus(q.Get("status")),
		Query:  q.Get("q"),
	}
	if f.Kind != "" && !f.Kind.IsValid() {
		jsonError(w, http.StatusBadRequest, "invalid kind")
		return
	}
	if f.Status != "" && !f.Status.IsValid() {
		jsonError(w, http.StatusBadRequest, "invalid status")
		return
	}
	if c := q.Get("category"); c != "" {
		category, ok := model.ParseCategory(c)
		if !ok {
			jsonError(w, http.StatusBadRequest, "invalid category")
			return
		}
		f.Category = category
	}
	if q.Get("mine") == "true" {
		f.ReportedBy = GetClaims(r.Context()).UserID
	}

	items, err := store.ListItems(r.Context(), h.DB, f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []model.Item{}
	}
	jsonResponse(w, http.StatusOK, items)
}

// Create handles POST /api/items.
func (h *ItemsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := req.toItem(time.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}

	claims := GetClaims(r.Context())
	item.ReportedBy = claims.UserID
	created, err := store.CreateItem(r.Context(), h.DB, item)
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("item reported", "user", claims.Username, "id", created.ID, "kind", created.Kind, "category", created.Category)
	jsonResponse(w, http.StatusCreated, created)
}

// Get handles GET /api/items/{id}.
func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	item := h.loadItem(w, r)
	if item == nil {
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

// Update handles PUT /api/items/{id}. Kind and status cannot change here.
func (h *ItemsHandler) Update(w http.ResponseWriter, r *http.Request) {
	item := h.loadItem(w, r)
	if item == nil {
		return
	}
	claims := GetClaims(r.Context())
	if !canEdit(claims, item) {
		jsonError(w, http.StatusForbidden, "only the reporter or staff can edit this item")
		return
	}
	if item.Status != model.ItemStatusOpen {
		jsonError(w, http.StatusConflict, "only open items can be edited")
		return
	}

	var req itemRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Kind = item.Kind

	updated, err := req.toItem(time.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	updated.ID = item.ID
	if err := store.UpdateItem(r.Context(), h.DB, updated); err != nil {
		writeError(w, r, err)
		return
	}

	item, err = store.GetItem(r.Context(), h.DB, item.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("item updated", "user", claims.Username, "id", item.ID)
	jsonResponse(w, http.StatusOK, item)
}

// SetStatus handles PUT /api/items/{id}/status.
func (h *ItemsHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	item := h.loadItem(w, r)
	if item == nil {
		return
	}

	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Status.IsValid() {
		jsonError(w, http.StatusBadRequest, "invalid status")
		return
	}

	claims := GetClaims(r.Context())
	err := store.RunInTx(r.Context(), h.DB, func(ctx context.Context) error {
		changed, err := store.SetItemStatus(ctx, h.DB, item.ID, req.Status)
		if err != nil || !changed {
			return err
		}
		// A reopened item is free to pair again.
		if req.Status == model.ItemStatusOpen {
			if err := store.DeletePairingsFor(ctx, h.DB, item.ID); err != nil {
				return err
			}
		}
		return store.InsertAudit(ctx, h.DB, model.AuditEntry{
			Action:     model.AuditItemStatus,
			EntityType: model.EntityItem,
			EntityID:   fmt.Sprint(item.ID),
			ActorID:    &claims.UserID,
			Details:    fmt.Sprintf("%s -> %s", item.Status, req.Status),
		})
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("item status changed", "user", claims.Username, "id", item.ID, "from", item.Status, "to", req.Status)
	item.Status = req.Status
	jsonResponse(w, http.StatusOK, item)
}

// UploadImage handles PUT /api/items/{id}/image. The photo is sent as the
// image field of a multipart form.
func (h *ItemsHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	item := h.loadItem(w, r)
	if item == nil {
		return
	}
	claims := GetClaims(r.Context())
	if !canEdit(claims, item) {
		jsonError(w, http.StatusForbidden, "only the reporter or staff can change the photo")
		return
	}

	maxBytes := h.Images.MaxBytes
	if maxBytes <= 0 {
		maxBytes = imaging.DefaultMaxBytes
	}
	// Leave room for the multipart envelope.
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		jsonError(w, http.StatusBadRequest, "file too large or invalid multipart form")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "image file required")
		return
	}
	defer file.Close()

	photo, err := h.Images.Process(file)
	switch {
	case errors.Is(err, imaging.ErrTooLarge):
		jsonError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	case errors.Is(err, imaging.ErrUnsupported):
		jsonError(w, http.StatusUnsupportedMediaType, "image must be JPEG, PNG, or WebP")
		return
	case err != nil:
		jsonError(w, http.StatusBadRequest, "invalid image")
		return
	}

	if err := store.SetItemImage(r.Context(), h.DB, item.ID, photo.Data, photo.MIME); err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("item image uploaded", "user", claims.Username, "id", item.ID, "width", photo.Width, "height", photo.Height)
	jsonResponse(w, http.StatusOK, map[string]any{"message": "image uploaded", "width": photo.Width, "height": photo.Height})
}

// GetImage handles GET /api/items/{id}/image.
func (h *ItemsHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	data, mime, err := store.GetItemImage(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if data == nil {
		jsonError(w, http.StatusNotFound, "no image")
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(data)
}
