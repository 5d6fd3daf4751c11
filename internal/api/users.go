package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/najdeno/internal/model"
	"github.com/erazemk/najdeno/internal/store"
)

// UsersHandler manages desk staff and reporter accounts (admin only). Every
// change is written to the audit log.
type UsersHandler struct {
	DB *sql.DB
}

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (req createUserRequest) validate() error {
	var errs []model.FieldError
	if req.Username == "" {
		errs = append(errs, model.FieldError{Field: "username", Message: "required"})
	}
	if err := model.ValidatePassword(req.Password); err != nil {
		errs = append(errs, model.FieldError{Field: "password", Message: err.Error()})
	}
	if !model.IsValidRole(req.Role) {
		errs = append(errs, model.FieldError{Field: "role", Message: "must be admin, staff or user"})
	}
	if len(errs) > 0 {
		return model.NewValidationErrors(errs)
	}
	return nil
}

type updateUserRequest struct {
	Role string `json:"role"`
}

type resetPasswordRequest struct {
	Password string `json:"password"`
}

// loadUser resolves the {id} path value to an account that has not been
// deleted, writing the error response itself when it cannot.
func (h *UsersHandler) loadUser(w http.ResponseWriter, r *http.Request) *model.User {
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid user id")
		return nil
	}
	user, err := store.GetUser(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return nil
	}
	if user == nil || user.DeletedAt != nil {
		jsonError(w, http.StatusNotFound, "user not found")
		return nil
	}
	return user
}

// List handles GET /api/users?role=.
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	if role != "" && !model.IsValidRole(role) {
		jsonError(w, http.StatusBadRequest, "invalid role")
		return
	}

	users, err := store.ListUsers(r.Context(), h.DB)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result := make([]model.User, 0, len(users))
	for _, u := range users {
		if role == "" || u.Role == role {
			result = append(result, u)
		}
	}
	jsonResponse(w, http.StatusOK, result)
}

// Create handles POST /api/users.
func (h *UsersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, r, err)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	claims := GetClaims(r.Context())
	var user *model.User
	err = store.RunInTx(r.Context(), h.DB, func(ctx context.Context) error {
		existing, err := store.GetUserByUsername(ctx, h.DB, req.Username)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("username %q is taken: %w", req.Username, model.ErrConflict)
		}

		user, err = store.CreateUser(ctx, h.DB, req.Username, string(hash), req.Role)
		if err != nil {
			return err
		}
		return store.InsertAudit(ctx, h.DB, model.AuditEntry{
			Action:     model.AuditUserCreated,
			EntityType: model.EntityUser,
			EntityID:   fmt.Sprint(user.ID),
			ActorID:    &claims.UserID,
			Details:    fmt.Sprintf("username=%s role=%s", user.Username, user.Role),
		})
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("user created", "user", claims.Username, "new_user", user.Username, "role", user.Role)
	jsonResponse(w, http.StatusCreated, user)
}

// Get handles GET /api/users/{id}.
func (h *UsersHandler) Get(w http.ResponseWriter, r *http.Request) {
	if user := h.loadUser(w, r); user != nil {
		jsonResponse(w, http.StatusOK, user)
	}
}

// Update handles PUT /api/users/{id}. Admins cannot change their own role,
// so the desk always keeps an administrator.
func (h *UsersHandler) Update(w http.ResponseWriter, r *http.Request) {
	user := h.loadUser(w, r)
	if user == nil {
		return
	}

	var req updateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !model.IsValidRole(req.Role) {
		writeError(w, r, model.NewValidationError("role", "must be admin, staff or user"))
		return
	}

	claims := GetClaims(r.Context())
	if claims.UserID == user.ID && req.Role != user.Role {
		jsonError(w, http.StatusBadRequest, "cannot change your own role")
		return
	}
	if req.Role == user.Role {
		jsonResponse(w, http.StatusOK, user)
		return
	}

	err := store.RunInTx(r.Context(), h.DB, func(ctx context.Context) error {
		if err := store.UpdateUser(ctx, h.DB, user.ID, req.Role); err != nil {
			return err
		}
		return store.InsertAudit(ctx, h.DB, model.AuditEntry{
			Action:     model.AuditUserRole,
			EntityType: model.EntityUser,
			EntityID:   fmt.Sprint(user.ID),
			ActorID:    &claims.UserID,
			Details:    fmt.Sprintf("%s -> %s", user.Role, req.Role),
		})
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("user role updated", "user", claims.Username, "target_user", user.Username, "from", user.Role, "to", req.Role)
	user.Role = req.Role
	jsonResponse(w, http.StatusOK, user)
}

// ResetPassword handles PUT /api/users/{id}/password.
func (h *UsersHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	user := h.loadUser(w, r)
	if user == nil {
		return
	}

	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := model.ValidatePassword(req.Password); err != nil {
		writeError(w, r, model.NewValidationError("password", err.Error()))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}
	if err := store.UpdateUserPassword(r.Context(), h.DB, user.ID, string(hash)); err != nil {
		writeError(w, r, err)
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("user password reset", "user", claims.Username, "target_user", user.Username)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "password reset"})
}

// Delete handles DELETE /api/users/{id}. A party to a handoff that is still
// open for submissions cannot be removed until it completes, locks or
// expires.
func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user := h.loadUser(w, r)
	if user == nil {
		return
	}

	claims := GetClaims(r.Context())
	if claims.UserID == user.ID {
		jsonError(w, http.StatusBadRequest, "cannot delete yourself")
		return
	}

	err := store.RunInTx(r.Context(), h.DB, func(ctx context.Context) error {
		busy, err := store.UserInActiveSession(ctx, h.DB, user.ID, time.Now())
		if err != nil {
			return err
		}
		if busy {
			return fmt.Errorf("%s is a party to a handoff in progress: %w", user.Username, model.ErrConflict)
		}

		if err := store.DeleteUser(ctx, h.DB, user.ID); err != nil {
			return err
		}
		return store.InsertAudit(ctx, h.DB, model.AuditEntry{
			Action:     model.AuditUserDeleted,
			EntityType: model.EntityUser,
			EntityID:   fmt.Sprint(user.ID),
			ActorID:    &claims.UserID,
			Details:    fmt.Sprintf("username=%s", user.Username),
		})
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("user deleted", "user", claims.Username, "deleted_user", user.Username)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "user deleted"})
}
