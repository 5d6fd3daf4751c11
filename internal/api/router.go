package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/erazemk/najdeno/internal/auth"
	"github.com/erazemk/najdeno/internal/handoff"
	"github.com/erazemk/najdeno/internal/imaging"
	"github.com/erazemk/najdeno/internal/match"
	"github.com/erazemk/najdeno/internal/model"
)

// MatchDefaults bounds match queries.
type MatchDefaults struct {
	Limit    int
	MaxLimit int
	MinScore float64
}

// Config holds the dependencies of the API handlers.
type Config struct {
	DB       *sql.DB
	Issuer   *auth.Issuer
	Handoffs *handoff.Service
	Matcher  *match.Engine
	Matching MatchDefaults
	Images   imaging.Processor
	// Heartbeat spaces the keep-alive comments on idle event streams.
	Heartbeat time.Duration
	// SubmitPerMinute throttles code submissions per user. Zero disables it.
	SubmitPerMinute int
}

// NewRouter creates the API router with all endpoints registered.
func NewRouter(cfg Config) http.Handler {
	mux := http.NewServeMux()

	authHandler := &AuthHandler{DB: cfg.DB, Issuer: cfg.Issuer}
	usersHandler := &UsersHandler{DB: cfg.DB}
	itemsHandler := &ItemsHandler{DB: cfg.DB, Images: cfg.Images}
	matchesHandler := &MatchesHandler{DB: cfg.DB, Engine: cfg.Matcher, Defaults: cfg.Matching}
	handoffsHandler := &HandoffsHandler{DB: cfg.DB, Service: cfg.Handoffs}
	streamHandler := &StreamHandler{Service: cfg.Handoffs, Heartbeat: cfg.Heartbeat}
	auditHandler := &AuditHandler{DB: cfg.DB}

	authMW := AuthMiddleware(cfg.Issuer, cfg.DB)
	requireAdmin := RequireRole(model.RoleAdmin)
	requireStaff := RequireRole(model.RoleStaff)
	submitLimit := newUserLimiter(cfg.SubmitPerMinute)

	// Public: login and the category list.
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.HandleFunc("GET /api/categories", itemsHandler.Categories)

	// Authenticated routes.
	mux.Handle("PUT /api/auth/password", authMW(http.HandlerFunc(authHandler.ChangePassword)))
	mux.Handle("POST /api/auth/logout", authMW(http.HandlerFunc(authHandler.Logout)))
	mux.Handle("GET /api/auth/me", authMW(http.HandlerFunc(authHandler.Me)))

	// Users (admin only).
	mux.Handle("GET /api/users", authMW(requireAdmin(http.HandlerFunc(usersHandler.List))))
	mux.Handle("POST /api/users", authMW(requireAdmin(http.HandlerFunc(usersHandler.Create))))
	mux.Handle("GET /api/users/{id}", authMW(requireAdmin(http.HandlerFunc(usersHandler.Get))))
	mux.Handle("PUT /api/users/{id}", authMW(requireAdmin(http.HandlerFunc(usersHandler.Update))))
	mux.Handle("PUT /api/users/{id}/password", authMW(requireAdmin(http.HandlerFunc(usersHandler.ResetPassword))))
	mux.Handle("DELETE /api/users/{id}", authMW(requireAdmin(http.HandlerFunc(usersHandler.Delete))))

	// Items: any user reports and edits their own, staff+ moves statuses.
	mux.Handle("GET /api/items", authMW(http.HandlerFunc(itemsHandler.List)))
	mux.Handle("POST /api/items", authMW(http.HandlerFunc(itemsHandler.Create)))
	mux.Handle("GET /api/items/{id}", authMW(http.HandlerFunc(itemsHandler.Get)))
	mux.Handle("PUT /api/items/{id}", authMW(http.HandlerFunc(itemsHandler.Update)))
	mux.Handle("PUT /api/items/{id}/status", authMW(requireStaff(http.HandlerFunc(itemsHandler.SetStatus))))
	mux.Handle("PUT /api/items/{id}/image", authMW(http.HandlerFunc(itemsHandler.UploadImage)))
	mux.Handle("GET /api/items/{id}/image", authMW(http.HandlerFunc(itemsHandler.GetImage)))
	mux.Handle("GET /api/items/{id}/handoffs", authMW(requireStaff(http.HandlerFunc(handoffsHandler.ListForItem))))

	// Matches: staff+ reviews suggestions.
	mux.Handle("GET /api/items/{id}/matches", authMW(requireStaff(http.HandlerFunc(matchesHandler.Find))))
	mux.Handle("GET /api/items/{id}/declined", authMW(requireStaff(http.HandlerFunc(matchesHandler.ListDeclined))))
	mux.Handle("POST /api/items/{id}/matches/{candidateId}/decline", authMW(requireStaff(http.HandlerFunc(matchesHandler.Decline))))
	mux.Handle("POST /api/items/{id}/matches/{candidateId}/confirm", authMW(requireStaff(http.HandlerFunc(matchesHandler.Confirm))))

	// Handoffs: staff+ opens and resets, parties verify.
	mux.Handle("POST /api/handoffs", authMW(requireStaff(http.HandlerFunc(handoffsHandler.Create))))
	mux.Handle("GET /api/handoffs/{id}", authMW(http.HandlerFunc(handoffsHandler.Get)))
	mux.Handle("POST /api/handoffs/{id}/submit", authMW(submitLimit.Middleware(http.HandlerFunc(handoffsHandler.Submit))))
	mux.Handle("POST /api/handoffs/{id}/reset", authMW(requireStaff(http.HandlerFunc(handoffsHandler.Reset))))
	mux.Handle("GET /api/handoffs/{id}/events", authMW(http.HandlerFunc(streamHandler.Stream)))

	// Audit log (admin only).
	mux.Handle("GET /api/audit", authMW(requireAdmin(http.HandlerFunc(auditHandler.List))))

	return mux
}
