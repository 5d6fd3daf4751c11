package api

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/najdeno/internal/auth"
	"github.com/erazemk/najdeno/internal/db"
	"github.com/erazemk/najdeno/internal/events"
	"github.com/erazemk/najdeno/internal/handoff"
	"github.com/erazemk/najdeno/internal/match"
	"github.com/erazemk/najdeno/internal/model"
	"github.com/erazemk/najdeno/internal/store"
)

const testJWTSecret = "test-secret-0123456789abcdefghijklmnop"

type testEnv struct {
	t      *testing.T
	URL    string
	DB     *sql.DB
	Issuer *auth.Issuer
	Hub    *events.Hub
}

func setupTestServer(t *testing.T, opts ...func(*Config)) *testEnv {
	t.Helper()
	database := db.NewTestDB(t)
	issuer := auth.NewIssuer(testJWTSecret, time.Hour)
	hub := events.NewHub()
	svc := handoff.NewService(&store.SessionRepo{DB: database}, &store.ClaimSink{DB: database}, hub, handoff.Config{})

	cfg := Config{
		DB:              database,
		Issuer:          issuer,
		Handoffs:        svc,
		Matcher:         match.NewEngine(2),
		Matching:        MatchDefaults{Limit: 10, MaxLimit: 50, MinScore: match.DefaultMinScore},
		SubmitPerMinute: 100,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	server := httptest.NewServer(RequestIDMiddleware(LoggingMiddleware(NewRouter(cfg))))
	t.Cleanup(server.Close)

	return &testEnv{t: t, URL: server.URL, DB: database, Issuer: issuer, Hub: hub}
}

// user creates an account and returns it with a valid token.
func (e *testEnv) user(username, role string) (*model.User, string) {
	e.t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(e.t, err)
	u, err := store.CreateUser(context.Background(), e.DB, username, string(hash), role)
	require.NoError(e.t, err)
	token, _, err := e.Issuer.Issue(u.ID, u.Username, u.Role)
	require.NoError(e.t, err)
	return u, token
}

// do sends a JSON request and decodes the response into out when out is
// non-nil. It returns the status code.
func (e *testEnv) do(method, path, token string, body, out any) int {
	e.t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.URL+path, r)
	require.NoError(e.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(e.t, json.NewDecoder(resp.Body).Decode(out), "%s %s -> %d", method, path, resp.StatusCode)
	}
	return resp.StatusCode
}

func (e *testEnv) report(token string, item map[string]string) *model.Item {
	e.t.Helper()
	var created model.Item
	require.Equal(e.t, http.StatusCreated, e.do("POST", "/api/items", token, item, &created))
	return &created
}

func lostPhone() map[string]string {
	return map[string]string{
		"kind":        "lost",
		"title":       "iPhone 13 Pro Max",
		"description": "Black iPhone 13 Pro Max in a blue silicone case, lock screen shows a mountain photo",
		"category":    "electronics",
		"location":    "Main Library",
		"occurred_on": "2025-10-25",
	}
}

func foundPhone() map[string]string {
	return map[string]string{
		"kind":        "found",
		"title":       "Black iPhone with Blue Case",
		"description": "Black iPhone in a blue silicone case, lock screen shows a mountain photo",
		"category":    "electronics",
		"location":    "Main Library",
		"occurred_on": "2025-10-26",
	}
}

// confirm pairs two items through the matches endpoint.
func (e *testEnv) confirm(token string, lostID, foundID int64) {
	e.t.Helper()
	require.Equal(e.t, http.StatusOK, e.do("POST", fmt.Sprintf("/api/items/%d/matches/%d/confirm", lostID, foundID), token, nil, nil))
}

// session is a handoff between alice (owner) and the desk (counterpart).
type session struct {
	ID         string
	AliceToken string
	DeskToken  string
	AliceCode  string
	DeskCode   string
	LostID     int64
	FoundID    int64
}

func (e *testEnv) openHandoff() session {
	e.t.Helper()
	_, aliceToken := e.user("alice", model.RoleUser)
	_, deskToken := e.user("desk", model.RoleStaff)

	lost := e.report(aliceToken, lostPhone())
	found := e.report(deskToken, foundPhone())
	e.confirm(deskToken, lost.ID, found.ID)

	var created handoff.View
	require.Equal(e.t, http.StatusCreated, e.do("POST", "/api/handoffs", deskToken,
		map[string]int64{"lost_item_id": lost.ID, "found_item_id": found.ID}, &created))

	var aliceView handoff.View
	require.Equal(e.t, http.StatusOK, e.do("GET", "/api/handoffs/"+created.ID, aliceToken, nil, &aliceView))

	return session{
		ID:         created.ID,
		AliceToken: aliceToken,
		DeskToken:  deskToken,
		AliceCode:  aliceView.Code,
		DeskCode:   created.Code,
		LostID:     lost.ID,
		FoundID:    found.ID,
	}
}

func TestLoginEndpoint(t *testing.T) {
	env := setupTestServer(t)
	env.user("admin", model.RoleAdmin)

	var login loginResponse
	status := env.do("POST", "/api/auth/login", "", map[string]string{"username": "admin", "password": "password123"}, &login)
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, login.Token)
	assert.Equal(t, model.RoleAdmin, login.Role)

	status = env.do("POST", "/api/auth/login", "", map[string]string{"username": "admin", "password": "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status = env.do("POST", "/api/auth/login", "", map[string]string{"username": "admin"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestLogoutRevokesToken(t *testing.T) {
	env := setupTestServer(t)
	env.user("alice", model.RoleUser)

	var login loginResponse
	require.Equal(t, http.StatusOK, env.do("POST", "/api/auth/login", "",
		map[string]string{"username": "alice", "password": "password123"}, &login))

	var me model.User
	require.Equal(t, http.StatusOK, env.do("GET", "/api/auth/me", login.Token, nil, &me))
	assert.Equal(t, "alice", me.Username)

	assert.Equal(t, http.StatusOK, env.do("POST", "/api/auth/logout", login.Token, nil, nil))
	assert.Equal(t, http.StatusUnauthorized, env.do("GET", "/api/auth/me", login.Token, nil, nil))
}

func TestUnauthenticatedAccess(t *testing.T) {
	env := setupTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, env.do("GET", "/api/items", "", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, env.do("GET", "/api/items", "not-a-token", nil, nil))

	var categories []model.Category
	require.Equal(t, http.StatusOK, env.do("GET", "/api/categories", "", nil, &categories))
	assert.Equal(t, model.Categories, categories)
}

func TestRoleBasedAccess(t *testing.T) {
	env := setupTestServer(t)
	_, userToken := env.user("user1", model.RoleUser)
	_, staffToken := env.user("desk", model.RoleStaff)
	item := env.report(userToken, lostPhone())

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
	}{
		{"user lists users", "GET", "/api/users", userToken, nil},
		{"staff lists users", "GET", "/api/users", staffToken, nil},
		{"user sets status", "PUT", fmt.Sprintf("/api/items/%d/status", item.ID), userToken, map[string]string{"status": "closed"}},
		{"user finds matches", "GET", fmt.Sprintf("/api/items/%d/matches", item.ID), userToken, nil},
		{"user opens handoff", "POST", "/api/handoffs", userToken, map[string]int64{"lost_item_id": item.ID}},
		{"staff reads audit", "GET", "/api/audit", staffToken, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, http.StatusForbidden, env.do(tt.method, tt.path, tt.token, tt.body, nil))
		})
	}
}

func TestItemsAPIFlow(t *testing.T) {
	env := setupTestServer(t)
	_, aliceToken := env.user("alice", model.RoleUser)
	_, bobToken := env.user("bob", model.RoleUser)

	lost := env.report(aliceToken, lostPhone())
	assert.Equal(t, model.ItemStatusOpen, lost.Status)
	assert.Equal(t, model.ItemKindLost, lost.Kind)

	// Found reports need a location; every problem is listed.
	var verr validationResponse
	status := env.do("POST", "/api/items", bobToken, map[string]string{
		"kind": "found", "title": "Scarf", "category": "Spaceships", "occurred_on": "2025-10-25",
	}, &verr)
	require.Equal(t, http.StatusBadRequest, status)
	fields := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		fields = append(fields, f.Field)
	}
	assert.ElementsMatch(t, []string{"category", "location"}, fields)

	status = env.do("POST", "/api/items", bobToken, map[string]string{
		"kind": "lost", "title": "Scarf", "category": "Clothing", "occurred_on": "25/10/2025",
	}, &verr)
	require.Equal(t, http.StatusBadRequest, status)
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, "occurred_on", verr.Fields[0].Field)

	env.report(bobToken, map[string]string{
		"kind": "found", "title": "Red scarf", "category": "Clothing", "location": "Gym", "occurred_on": "2025-10-24",
	})

	var items []model.Item
	require.Equal(t, http.StatusOK, env.do("GET", "/api/items?kind=found", aliceToken, nil, &items))
	require.Len(t, items, 1)
	assert.Equal(t, model.CategoryClothing, items[0].Category)

	require.Equal(t, http.StatusOK, env.do("GET", "/api/items?mine=true", aliceToken, nil, &items))
	require.Len(t, items, 1)
	assert.Equal(t, lost.ID, items[0].ID)

	assert.Equal(t, http.StatusBadRequest, env.do("GET", "/api/items?category=spaceships", aliceToken, nil, nil))

	// Only the reporter (or staff) may edit.
	edit := lostPhone()
	edit["title"] = "iPhone 13"
	path := fmt.Sprintf("/api/items/%d", lost.ID)
	assert.Equal(t, http.StatusForbidden, env.do("PUT", path, bobToken, edit, nil))

	var updated model.Item
	require.Equal(t, http.StatusOK, env.do("PUT", path, aliceToken, edit, &updated))
	assert.Equal(t, "iPhone 13", updated.Title)
	assert.Equal(t, model.ItemKindLost, updated.Kind)

	assert.Equal(t, http.StatusNotFound, env.do("GET", "/api/items/9999", aliceToken, nil, nil))
	assert.Equal(t, http.StatusBadRequest, env.do("GET", "/api/items/abc", aliceToken, nil, nil))
}

func TestItemStatusIsAudited(t *testing.T) {
	env := setupTestServer(t)
	_, aliceToken := env.user("alice", model.RoleUser)
	_, deskToken := env.user("desk", model.RoleStaff)
	_, adminToken := env.user("admin", model.RoleAdmin)
	item := env.report(aliceToken, lostPhone())

	path := fmt.Sprintf("/api/items/%d/status", item.ID)
	assert.Equal(t, http.StatusBadRequest, env.do("PUT", path, deskToken, map[string]string{"status": "lost"}, nil))

	var closed model.Item
	require.Equal(t, http.StatusOK, env.do("PUT", path, deskToken, map[string]string{"status": "closed"}, &closed))
	assert.Equal(t, model.ItemStatusClosed, closed.Status)

	// Repeating the same status changes nothing and writes no second entry.
	require.Equal(t, http.StatusOK, env.do("PUT", path, deskToken, map[string]string{"status": "closed"}, nil))

	var entries []model.AuditEntry
	require.Equal(t, http.StatusOK, env.do("GET", fmt.Sprintf("/api/audit?entity=item&entity_id=%d", item.ID), adminToken, nil, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, model.AuditItemStatus, entries[0].Action)
	assert.Equal(t, "open -> closed", entries[0].Details)
}

func TestMatchesDeclineAndConfirm(t *testing.T) {
	env := setupTestServer(t)
	_, aliceToken := env.user("alice", model.RoleUser)
	_, deskToken := env.user("desk", model.RoleStaff)
	_, adminToken := env.user("admin", model.RoleAdmin)

	lost := env.report(aliceToken, lostPhone())
	found := env.report(deskToken, foundPhone())
	other := env.report(deskToken, map[string]string{
		"kind": "found", "title": "Black phone", "description": "Cracked screen",
		"category": "electronics", "location": "Gym", "occurred_on": "2025-10-01",
	})
	env.report(deskToken, map[string]string{
		"kind": "found", "title": "Umbrella", "category": "other", "location": "Gym", "occurred_on": "2025-10-25",
	})

	matchesPath := fmt.Sprintf("/api/items/%d/matches", lost.ID)
	var res matchesResponse
	require.Equal(t, http.StatusOK, env.do("GET", matchesPath+"?min_score=0", deskToken, nil, &res))
	require.Len(t, res.Matches, 2, "same-category candidates only")
	assert.Equal(t, found.ID, res.Matches[0].Item.ID)
	assert.Greater(t, res.Matches[0].Score, 85.0)
	assert.Equal(t, match.CategoryWeight, res.Matches[0].Breakdown.CategoryMatch)
	assert.Equal(t, other.ID, res.Matches[1].Item.ID)
	assert.GreaterOrEqual(t, res.Matches[0].Score, res.Matches[1].Score)

	require.Equal(t, http.StatusOK, env.do("GET", matchesPath+"?min_score=0&limit=1", deskToken, nil, &res))
	assert.Len(t, res.Matches, 1)

	assert.Equal(t, http.StatusBadRequest, env.do("GET", matchesPath+"?limit=0", deskToken, nil, nil))
	assert.Equal(t, http.StatusBadRequest, env.do("GET", matchesPath+"?min_score=101", deskToken, nil, nil))
	assert.Equal(t, http.StatusBadRequest, env.do("GET", matchesPath+"?kind=stolen", deskToken, nil, nil))
	assert.Equal(t, http.StatusBadRequest, env.do("GET", matchesPath+"?kind=lost", deskToken, nil, nil))
	assert.Equal(t, http.StatusOK, env.do("GET", matchesPath+"?kind=found&min_score=0", deskToken, nil, nil))

	// Declines hold in both directions and are idempotent.
	declinePath := fmt.Sprintf("/api/items/%d/matches/%d/decline", other.ID, lost.ID)
	require.Equal(t, http.StatusOK, env.do("POST", declinePath, deskToken, nil, nil))
	require.Equal(t, http.StatusOK, env.do("POST", declinePath, deskToken, nil, nil))

	require.Equal(t, http.StatusOK, env.do("GET", matchesPath+"?min_score=0", deskToken, nil, &res))
	require.Len(t, res.Matches, 1)
	assert.Equal(t, found.ID, res.Matches[0].Item.ID)

	var entries []model.AuditEntry
	require.Equal(t, http.StatusOK, env.do("GET", "/api/audit?entity=item", adminToken, nil, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, model.AuditPairingDeclined, entries[0].Action)

	assert.Equal(t, http.StatusNotFound, env.do("POST", fmt.Sprintf("/api/items/%d/matches/9999/decline", lost.ID), deskToken, nil, nil))

	// Confirming moves both items to matched, once.
	confirmPath := fmt.Sprintf("/api/items/%d/matches/%d/confirm", lost.ID, found.ID)
	var pair pairingResponse
	require.Equal(t, http.StatusOK, env.do("POST", confirmPath, deskToken, nil, &pair))
	assert.Equal(t, lost.ID, pair.Lost.ID)
	assert.Equal(t, found.ID, pair.Found.ID)
	assert.Equal(t, model.ItemStatusMatched, pair.Lost.Status)
	assert.Equal(t, model.ItemStatusMatched, pair.Found.Status)

	assert.Equal(t, http.StatusConflict, env.do("POST", confirmPath, deskToken, nil, nil))

	// Matched items are no longer candidates.
	require.Equal(t, http.StatusOK, env.do("GET", fmt.Sprintf("/api/items/%d/matches?min_score=0", other.ID), deskToken, nil, &res))
	assert.Empty(t, res.Matches)
}

func TestMatchesBelowThresholdAreHidden(t *testing.T) {
	env := setupTestServer(t)
	_, aliceToken := env.user("alice", model.RoleUser)
	_, deskToken := env.user("desk", model.RoleStaff)

	book := env.report(aliceToken, map[string]string{
		"kind": "lost", "title": "Calculus Textbook",
		"description": "Stewart Calculus 8th edition with my name on the inside cover",
		"category":    "books", "location": "Science Building Room 204", "occurred_on": "2025-10-20",
	})
	env.report(deskToken, map[string]string{
		"kind": "found", "title": "MacBook Laptop", "description": "Silver MacBook Air in a grey sleeve",
		"category": "electronics", "location": "Student Union", "occurred_on": "2025-10-23",
	})

	var res matchesResponse
	require.Equal(t, http.StatusOK, env.do("GET", fmt.Sprintf("/api/items/%d/matches", book.ID), deskToken, nil, &res))
	assert.Empty(t, res.Matches)
	assert.NotNil(t, res.Matches)
}

func TestHandoffFlow(t *testing.T) {
	env := setupTestServer(t)
	_, adminToken := env.user("admin", model.RoleAdmin)
	s := env.openHandoff()
	_, bobToken := env.user("bob", model.RoleUser)

	require.NotEqual(t, s.AliceCode, s.DeskCode)
	require.True(t, handoff.ValidCode(s.AliceCode))
	require.True(t, handoff.ValidCode(s.DeskCode))

	var view handoff.View
	require.Equal(t, http.StatusOK, env.do("GET", "/api/handoffs/"+s.ID, s.AliceToken, nil, &view))
	assert.Equal(t, handoff.RoleOwner, view.Role)
	assert.Equal(t, handoff.StatusActive, view.Status)
	assert.Equal(t, handoff.DefaultMaxAttempts, view.AttemptsRemaining)

	assert.Equal(t, http.StatusForbidden, env.do("GET", "/api/handoffs/"+s.ID, bobToken, nil, nil))
	assert.Equal(t, http.StatusNotFound, env.do("GET", "/api/handoffs/missing", s.DeskToken, nil, nil))

	submit := "/api/handoffs/" + s.ID + "/submit"
	assert.Equal(t, http.StatusBadRequest, env.do("POST", submit, s.AliceToken, submitRequest{Code: "12ab"}, nil))
	assert.Equal(t, http.StatusForbidden, env.do("POST", submit, bobToken, submitRequest{Code: s.AliceCode}, nil))

	// Codes are 100000-999999, so 000000 is always wrong.
	var incorrect incorrectCodeResponse
	require.Equal(t, http.StatusUnprocessableEntity, env.do("POST", submit, s.AliceToken, submitRequest{Code: "000000"}, &incorrect))
	assert.Equal(t, 1, incorrect.Attempts)
	assert.Equal(t, handoff.DefaultMaxAttempts-1, incorrect.AttemptsRemaining)

	var res submitResponse
	require.Equal(t, http.StatusOK, env.do("POST", submit, s.AliceToken, submitRequest{Code: s.DeskCode}, &res))
	assert.True(t, res.Outcome.Verified)
	assert.False(t, res.Outcome.Completed)
	assert.True(t, res.Session.OwnerVerifiedCounterpart)
	assert.Equal(t, s.AliceCode, res.Session.Code)

	require.Equal(t, http.StatusOK, env.do("POST", submit, s.DeskToken, submitRequest{Code: s.AliceCode}, &res))
	assert.True(t, res.Outcome.Completed)
	assert.Equal(t, handoff.StatusCompleted, res.Session.Status)

	for _, id := range []int64{s.LostID, s.FoundID} {
		var item model.Item
		require.Equal(t, http.StatusOK, env.do("GET", fmt.Sprintf("/api/items/%d", id), s.DeskToken, nil, &item))
		assert.Equal(t, model.ItemStatusClaimed, item.Status)
	}

	assert.Equal(t, http.StatusGone, env.do("POST", submit, s.AliceToken, submitRequest{Code: s.DeskCode}, nil))

	// Claimed items cannot start another handoff.
	assert.Equal(t, http.StatusConflict, env.do("POST", "/api/handoffs", s.DeskToken,
		map[string]int64{"lost_item_id": s.LostID, "found_item_id": s.FoundID}, nil))

	var entries []model.AuditEntry
	require.Equal(t, http.StatusOK, env.do("GET", "/api/audit?entity=handoff&entity_id="+s.ID, adminToken, nil, &entries))
	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{model.AuditHandoffCompleted, model.AuditHandoffCreated}, actions)

	var sessions []handoff.View
	require.Equal(t, http.StatusOK, env.do("GET", fmt.Sprintf("/api/items/%d/handoffs", s.LostID), s.DeskToken, nil, &sessions))
	require.Len(t, sessions, 1)
	assert.Empty(t, sessions[0].Code)
}

func TestHandoffCreateValidation(t *testing.T) {
	env := setupTestServer(t)
	alice, aliceToken := env.user("alice", model.RoleUser)
	desk, deskToken := env.user("desk", model.RoleStaff)
	lost := env.report(aliceToken, lostPhone())
	found := env.report(deskToken, foundPhone())

	body := map[string]int64{"lost_item_id": lost.ID, "found_item_id": found.ID}
	assert.Equal(t, http.StatusConflict, env.do("POST", "/api/handoffs", deskToken, body, nil), "unconfirmed pairing")
	env.confirm(deskToken, lost.ID, found.ID)

	tests := []struct {
		name string
		body map[string]int64
		want int
	}{
		{"swapped kinds", map[string]int64{"lost_item_id": found.ID, "found_item_id": lost.ID}, http.StatusBadRequest},
		{"missing found item", map[string]int64{"lost_item_id": lost.ID}, http.StatusBadRequest},
		{"unknown owner", map[string]int64{"lost_item_id": lost.ID, "found_item_id": found.ID, "owner_id": 9999}, http.StatusBadRequest},
		{"same party", map[string]int64{"lost_item_id": lost.ID, "found_item_id": found.ID, "owner_id": desk.ID}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, env.do("POST", "/api/handoffs", deskToken, tt.body, nil))
		})
	}

	// Defaults: the lost item's reporter owns it, the caller hands it over.
	var view handoff.View
	require.Equal(t, http.StatusCreated, env.do("POST", "/api/handoffs", deskToken,
		map[string]int64{"lost_item_id": lost.ID, "found_item_id": found.ID}, &view))
	assert.Equal(t, alice.ID, view.OwnerID)
	assert.Equal(t, desk.ID, view.CounterpartID)
	assert.Equal(t, handoff.RoleCounterpart, view.Role)
	assert.NotEmpty(t, view.Code)
}

func TestHandoffLockAndReset(t *testing.T) {
	env := setupTestServer(t)
	s := env.openHandoff()
	submit := "/api/handoffs/" + s.ID + "/submit"

	for i := range handoff.DefaultMaxAttempts {
		require.Equal(t, http.StatusUnprocessableEntity,
			env.do("POST", submit, s.DeskToken, submitRequest{Code: "000000"}, nil), "attempt %d", i+1)
	}
	// The call after the last allowed attempt locks, even with the right code.
	assert.Equal(t, http.StatusLocked, env.do("POST", submit, s.DeskToken, submitRequest{Code: s.AliceCode}, nil))
	assert.Equal(t, http.StatusLocked, env.do("POST", submit, s.AliceToken, submitRequest{Code: s.DeskCode}, nil))

	var view handoff.View
	require.Equal(t, http.StatusOK, env.do("GET", "/api/handoffs/"+s.ID, s.AliceToken, nil, &view))
	assert.Equal(t, handoff.StatusLocked, view.Status)

	reset := "/api/handoffs/" + s.ID + "/reset"
	assert.Equal(t, http.StatusForbidden, env.do("POST", reset, s.AliceToken, nil, nil))

	var res resetResponse
	require.Equal(t, http.StatusOK, env.do("POST", reset, s.DeskToken, nil, &res))
	assert.Equal(t, handoff.StatusActive, res.Status)
	assert.True(t, res.ExpiresAt.After(time.Now()))

	var deskView handoff.View
	require.Equal(t, http.StatusOK, env.do("GET", "/api/handoffs/"+s.ID, s.DeskToken, nil, &deskView))
	assert.Zero(t, deskView.CounterpartAttempts)
	assert.Equal(t, handoff.StatusActive, deskView.Status)

	var out submitResponse
	require.Equal(t, http.StatusOK, env.do("POST", submit, s.AliceToken, submitRequest{Code: deskView.Code}, &out))
	assert.True(t, out.Outcome.Verified)

	assert.Equal(t, http.StatusNotFound, env.do("POST", "/api/handoffs/missing/reset", s.DeskToken, nil, nil))
}

func TestHandoffSubmitRateLimited(t *testing.T) {
	env := setupTestServer(t, func(c *Config) { c.SubmitPerMinute = 2 })
	s := env.openHandoff()
	submit := "/api/handoffs/" + s.ID + "/submit"

	assert.Equal(t, http.StatusUnprocessableEntity, env.do("POST", submit, s.AliceToken, submitRequest{Code: "000000"}, nil))
	assert.Equal(t, http.StatusUnprocessableEntity, env.do("POST", submit, s.AliceToken, submitRequest{Code: "000000"}, nil))
	assert.Equal(t, http.StatusTooManyRequests, env.do("POST", submit, s.AliceToken, submitRequest{Code: s.DeskCode}, nil))

	// Limits are per user.
	assert.Equal(t, http.StatusOK, env.do("POST", submit, s.DeskToken, submitRequest{Code: s.AliceCode}, nil))
}

type sseEvent struct {
	name string
	data []byte
}

// readEvent returns the next event, skipping comment lines.
func readEvent(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if ev.name != "" {
				return ev
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = []byte(strings.TrimPrefix(line, "data: "))
		}
	}
}

func readHeartbeat(t *testing.T, r *bufio.Reader) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if line == ": heartbeat\n" {
			return
		}
	}
}

func TestHandoffEventStream(t *testing.T) {
	env := setupTestServer(t, func(c *Config) { c.Heartbeat = 20 * time.Millisecond })
	s := env.openHandoff()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	// EventSource cannot send headers, so the token travels in the query.
	req, err := http.NewRequestWithContext(ctx, "GET", env.URL+"/api/handoffs/"+s.ID+"/events?access_token="+s.AliceToken, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	r := bufio.NewReader(resp.Body)

	ev := readEvent(t, r)
	require.Equal(t, "snapshot", ev.name)
	var view handoff.View
	require.NoError(t, json.Unmarshal(ev.data, &view))
	assert.Equal(t, handoff.RoleOwner, view.Role)
	assert.Equal(t, s.AliceCode, view.Code)
	assert.False(t, view.CounterpartVerifiedOwner)

	require.Equal(t, http.StatusOK, env.do("POST", "/api/handoffs/"+s.ID+"/submit", s.DeskToken, submitRequest{Code: s.AliceCode}, nil))

	ev = readEvent(t, r)
	require.Equal(t, "snapshot", ev.name)
	require.NoError(t, json.Unmarshal(ev.data, &view))
	assert.True(t, view.CounterpartVerifiedOwner)
	assert.Equal(t, s.AliceCode, view.Code, "the stream stays scoped to its subscriber")

	readHeartbeat(t, r)
	assert.Equal(t, 1, env.Hub.Subscribers(s.ID))

	// Disconnecting releases the subscription.
	cancel()
	resp.Body.Close()
	assert.Eventually(t, func() bool { return env.Hub.Subscribers(s.ID) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandoffEventStreamRejectsOutsiders(t *testing.T) {
	env := setupTestServer(t)
	s := env.openHandoff()
	_, bobToken := env.user("bob", model.RoleUser)

	assert.Equal(t, http.StatusForbidden, env.do("GET", "/api/handoffs/"+s.ID+"/events", bobToken, nil, nil))
	assert.Equal(t, http.StatusNotFound, env.do("GET", "/api/handoffs/missing/events", s.DeskToken, nil, nil))
	assert.Zero(t, env.Hub.Subscribers(s.ID))
}

func multipartImage(t *testing.T, name string, data []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", name)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestItemImageUpload(t *testing.T) {
	env := setupTestServer(t)
	_, aliceToken := env.user("alice", model.RoleUser)
	_, bobToken := env.user("bob", model.RoleUser)
	item := env.report(aliceToken, lostPhone())
	path := fmt.Sprintf("%s/api/items/%d/image", env.URL, item.ID)

	img := image.NewRGBA(image.Rect(0, 0, 2000, 1000))
	for x := range 2000 {
		img.Set(x, 500, color.RGBA{R: 255, A: 255})
	}
	var pngData bytes.Buffer
	require.NoError(t, png.Encode(&pngData, img))

	upload := func(token string, data []byte) *http.Response {
		body, contentType := multipartImage(t, "photo.png", data)
		req, err := http.NewRequest("PUT", path, body)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", contentType)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	assert.Equal(t, http.StatusForbidden, upload(bobToken, pngData.Bytes()).StatusCode)
	assert.Equal(t, http.StatusUnsupportedMediaType, upload(aliceToken, []byte("definitely not an image")).StatusCode)

	resp := upload(aliceToken, pngData.Bytes())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 1024, out.Width)
	assert.Equal(t, 512, out.Height)

	req, err := http.NewRequest("GET", path, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+bobToken)
	got, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer got.Body.Close()
	require.Equal(t, http.StatusOK, got.StatusCode)
	assert.Equal(t, "image/jpeg", got.Header.Get("Content-Type"))
}

func TestUsersAdmin(t *testing.T) {
	env := setupTestServer(t)
	admin, adminToken := env.user("admin", model.RoleAdmin)

	var created model.User
	require.Equal(t, http.StatusCreated, env.do("POST", "/api/users", adminToken,
		map[string]string{"username": "desk", "password": "longenough", "role": model.RoleStaff}, &created))
	assert.Equal(t, model.RoleStaff, created.Role)

	assert.Equal(t, http.StatusBadRequest, env.do("POST", "/api/users", adminToken,
		map[string]string{"username": "x", "password": "short", "role": model.RoleUser}, nil))
	assert.Equal(t, http.StatusBadRequest, env.do("POST", "/api/users", adminToken,
		map[string]string{"username": "x", "password": "longenough", "role": "manager"}, nil))
	assert.Equal(t, http.StatusConflict, env.do("POST", "/api/users", adminToken,
		map[string]string{"username": "desk", "password": "longenough", "role": model.RoleUser}, nil))

	var updated model.User
	require.Equal(t, http.StatusOK, env.do("PUT", fmt.Sprintf("/api/users/%d", created.ID), adminToken,
		map[string]string{"role": model.RoleUser}, &updated))
	assert.Equal(t, model.RoleUser, updated.Role)

	assert.Equal(t, http.StatusBadRequest, env.do("DELETE", fmt.Sprintf("/api/users/%d", admin.ID), adminToken, nil, nil))
	assert.Equal(t, http.StatusOK, env.do("DELETE", fmt.Sprintf("/api/users/%d", created.ID), adminToken, nil, nil))

	var users []model.User
	require.Equal(t, http.StatusOK, env.do("GET", "/api/users", adminToken, nil, &users))
	require.Len(t, users, 1)
	assert.Equal(t, "admin", users[0].Username)

	assert.Equal(t, http.StatusBadRequest, env.do("PUT", fmt.Sprintf("/api/users/%d", admin.ID), adminToken,
		map[string]string{"role": model.RoleUser}, nil))
	assert.Equal(t, http.StatusNotFound, env.do("PUT", fmt.Sprintf("/api/users/%d", created.ID), adminToken,
		map[string]string{"role": model.RoleStaff}, nil))
	assert.Equal(t, http.StatusNotFound, env.do("DELETE", "/api/users/9999", adminToken, nil, nil))

	var entries []model.AuditEntry
	require.Equal(t, http.StatusOK, env.do("GET", "/api/audit?entity=user", adminToken, nil, &entries))
	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.ElementsMatch(t, []string{model.AuditUserCreated, model.AuditUserRole, model.AuditUserDeleted}, actions)
}

func TestUsersDeleteWaitsForHandoff(t *testing.T) {
	env := setupTestServer(t)
	_, adminToken := env.user("admin", model.RoleAdmin)
	s := env.openHandoff()

	var users []model.User
	require.Equal(t, http.StatusOK, env.do("GET", "/api/users?role=user", adminToken, nil, &users))
	require.Len(t, users, 1)
	alice := users[0]
	assert.Equal(t, "alice", alice.Username)
	assert.Equal(t, http.StatusBadRequest, env.do("GET", "/api/users?role=manager", adminToken, nil, nil))

	path := fmt.Sprintf("/api/users/%d", alice.ID)
	assert.Equal(t, http.StatusConflict, env.do("DELETE", path, adminToken, nil, nil))

	submit := "/api/handoffs/" + s.ID + "/submit"
	require.Equal(t, http.StatusOK, env.do("POST", submit, s.AliceToken, submitRequest{Code: s.DeskCode}, nil))
	require.Equal(t, http.StatusOK, env.do("POST", submit, s.DeskToken, submitRequest{Code: s.AliceCode}, nil))

	assert.Equal(t, http.StatusOK, env.do("DELETE", path, adminToken, nil, nil))
}

func TestRequestIDPropagation(t *testing.T) {
	env := setupTestServer(t)

	req, err := http.NewRequest("GET", env.URL+"/api/categories", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "abc-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "abc-123", resp.Header.Get("X-Request-ID"))

	resp, err = http.Get(env.URL + "/api/categories")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Len(t, resp.Header.Get("X-Request-ID"), 36)
}

func TestHandoffRequiresItsOwnPairing(t *testing.T) {
	env := setupTestServer(t)
	s := env.openHandoff()

	umbrella := env.report(s.DeskToken, map[string]string{
		"kind": "found", "title": "Umbrella", "category": "other", "location": "Gym", "occurred_on": "2025-10-25",
	})
	keys := env.report(s.AliceToken, map[string]string{
		"kind": "lost", "title": "Keys", "category": "keys", "location": "Gym", "occurred_on": "2025-10-25",
	})
	spare := env.report(s.DeskToken, map[string]string{
		"kind": "found", "title": "Keys", "category": "keys", "location": "Gym", "occurred_on": "2025-10-25",
	})
	env.confirm(s.DeskToken, keys.ID, spare.ID)

	create := func(lostID, foundID int64) int {
		return env.do("POST", "/api/handoffs", s.DeskToken,
			map[string]int64{"lost_item_id": lostID, "found_item_id": foundID}, nil)
	}

	// Never paired, and paired with someone else.
	assert.Equal(t, http.StatusConflict, create(s.LostID, umbrella.ID))
	assert.Equal(t, http.StatusConflict, create(s.LostID, spare.ID))
	assert.Equal(t, http.StatusConflict, create(keys.ID, s.FoundID))

	// One session in progress per pairing.
	assert.Equal(t, http.StatusConflict, create(s.LostID, s.FoundID))

	var sessions []handoff.View
	require.Equal(t, http.StatusOK, env.do("GET", fmt.Sprintf("/api/items/%d/handoffs", s.LostID), s.DeskToken, nil, &sessions))
	assert.Len(t, sessions, 1)

	// A locked session no longer blocks a fresh one.
	submit := "/api/handoffs/" + s.ID + "/submit"
	for range handoff.DefaultMaxAttempts + 1 {
		env.do("POST", submit, s.DeskToken, submitRequest{Code: "000000"}, nil)
	}
	assert.Equal(t, http.StatusCreated, create(s.LostID, s.FoundID))

	// Reopening an item drops its pairing, even if it is marked matched again.
	status := fmt.Sprintf("/api/items/%d/status", keys.ID)
	require.Equal(t, http.StatusOK, env.do("PUT", status, s.DeskToken, map[string]string{"status": "open"}, nil))
	require.Equal(t, http.StatusOK, env.do("PUT", status, s.DeskToken, map[string]string{"status": "matched"}, nil))
	assert.Equal(t, http.StatusConflict, create(keys.ID, spare.ID))
}
