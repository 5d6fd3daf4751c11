package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/erazemk/najdeno/internal/handoff"
	"github.com/erazemk/najdeno/internal/model"
)

// jsonResponse writes a JSON response with the given status code.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("error encoding response", "error", err)
		}
	}
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// decodeJSON decodes a JSON request body into the given target.
func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(target)
}

// pathID parses the int64 path parameter name.
func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	return id, err == nil && id > 0
}

type validationResponse struct {
	Error  string             `json:"error"`
	Fields []model.FieldError `json:"fields"`
}

type incorrectCodeResponse struct {
	Error             string `json:"error"`
	Attempts          int    `json:"attempts"`
	AttemptsRemaining int    `json:"attempts_remaining"`
}

// writeError maps domain errors to HTTP statuses. Anything unrecognized is
// logged and reported as an internal error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *model.ValidationError
	var incorrect *handoff.IncorrectCodeError

	switch {
	case errors.As(err, &incorrect):
		jsonResponse(w, http.StatusUnprocessableEntity, incorrectCodeResponse{
			Error:             handoff.ErrIncorrectCode.Error(),
			Attempts:          incorrect.Attempts,
			AttemptsRemaining: incorrect.Remaining,
		})
	case errors.As(err, &verr):
		jsonResponse(w, http.StatusBadRequest, validationResponse{Error: "validation failed", Fields: verr.Errors})
	case errors.Is(err, handoff.ErrNotFound):
		jsonError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrNotFound):
		jsonError(w, http.StatusNotFound, "not found")
	case errors.Is(err, handoff.ErrNotParty):
		jsonError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, model.ErrForbidden):
		jsonError(w, http.StatusForbidden, "insufficient permissions")
	case errors.Is(err, handoff.ErrLocked):
		jsonError(w, http.StatusLocked, err.Error())
	case errors.Is(err, handoff.ErrExpired):
		jsonError(w, http.StatusGone, err.Error())
	case errors.Is(err, handoff.ErrInvalidCode), errors.Is(err, handoff.ErrSameParty):
		jsonError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrValidation):
		jsonError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrConflict):
		jsonError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "request_id", RequestID(r.Context()), "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
	}
}
