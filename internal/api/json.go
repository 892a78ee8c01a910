package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/blockpatch/internal/apperr"
	"github.com/starford/blockpatch/internal/apply"
	"github.com/starford/blockpatch/internal/editor"
	"github.com/starford/blockpatch/internal/history"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// writeError maps domain errors to status codes. Unknown errors are logged
// and reported as internal errors.
func writeError(w http.ResponseWriter, op, id string, err error) {
	var (
		opErr    *editor.OperationError
		applyErr *apply.Error
		rebase   *history.RebaseError
	)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, errorBody("document already exists"))
	case errors.Is(err, apperr.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody("checksum mismatch"))
	case errors.Is(err, apperr.ErrReadOnly):
		writeJSON(w, http.StatusForbidden, errorBody("document is read only"))
	case errors.Is(err, apperr.ErrInvalidValue):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody(err.Error()))
	case errors.As(err, &rebase):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	case errors.As(err, &opErr), errors.As(err, &applyErr):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	default:
		slog.Error(op+" failed", slog.String("id", id), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
