package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"studykit/internal/types"
)

type errorBody struct {
	Error  string             `json:"error"`
	Errors []types.FieldIssue `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writePayloadError(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

// decodeBody parses a JSON request body, answering 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writePayloadError(w, "invalid JSON body")
		return false
	}
	return true
}

// writeError maps engine error kinds onto HTTP statuses. Unrecognised errors
// are internal.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *types.ValidationError
		templateErr   *types.TemplateNotFoundError
		notFoundErr   *types.NotFoundError
		cycleErr      *types.CycleError
		payloadErr    *types.PayloadError
	)
	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Errors: validationErr.Issues})
	case errors.As(err, &templateErr):
		writeJSON(w, http.StatusNotFound, errorBody{Error: templateErr.Error()})
	case errors.As(err, &notFoundErr):
		writeJSON(w, http.StatusNotFound, errorBody{Error: notFoundErr.Error()})
	case errors.As(err, &cycleErr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: cycleErr.Error()})
	case errors.As(err, &payloadErr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: payloadErr.Error()})
	case errors.Is(err, types.ErrStoreUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "store unavailable"})
	default:
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}
