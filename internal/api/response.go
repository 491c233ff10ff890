package api

import (
	"encoding/json"
	"net/http"

	"github.com/r3e-network/rebuildverify/internal/apperrors"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// errorResponse is the wire shape every error produces.
type errorResponse struct {
	Error   string         `json:"error"`
	Code    apperrors.Code `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// writeError renders err as a JSON error response, using its
// *CoordinatorError status/code when present and 500 otherwise.
func writeError(w http.ResponseWriter, err error) {
	if ce := apperrors.As(err); ce != nil {
		writeJSON(w, ce.HTTPStatus, errorResponse{Error: ce.Message, Code: ce.Code, Details: ce.Details})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

// decodeJSON decodes the request body into v, writing a validation error
// response and returning false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, apperrors.ValidationError("invalid request body: "+err.Error()))
		return false
	}
	return true
}
