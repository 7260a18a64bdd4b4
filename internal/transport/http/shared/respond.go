package shared

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "signetry/pkg/domain-errors"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// WriteJSON serializes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError maps a domain error code onto an HTTP status. Non-domain errors
// become opaque 500s; their detail belongs in logs, not responses.
func WriteError(w http.ResponseWriter, err error) {
	var body ErrorBody
	var de *dErrors.Error
	if errors.As(err, &de) {
		body.Error.Code = string(de.Code)
		body.Error.Message = de.Message
		WriteJSON(w, dErrors.ToHTTPStatus(de.Code), body)
		return
	}
	body.Error.Code = string(dErrors.CodeInternal)
	body.Error.Message = "internal error"
	WriteJSON(w, http.StatusInternalServerError, body)
}
