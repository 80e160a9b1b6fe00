package server

import (
	"encoding/json"
	"net/http"

	"github.com/loomhq/loom/internal/fault"
)

// envelope is the response shape every endpoint returns.
type envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, err error) {
	code := fault.CodeOf(err)
	if code == "" {
		code = "INTERNAL_ERROR"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(fault.StatusOf(err))
	json.NewEncoder(w).Encode(envelope{
		Success: false,
		Error:   &apiError{Code: string(code), Message: err.Error()},
	})
}

func respondNotFound(w http.ResponseWriter, format string, args ...any) {
	respondError(w, fault.New(fault.CodeValidation, format, args...).WithStatus(http.StatusNotFound))
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fault.Wrap(fault.CodeValidation, err, "invalid request body")
	}
	return nil
}
