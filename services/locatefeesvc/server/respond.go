package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"locatefeesvc/services/locatefeesvc/validate"
)

// errorBody is the taxonomy-driven error shape of spec §6.1/§7.
type errorBody struct {
	Status    string         `json:"status"`
	Error     string         `json:"error"`
	ErrorCode validate.Code  `json:"error_code"`
	Details   map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto the stable error taxonomy. A *validate.Error
// carries its own code and details; anything else is logged through the
// default slog logger and surfaced as INTERNAL_ERROR without leaking its
// message.
func writeError(w http.ResponseWriter, err error) {
	if verr, ok := err.(*validate.Error); ok {
		writeJSON(w, verr.Code.HTTPStatus(), errorBody{
			Status:    "error",
			Error:     verr.Message,
			ErrorCode: verr.Code,
			Details:   verr.Details,
		})
		return
	}
	slog.Default().Error("internal error", "error", err)
	writeJSON(w, http.StatusInternalServerError, errorBody{
		Status:    "error",
		Error:     "an internal error occurred",
		ErrorCode: validate.CodeInternalError,
	})
}
