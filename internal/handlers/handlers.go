// Package handlers wires the HTTP API: scan triggers, CSV import
// analysis and commit, certificate queries, notification runs and
// operational endpoints.
package handlers

import (
	"encoding/json"
	"net/http"

	"certitrack/internal/logger"
	"certitrack/middleware"
)

// respondJSON writes a JSON payload with the given status.
func respondJSON(w http.ResponseWriter, req *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.HTTPError(req.Method, req.URL.Path, status, err).
			Str("request_id", middleware.GetRequestID(req.Context())).
			Msg("failed to encode response")
	}
}

// fail logs the error and replies with the bare status text.
func fail(w http.ResponseWriter, req *http.Request, status int, err error, msg string) {
	logger.HTTPError(req.Method, req.URL.Path, status, err).
		Str("request_id", middleware.GetRequestID(req.Context())).
		Msg(msg)
	http.Error(w, http.StatusText(status), status)
}
