package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// errorResponse is the generic JSON error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// fallbackErrorResponse is pre-marshaled so a failed encoding still produces
// a valid JSON body.
var fallbackErrorResponse = []byte(`{"error":"internal server error"}`)

// writeJSONResponse marshals before writing headers so encoding errors can
// still change the status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("writeJSONResponse failed to marshal response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(jsonData); err != nil {
		slog.Error("writeJSONResponse failed to write response", "error", err)
	}
}
