package middleware

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// writeProblem writes an RFC 7807 error response from inside the middleware
// chain, where the api package's richer ProblemDetail is not importable
// without a cycle.
func writeProblem(w http.ResponseWriter, r *http.Request, logger *slog.Logger, status int, title, detail string) {
	correlationID := GetCorrelationID(r.Context())

	problem := struct {
		Type          string `json:"type"`
		Title         string `json:"title"`
		Status        int    `json:"status"`
		Detail        string `json:"detail"`
		Instance      string `json:"instance"`
		CorrelationID string `json:"correlationId,omitempty"`
	}{
		Type:          fmt.Sprintf("https://argos.dev/problems/%d", status),
		Title:         title,
		Status:        status,
		Detail:        detail,
		Instance:      r.URL.Path,
		CorrelationID: correlationID,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(problem); err != nil {
		logger.Error("Failed to encode error response",
			slog.Any("error", err),
			slog.String("correlation_id", correlationID),
		)
	}
}
