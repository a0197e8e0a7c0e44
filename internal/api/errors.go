package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/argos-io/argos/internal/api/middleware"
	"github.com/argos-io/argos/internal/ci"
	"github.com/argos-io/argos/internal/exec"
	"github.com/argos-io/argos/internal/ingest"
	"github.com/argos-io/argos/internal/parser"
	"github.com/argos-io/argos/internal/storage"
)

// ProblemDetail represents an RFC 7807 Problem Details structure.
// See https://tools.ietf.org/html/rfc7807 for specification.
type ProblemDetail struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	Status        int    `json:"status"`
	Detail        string `json:"detail,omitempty"`
	Instance      string `json:"instance,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// NewProblemDetail creates a new RFC 7807 Problem Detail.
func NewProblemDetail(status int, title, detail string) *ProblemDetail {
	return &ProblemDetail{
		Type:   fmt.Sprintf("https://argos.dev/problems/%d", status),
		Title:  title,
		Status: status,
		Detail: detail,
	}
}

// WithInstance adds an instance URI to the problem detail.
func (p *ProblemDetail) WithInstance(instance string) *ProblemDetail {
	p.Instance = instance

	return p
}

// WriteErrorResponse writes an RFC 7807 compliant error response.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, problem *ProblemDetail) {
	correlationID := middleware.GetCorrelationID(r.Context())

	if problem.CorrelationID == "" {
		problem.CorrelationID = correlationID
	}

	if problem.Instance == "" {
		problem.Instance = r.URL.Path
	}

	w.Header().Set("Content-Type", contentTypeProblemJSON)
	w.WriteHeader(problem.Status)

	if err := json.NewEncoder(w).Encode(problem); err != nil {
		logger.Error("Failed to encode error response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.String("method", r.Method),
			slog.Any("encode_error", err),
			slog.Int("status", problem.Status),
		)

		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// Common error constructors for frequently used errors.

// InternalServerError creates a 500 Internal Server Error problem.
func InternalServerError(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusInternalServerError,
		"Internal Server Error",
		detail,
	)
}

// BadRequest creates a 400 Bad Request problem.
func BadRequest(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusBadRequest,
		"Bad Request",
		detail,
	)
}

// NotFound creates a 404 Not Found problem.
func NotFound(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusNotFound,
		"Not Found",
		detail,
	)
}

// Conflict creates a 409 Conflict problem.
func Conflict(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusConflict,
		"Conflict",
		detail,
	)
}

// ServiceUnavailable creates a 503 Service Unavailable problem.
func ServiceUnavailable(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusServiceUnavailable,
		"Service Unavailable",
		detail,
	)
}

// Unauthorized creates a 401 Unauthorized problem.
func Unauthorized(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusUnauthorized,
		"Unauthorized",
		detail,
	)
}

// BadGateway creates a 502 Bad Gateway problem.
func BadGateway(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusBadGateway,
		"Bad Gateway",
		detail,
	)
}

// problemFromError maps the error taxonomy of the inner layers to an RFC
// 7807 problem. Handlers pass every non-nil error through here so the
// status codes stay consistent across endpoint families.
func problemFromError(err error) *ProblemDetail {
	var parseErr *parser.ParseError
	if errors.As(err, &parseErr) {
		return BadRequest(parseErr.Error())
	}

	switch {
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, exec.ErrExecutionNotFound):
		return NotFound(err.Error())
	case errors.Is(err, storage.ErrConstraint),
		errors.Is(err, exec.ErrExecutionFinished):
		return Conflict(err.Error())
	case errors.Is(err, storage.ErrBusy),
		errors.Is(err, ci.ErrRateLimited):
		return ServiceUnavailable(err.Error())
	case errors.Is(err, ci.ErrAuth):
		return Unauthorized(err.Error())
	case errors.Is(err, ci.ErrCI):
		return BadGateway(err.Error())
	case errors.Is(err, ingest.ErrInvalidContext):
		return BadRequest(err.Error())
	}

	return InternalServerError("An unexpected error occurred while processing the request")
}
