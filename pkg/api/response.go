// Package api carries the HTTP plumbing shared by the coordinator and worker
// servers: JSON response helpers, the wire error payload, request logging
// middleware, and a graceful lifecycle wrapper around http.Server.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/driftfs/driftfs/pkg/errdefs"
)

// ErrorDetail is the machine-readable error payload. Kind mirrors the
// errdefs classification so clients can reconstruct sentinel errors across
// the HTTP boundary.
type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorBody wraps ErrorDetail in every non-2xx response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// JSON writes v as a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already out; nothing more we can do for this response.
		_ = err
	}
}

// Error writes err as a JSON error response. The status code and kind come
// from the errdefs classification of the error chain.
func Error(w http.ResponseWriter, err error) {
	JSON(w, errdefs.HTTPStatus(err), ErrorBody{Error: ErrorDetail{
		Kind:    string(errdefs.KindOf(err)),
		Message: err.Error(),
	}})
}

// DecodeError turns an error response body back into a classified error.
// Used by the API clients so errors.Is works on both sides of the wire.
func DecodeError(statusCode int, body []byte) error {
	var payload ErrorBody
	if json.Unmarshal(body, &payload) == nil && payload.Error.Kind != "" {
		return errdefs.FromKind(errdefs.Kind(payload.Error.Kind), payload.Error.Message)
	}

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", string(body), errdefs.ErrNotFound)
	case http.StatusConflict:
		return fmt.Errorf("%s: %w", string(body), errdefs.ErrPathConflict)
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return fmt.Errorf("%s: %w", string(body), errdefs.ErrUnreachable)
	}
	return fmt.Errorf("request failed with status %d: %s", statusCode, string(body))
}
