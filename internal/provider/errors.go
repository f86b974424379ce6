package provider

import (
	"fmt"
	"net/http"
)

// APIError represents an error response from a provider gateway.
type APIError struct {
	// Provider is the registered provider name.
	Provider string
	// StatusCode is the HTTP status code returned by the gateway.
	StatusCode int
	// Message is the error message from the gateway.
	Message string
	// Code is the gateway-specific error code, if any.
	Code string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: gateway error (status %d, code %s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: gateway error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// IsTransient returns true if the error may succeed on retry: rate
// limiting (429), server errors (5xx) and network errors (StatusCode 0).
func (e *APIError) IsTransient() bool {
	return e.StatusCode == 0 ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500
}
