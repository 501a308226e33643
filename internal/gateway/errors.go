package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"fotobudka/internal/domain"
)

// NetworkError is a transport-level failure: no HTTP response was received.
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("gateway: %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPStatusError reports a response outside the 2xx range.
type HTTPStatusError struct {
	Code int
	Body []byte
}

func (e *HTTPStatusError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	if body == "" {
		return fmt.Sprintf("gateway: status %d", e.Code)
	}
	return fmt.Sprintf("gateway: status %d: %s", e.Code, body)
}

// Is lets errors.Is match 401 and 403 responses against domain.ErrUnauthorized.
func (e *HTTPStatusError) Is(target error) bool {
	return target == domain.ErrUnauthorized && (e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden)
}

// DecodingError reports a response body that did not match the expected shape.
type DecodingError struct {
	Err error
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("gateway: decode response: %v", e.Err)
}

func (e *DecodingError) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status carried by err, or 0 when err is not an HTTPStatusError.
func StatusCode(err error) int {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code
	}
	return 0
}

// IsUnauthorized reports whether the server rejected the bearer token.
func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}
