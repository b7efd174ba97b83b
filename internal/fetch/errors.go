package fetch

import (
	"errors"
	"fmt"
)

// Common errors returned by the resolver.
var (
	// ErrNotFound indicates the DOI is not registered with the resolver.
	// Definitive: never retried.
	ErrNotFound = errors.New("DOI not found")

	// ErrNetwork indicates a transport-level failure (connection, timeout).
	ErrNetwork = errors.New("network error contacting resolver")

	// ErrRateLimitTimeout indicates a rate-limit permit could not be
	// acquired within the configured bound.
	ErrRateLimitTimeout = errors.New("timed out waiting for rate limit permit")

	// ErrInvalidResponse indicates the resolver returned something that is
	// not a CSL record.
	ErrInvalidResponse = errors.New("invalid response from resolver")
)

// HTTPError carries the status of a non-2xx resolver response.
type HTTPError struct {
	StatusCode int
	DOI        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("resolver returned HTTP %d for DOI %s", e.StatusCode, e.DOI)
}

// Transient reports whether the error is worth retrying: server-side
// failures and network problems are; a definitive not-found is not.
func Transient(err error) bool {
	if errors.Is(err, ErrNetwork) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == 429
	}
	return false
}

// IsNotFound reports whether the error indicates a DOI that does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
