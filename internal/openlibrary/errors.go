package openlibrary

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the Open Library client.
var (
	// ErrNotFound indicates Open Library has no edition for the ISBN and
	// could not import one.
	ErrNotFound = errors.New("not found in Open Library")

	// ErrRateLimited indicates the rate limit has been exceeded.
	ErrRateLimited = errors.New("Open Library rate limit exceeded")

	// ErrNetworkError indicates a network connectivity issue.
	ErrNetworkError = errors.New("network error communicating with Open Library")

	// ErrInvalidResponse indicates an unexpected API response.
	ErrInvalidResponse = errors.New("invalid response from Open Library")
)

// APIError represents an unexpected HTTP status from Open Library.
type APIError struct {
	StatusCode int
	Message    string
	ISBN       string // For context in add errors
}

func (e *APIError) Error() string {
	if e.ISBN != "" {
		return fmt.Sprintf("Open Library API error (status %d): %s (isbn: %s)", e.StatusCode, e.Message, e.ISBN)
	}
	return fmt.Sprintf("Open Library API error (status %d): %s", e.StatusCode, e.Message)
}

// IsNotFound returns true if the error indicates the ISBN was not found.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusNotFound
	}
	return false
}

// IsRateLimited returns true if the error indicates rate limiting.
func IsRateLimited(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// IsTransient returns true for failures worth retrying later: network
// errors, rate limiting and server-side errors.
func IsTransient(err error) bool {
	if errors.Is(err, ErrNetworkError) || IsRateLimited(err) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	return false
}

// checkHTTPErrors returns an error if the HTTP response indicates a problem.
func checkHTTPErrors(resp *http.Response, isbn string) error {
	switch {
	case resp.StatusCode == http.StatusNotFound:
		if isbn != "" {
			return fmt.Errorf("%w: %s", ErrNotFound, isbn)
		}
		return ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode >= 400:
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			ISBN:       isbn,
		}
	}
	return nil
}
