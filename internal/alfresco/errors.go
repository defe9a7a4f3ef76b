package alfresco

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound indicates a node, path segment or name that does not exist.
	ErrNotFound = errors.New("alfresco: not found")

	// ErrInvalidArgument indicates a missing or malformed argument.
	ErrInvalidArgument = errors.New("alfresco: invalid argument")
)

// APIError describes a non-2xx response from Alfresco.
type APIError struct {
	// StatusCode is the HTTP status returned by the server.
	StatusCode int
	// Summary is error.briefSummary from the response body, when present.
	Summary string
	// Body holds the raw response body.
	Body []byte
}

func (e *APIError) Error() string {
	if e.Summary != "" {
		return fmt.Sprintf("alfresco: status %d: %s", e.StatusCode, e.Summary)
	}
	return fmt.Sprintf("alfresco: status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Is makes errors.Is(err, ErrNotFound) true for 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}
