package utils

import (
	"net/http"
	"time"
)

// NewHTTPClient returns a client for outbound collaborator calls. Keep the
// timeout short: these calls sit on request paths.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}
