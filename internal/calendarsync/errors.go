package calendarsync

import (
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

var (
	ErrNotConfigured = errors.New("calendar sync not configured")
	ErrInvalidState  = errors.New("invalid or expired oauth state")
	ErrNotConnected  = errors.New("calendar not connected")
)

// ExternalServiceError wraps a failure talking to the remote calendar or the
// OAuth token endpoint.
type ExternalServiceError struct {
	Op  string
	Err error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func external(op string, err error) error {
	if err == nil {
		return nil
	}
	var ext *ExternalServiceError
	if errors.As(err, &ext) {
		return err
	}
	return &ExternalServiceError{Op: op, Err: err}
}

// isAuthFailure reports whether the token endpoint rejected the grant, which
// means the provider has to reconnect. Outages and throttling are retried.
func isAuthFailure(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}
	switch re.ErrorCode {
	case "invalid_grant", "unauthorized_client":
		return true
	}
	if re.Response == nil {
		return false
	}
	switch re.Response.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized:
		return true
	}
	return false
}
