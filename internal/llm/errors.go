package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var ErrMissingCredential = errors.New("llm api key is missing")

// AuthError reports a missing or rejected API key.
type AuthError struct {
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("llm authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransientError covers network failures, timeouts, throttling and 5xx responses.
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("llm temporarily unavailable: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// MalformedResponseError reports an empty completion or one the stage could not parse.
type MalformedResponseError struct {
	Raw string
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("llm returned a malformed response: %v", e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// ServiceError is any other API failure.
type ServiceError struct {
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("llm service error status=%d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("llm service error: %v", e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

func IsAuth(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

func retryable(err error) bool {
	var transient *TransientError
	var malformed *MalformedResponseError
	return errors.As(err, &transient) || errors.As(err, &malformed)
}

func classifyStatus(status int, body string, err error) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{StatusCode: status, Err: err}
	case status == http.StatusBadRequest && invalidKeyMessage(body):
		return &AuthError{StatusCode: status, Err: err}
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return &TransientError{StatusCode: status, Err: err}
	default:
		return &ServiceError{StatusCode: status, Err: err}
	}
}

func invalidKeyMessage(body string) bool {
	return strings.Contains(body, "API_KEY_INVALID") || strings.Contains(body, "API key not valid")
}
