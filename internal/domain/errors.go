package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// BackendError is a non-2xx response from a backend, carrying the structured
// error code when the backend supplied one.
type BackendError struct {
	Backend BackendKind
	Status  int
	Code    string
	Message string
}

func (e *BackendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s backend: %s (status %d): %s", e.Backend, e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s backend: status %d: %s", e.Backend, e.Status, e.Message)
}

// TransportError is a failure to reach a backend at all (network error,
// token acquisition failure). Discovery degrades to empty on these rather
// than aborting the pass.
type TransportError struct {
	Backend BackendKind
	Op      string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s backend: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is a transport-level failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Error codes observed from the backends. Classification prefers these;
// message substrings are a last resort for backends that return only a
// human-readable message.
var (
	alreadyExistsCodes = []string{
		"RoleAssignmentExists",
		"RoleAssignmentRequestExists",
		"ActiveDurationOverlap",
	}
	notFoundCodes = []string{
		"RoleAssignmentDoesNotExist",
		"ActiveRoleAssignmentNotFound",
		"RoleAssignmentScheduleNotFound",
	}
)

// IsAlreadyExists reports whether err means the activation already exists,
// which callers treat as idempotent success.
func IsAlreadyExists(err error) bool {
	var be *BackendError
	if !errors.As(err, &be) {
		return false
	}
	for _, code := range alreadyExistsCodes {
		if strings.EqualFold(be.Code, code) {
			return true
		}
	}
	msg := strings.ToLower(be.Message)
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "already active")
}

// IsNotFound reports whether err means there was nothing to deactivate,
// which callers treat as idempotent success.
func IsNotFound(err error) bool {
	var be *BackendError
	if !errors.As(err, &be) {
		return false
	}
	if be.Status == http.StatusNotFound {
		return true
	}
	for _, code := range notFoundCodes {
		if strings.EqualFold(be.Code, code) {
			return true
		}
	}
	msg := strings.ToLower(be.Message)
	return strings.Contains(msg, "not found") || strings.Contains(msg, "does not exist")
}
