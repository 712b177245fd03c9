package app

import (
	"fmt"
	"net/http"
)

// DomainError is the error contract between the service layer and the HTTP
// surface: handlers map it straight to a response. Anything else that reaches
// a handler is logged and reported as INTERNAL.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// errFeatureDisabled reports an optional integration (history mirror, search
// backend, archive) that is not configured for this deployment.
func errFeatureDisabled(code, message string) *DomainError {
	return &DomainError{Status: http.StatusNotImplemented, Code: code, Message: message}
}
