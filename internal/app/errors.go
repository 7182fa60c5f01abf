package app

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Every DomainError wraps exactly one of them so callers can
// branch with errors.Is without caring about the HTTP mapping.
var (
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
)

type DomainError struct {
	Kind    error
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

func (e *DomainError) Unwrap() error {
	return e.Kind
}

func domainError(kind error, status int, code, message string, details any) *DomainError {
	return &DomainError{
		Kind:    kind,
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func forbidden(code, message string, details any) *DomainError {
	return domainError(ErrForbidden, http.StatusForbidden, code, message, details)
}

func conflict(code, message string, details any) *DomainError {
	return domainError(ErrConflict, http.StatusConflict, code, message, details)
}

func validation(message string, details any) *DomainError {
	return domainError(ErrValidation, http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

func notFound(message string) *DomainError {
	return domainError(ErrNotFound, http.StatusNotFound, "NOT_FOUND", message, nil)
}

func unauthorized() *DomainError {
	return domainError(ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
}
