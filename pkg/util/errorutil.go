package util

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes shared by the service and HTTP layers.
const (
	CodeValidation         = "VALIDATION_FAILED"
	CodeNotFound           = "NOT_FOUND"
	CodeNoActiveTicket     = "NO_ACTIVE_TICKET"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeConflict           = "CONFLICT"
	CodeActiveTicketExists = "ACTIVE_TICKET_EXISTS"
	CodeAlreadyTaken       = "TICKET_ALREADY_TAKEN"
	CodeTicketClosed       = "TICKET_CLOSED"
	CodeNotInProgress      = "TICKET_NOT_IN_PROGRESS"
	CodeThreadCreateFailed = "THREAD_CREATE_FAILED"
	CodeTransportFailed    = "TRANSPORT_FAILED"
	CodeInternal           = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

// NewNoActiveTicket is returned when a user writes without an open ticket.
func NewNoActiveTicket(userID string) error {
	return NewDomainError(CodeNoActiveTicket, "no active ticket, create a ticket first", http.StatusNotFound,
		map[string]any{"user_id": userID})
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

// NewConflictCode builds a conflict carrying a specific reason code.
func NewConflictCode(code, message string, details map[string]any) error {
	return NewDomainError(code, message, http.StatusConflict, details)
}

// NewUpstreamError reports a failed call to an external collaborator.
func NewUpstreamError(code, message string, err error) error {
	return &DomainError{
		Code:       code,
		Message:    message,
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// HasCode reports whether err is a DomainError with the given code.
func HasCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// MapError converts an arbitrary error into a DomainError.
func MapError(err error) error {
	return ToDomainError(err)
}
