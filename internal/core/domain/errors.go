// Package domain contains the core business entities for the payment service.
package domain

import "errors"

// Domain errors - represent business rule violations.
var (
	// ErrValidation is returned when a required creation field is missing or invalid.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned for an unknown order or payment.
	ErrNotFound = errors.New("payment not found")

	// ErrSignature is returned when a callback MAC does not match.
	ErrSignature = errors.New("mac not equal")

	// ErrParse is returned for a malformed callback body.
	ErrParse = errors.New("malformed callback data")

	// ErrGateway is returned when the gateway is unreachable or answers with an error.
	ErrGateway = errors.New("payment gateway error")

	// ErrStatusConflict is returned when a terminal status would be replaced
	// by a different terminal status.
	ErrStatusConflict = errors.New("conflicting terminal status")

	// ErrDuplicateOrderID is returned when an order id is already taken.
	ErrDuplicateOrderID = errors.New("order id already exists")
)

// ServiceError wraps errors with additional context.
type ServiceError struct {
	Err     error
	Message string
	Code    string
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError creates a new ServiceError.
func NewServiceError(err error, message, code string) *ServiceError {
	return &ServiceError{Err: err, Message: message, Code: code}
}
