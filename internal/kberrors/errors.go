// Package kberrors defines the error taxonomy shared by the encoders, the
// rerankers and the knowledge base.
//
// Every typed error matches one sentinel through errors.Is, so callers can
// branch on the category without depending on the concrete type:
//
//	if errors.Is(err, kberrors.ErrExternalService) { ... }
package kberrors

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is matched by invalid construction-time settings.
	ErrConfiguration = errors.New("configuration error")
	// ErrIntegration is matched when an external capability returns results
	// that cannot be correlated with the request.
	ErrIntegration = errors.New("integration error")
	// ErrExternalService is matched when a provider call fails.
	ErrExternalService = errors.New("external service error")
	// ErrUnsupported is matched by operations that are not implemented.
	ErrUnsupported = errors.New("unsupported operation")
	// ErrInvalidInput is matched by malformed requests.
	ErrInvalidInput = errors.New("invalid input")
)

// ConfigurationError reports an invalid setting or collaborator.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Message
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// Configuration returns a ConfigurationError with a formatted message.
func Configuration(format string, args ...any) error {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// IntegrationError reports a result set that does not line up with its request.
type IntegrationError struct {
	Message string
}

func (e *IntegrationError) Error() string {
	return "integration error: " + e.Message
}

func (e *IntegrationError) Is(target error) bool {
	return target == ErrIntegration
}

// Integration returns an IntegrationError with a formatted message.
func Integration(format string, args ...any) error {
	return &IntegrationError{Message: fmt.Sprintf(format, args...)}
}

// ExternalServiceError wraps a failed provider call. Message carries the
// provider's own description of the failure.
type ExternalServiceError struct {
	Provider string
	Message  string
	Err      error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s request failed: %s", e.Provider, e.Message)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

func (e *ExternalServiceError) Is(target error) bool {
	return target == ErrExternalService
}

// ExternalService wraps err as an ExternalServiceError. If err exposes a
// provider message through ProviderMessage() it is used verbatim.
func ExternalService(provider string, err error) error {
	msg := err.Error()
	var pm interface{ ProviderMessage() string }
	if errors.As(err, &pm) && pm.ProviderMessage() != "" {
		msg = pm.ProviderMessage()
	}
	return &ExternalServiceError{Provider: provider, Message: msg, Err: err}
}

// UnsupportedOperationError reports a call to an unimplemented operation.
type UnsupportedOperationError struct {
	Operation string
}

func (e *UnsupportedOperationError) Error() string {
	return e.Operation + " is not supported"
}

func (e *UnsupportedOperationError) Is(target error) bool {
	return target == ErrUnsupported
}

// Unsupported returns an UnsupportedOperationError for op.
func Unsupported(op string) error {
	return &UnsupportedOperationError{Operation: op}
}

// InvalidInputError reports a request the caller must fix.
type InvalidInputError struct {
	Message string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Message
}

func (e *InvalidInputError) Is(target error) bool {
	return target == ErrInvalidInput
}

// InvalidInput returns an InvalidInputError with a formatted message.
func InvalidInput(format string, args ...any) error {
	return &InvalidInputError{Message: fmt.Sprintf(format, args...)}
}
