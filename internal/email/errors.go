package email

import (
	"errors"
	"fmt"
	"net/http"
)

// EmailError is a provider-side failure. StatusCode is the provider's HTTP
// status when one was available and zero otherwise.
type EmailError struct {
	Message    string
	Provider   ProviderType
	StatusCode int

	err error
}

// NewEmailError wraps cause as a failure of provider.
func NewEmailError(provider ProviderType, status int, message string, cause error) *EmailError {
	return &EmailError{Message: message, Provider: provider, StatusCode: status, err: cause}
}

func (e *EmailError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Provider, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *EmailError) Unwrap() error { return e.err }

// HTTPStatus is the status a route should answer with: the provider's own
// status when it is an error status, 500 otherwise.
func (e *EmailError) HTTPStatus() int {
	if e.StatusCode >= 400 && e.StatusCode <= 599 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// Unsupported reports a capability the provider cannot perform.
func Unsupported(provider ProviderType, what string) *EmailError {
	return &EmailError{
		Message:    what + " is not supported by " + string(provider),
		Provider:   provider,
		StatusCode: http.StatusNotImplemented,
	}
}

// FieldError is the detail for one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports malformed input. It is raised before any provider
// call is made.
type ValidationError struct {
	Details []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return "Validation error"
	}
	return fmt.Sprintf("Validation error: %s %s", e.Details[0].Field, e.Details[0].Message)
}

// Invalid builds a ValidationError for a single field.
func Invalid(field, message string) *ValidationError {
	return &ValidationError{Details: []FieldError{{Field: field, Message: message}}}
}

// AsEmailError returns err as an *EmailError, if it is one.
func AsEmailError(err error) (*EmailError, bool) {
	var ee *EmailError
	ok := errors.As(err, &ee)
	return ee, ok
}

// AsValidationError returns err as a *ValidationError, if it is one.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}
