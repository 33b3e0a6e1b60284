package seatapi

import "fmt"

// AuthErrorKind classifies failures of seat service calls.
type AuthErrorKind string

const (
	// KindInvalidCredentials means the email/password pair was rejected.
	KindInvalidCredentials AuthErrorKind = "invalid_credentials"
	// KindUnregisteredEmail means the email is unknown to the seat service.
	KindUnregisteredEmail AuthErrorKind = "unregistered_email"
	// KindNetwork covers transport failures and timeouts.
	KindNetwork AuthErrorKind = "network_error"
	// KindMalformedResponse means the service replied with an unparseable body.
	KindMalformedResponse AuthErrorKind = "malformed_response"
)

// AuthError describes a typed seat service failure.
type AuthError struct {
	Kind    AuthErrorKind
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e == nil {
		return "seatapi: unknown error"
	}
	if e.Message != "" {
		return fmt.Sprintf("seatapi: %s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("seatapi: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("seatapi: %s", e.Kind)
}

func (e *AuthError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Retryable reports whether the failure is transient and safe to retry.
func (e *AuthError) Retryable() bool {
	return e != nil && e.Kind == KindNetwork
}

func newAuthError(kind AuthErrorKind, message string, err error) *AuthError {
	return &AuthError{Kind: kind, Message: message, Err: err}
}
