package allocator

import (
	"errors"
	"fmt"
	"time"
)

// Kind discriminates allocator failures so callers can branch on them.
type Kind string

const (
	// KindNotFound means the key code does not resolve to a key.
	KindNotFound Kind = "not_found"
	// KindKeyDisabled means the key was disabled by an administrator.
	KindKeyDisabled Kind = "key_disabled"
	// KindKeyExpired means the key validity window has passed.
	KindKeyExpired Kind = "key_expired"
	// KindRateLimited means the cooldown or daily limit has not elapsed.
	KindRateLimited Kind = "rate_limited"
	// KindQuotaExhausted means a limited key has drawn its full account cap.
	KindQuotaExhausted Kind = "quota_exhausted"
	// KindNoAccounts means the unused pool is empty system-wide.
	KindNoAccounts Kind = "no_accounts_available"
	// KindNoNewAccount means unused accounts exist but all were already
	// assigned to this key.
	KindNoNewAccount Kind = "no_new_account_available"
	// KindDeviceLimit means the key's device cap is reached.
	KindDeviceLimit Kind = "device_limit_exceeded"
	// KindAuthFailure wraps a typed seat service failure during the lazy
	// credential fetch.
	KindAuthFailure Kind = "auth_failure"
	// KindContention means the claim lost its conditional update race twice.
	KindContention Kind = "contention"
	// KindInternal covers unexpected store failures.
	KindInternal Kind = "internal"
)

// Error is a typed allocator failure.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return "allocator: unknown error"
	}
	if e.Message != "" {
		return fmt.Sprintf("allocator: %s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("allocator: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("allocator: %s", e.Kind)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func wrapError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the allocator error kind, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) && typed != nil {
		return typed.Kind
	}
	return KindInternal
}
