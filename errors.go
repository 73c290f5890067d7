package accounts

import (
	"strings"

	"github.com/goliatone/go-errors"
)

const (
	TextCodeDuplicateIdentity   = "account_duplicate_identity"
	TextCodeCodeNotFound        = "account_code_not_found"
	TextCodeInvalidCredentials  = "account_invalid_credentials"
	TextCodeNotActivated        = "account_not_activated"
	TextCodeCodeExpired         = "account_code_expired"
	TextCodeInvalidRefreshToken = "account_invalid_refresh_token"
	TextCodeTooManyAttempts     = "account_too_many_login_attempts"
	TextCodeAccountSuspended    = "account_suspended"
)

// ErrDuplicateIdentity is returned when a registration collides with an
// existing email or phone number.
var ErrDuplicateIdentity = errors.New("an account with this identity already exists", errors.CategoryConflict).
	WithTextCode(TextCodeDuplicateIdentity).
	WithCode(errors.CodeConflict)

// ErrCodeNotFound is returned when an activation or reset code does not match
// any account. A code that was already consumed behaves the same way.
var ErrCodeNotFound = errors.New("unknown activation code", errors.CategoryNotFound).
	WithTextCode(TextCodeCodeNotFound).
	WithCode(errors.CodeNotFound)

// ErrInvalidCredentials is the uniform login failure. Callers cannot tell an
// unknown identifier apart from a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(errors.CodeUnauthorized)

// ErrAccountNotActivated is returned when credentials verify but the account
// has not confirmed its activation code yet.
var ErrAccountNotActivated = errors.New("account pending activation", errors.CategoryAuth).
	WithTextCode(TextCodeNotActivated).
	WithCode(errors.CodeForbidden)

// ErrCodeExpired is returned when code TTL enforcement is enabled and the
// presented code is older than the configured window.
var ErrCodeExpired = errors.New("activation code expired", errors.CategoryValidation).
	WithTextCode(TextCodeCodeExpired).
	WithCode(errors.CodeBadRequest)

// ErrInvalidRefreshToken covers expired, malformed, or wrong-use tokens
// presented to the refresh endpoint.
var ErrInvalidRefreshToken = errors.New("invalid or expired refresh token", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidRefreshToken).
	WithCode(errors.CodeUnauthorized)

// ErrTooManyLoginAttempts is returned once an account exceeds the attempt
// budget inside the cool-down window.
var ErrTooManyLoginAttempts = errors.New("too many login attempts", errors.CategoryAuth).
	WithTextCode(TextCodeTooManyAttempts).
	WithCode(errors.CodeUnauthorized)

// ErrAccountSuspended blocks login for administratively suspended accounts.
var ErrAccountSuspended = errors.New("account suspended", errors.CategoryAuth).
	WithTextCode(TextCodeAccountSuspended).
	WithCode(errors.CodeForbidden)

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}

// IsDuplicateIdentity reports whether err carries the duplicate identity
// code anywhere in its chain.
func IsDuplicateIdentity(err error) bool {
	return hasTextCode(err, TextCodeDuplicateIdentity)
}

func hasTextCode(err error, textCode string) bool {
	for err != nil {
		var richErr *errors.Error
		if !errors.As(err, &richErr) {
			return false
		}
		if richErr.TextCode == textCode {
			return true
		}
		err = richErr.Source
	}
	return false
}
