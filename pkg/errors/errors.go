package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorType represents different types of application errors
type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeAuthorization  ErrorType = "authorization"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeInternal       ErrorType = "internal"
	ErrorTypeRateLimit      ErrorType = "rate_limit"

	// Identity taxonomy
	ErrorTypeInvalidCredentials  ErrorType = "invalid_credentials"
	ErrorTypeUserDisabled        ErrorType = "user_disabled"
	ErrorTypeEmailInUse          ErrorType = "email_in_use"
	ErrorTypeWeakPassword        ErrorType = "weak_password"
	ErrorTypeNoSuchAccount       ErrorType = "no_such_account"
	ErrorTypeAccountDivergence   ErrorType = "account_divergence"
	ErrorTypePasswordResetNeeded ErrorType = "password_mismatch_requires_reset"
	ErrorTypeTokenInvalid        ErrorType = "token_invalid"
	ErrorTypeTokenExpired        ErrorType = "token_expired"
	ErrorTypeEmailMismatch       ErrorType = "email_mismatch"
	ErrorTypeStoreUnavailable    ErrorType = "store_unavailable"
	ErrorTypeCommerceUnavailable ErrorType = "commerce_unavailable"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	StatusCode int                    `json:"status_code"`
	Internal   error                  `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Internal.Error())
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Internal
}

// WithDetail attaches a detail entry and returns the same error
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// TypeOf returns the ErrorType of the first AppError in err's chain, or "" if none.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

// Is reports whether err carries an AppError of the given type.
func Is(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}

// As is re-exported so callers importing this package need no alias for the standard one.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// NewValidationError creates a new validation error
func NewValidationError(message string, details map[string]interface{}) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Details:    details,
	}
}

// NewAuthenticationError creates a new authentication error
func NewAuthenticationError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeAuthentication,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

// NewAuthorizationError creates a new authorization error
func NewAuthorizationError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeAuthorization,
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

// NewInternalError creates a new internal server error
func NewInternalError(message string, internal error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   internal,
	}
}

// NewRateLimitError creates a new rate limit error
func NewRateLimitError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeRateLimit,
		Message:    message,
		StatusCode: http.StatusTooManyRequests,
	}
}

// NewInvalidCredentialsError is returned for a wrong email/password pair on either identity system
func NewInvalidCredentialsError(message string, internal error) *AppError {
	if message == "" {
		message = "Email or password is incorrect."
	}
	return &AppError{
		Type:       ErrorTypeInvalidCredentials,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
		Internal:   internal,
	}
}

// NewUserDisabledError creates a new disabled-account error
func NewUserDisabledError(internal error) *AppError {
	return &AppError{
		Type:       ErrorTypeUserDisabled,
		Message:    "This account has been disabled.",
		StatusCode: http.StatusForbidden,
		Internal:   internal,
	}
}

// NewEmailInUseError creates a new duplicate-account error
func NewEmailInUseError(internal error) *AppError {
	return &AppError{
		Type:       ErrorTypeEmailInUse,
		Message:    "An account with this email already exists.",
		StatusCode: http.StatusConflict,
		Internal:   internal,
	}
}

// NewWeakPasswordError creates a new weak-password error
func NewWeakPasswordError(message string, internal error) *AppError {
	if message == "" {
		message = "Password does not meet the strength requirements."
	}
	return &AppError{
		Type:       ErrorTypeWeakPassword,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Internal:   internal,
	}
}

// NewNoSuchAccountError creates a new unknown-account error
func NewNoSuchAccountError() *AppError {
	return &AppError{
		Type:       ErrorTypeNoSuchAccount,
		Message:    "No account found with that email address.",
		StatusCode: http.StatusNotFound,
	}
}

// NewAccountDivergenceError reports an email known to one identity system but not the other
func NewAccountDivergenceError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeAccountDivergence,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

// NewPasswordResetNeededError is returned after a reset email was issued for diverged passwords
func NewPasswordResetNeededError() *AppError {
	return &AppError{
		Type: ErrorTypePasswordResetNeeded,
		Message: "Your store password doesn't match our system. We've sent a password reset email " +
			"to your address. Please reset your password, then sign in again.",
		StatusCode: http.StatusConflict,
	}
}

// NewTokenInvalidError creates a new malformed-token error
func NewTokenInvalidError(internal error) *AppError {
	return &AppError{
		Type:       ErrorTypeTokenInvalid,
		Message:    "Invalid authentication token. Please sign in.",
		StatusCode: http.StatusUnauthorized,
		Internal:   internal,
	}
}

// NewTokenExpiredError creates a new expired-token error
func NewTokenExpiredError(internal error) *AppError {
	return &AppError{
		Type:       ErrorTypeTokenExpired,
		Message:    "Your sign-in link has expired. Please sign in.",
		StatusCode: http.StatusUnauthorized,
		Internal:   internal,
	}
}

// NewEmailMismatchError creates a new error for a commerce customer owning a different email
func NewEmailMismatchError() *AppError {
	return &AppError{
		Type:       ErrorTypeEmailMismatch,
		Message:    "Email does not match customer record.",
		StatusCode: http.StatusForbidden,
	}
}

// NewStoreUnavailableError wraps a profile store failure
func NewStoreUnavailableError(internal error) *AppError {
	return &AppError{
		Type:       ErrorTypeStoreUnavailable,
		Message:    "Profile service is temporarily unavailable.",
		StatusCode: http.StatusServiceUnavailable,
		Internal:   internal,
	}
}

// NewCommerceUnavailableError wraps a commerce API failure
func NewCommerceUnavailableError(internal error) *AppError {
	return &AppError{
		Type:       ErrorTypeCommerceUnavailable,
		Message:    "Store account service is temporarily unavailable.",
		StatusCode: http.StatusBadGateway,
		Internal:   internal,
	}
}

// ErrorResponse represents the JSON error response
type ErrorResponse struct {
	Success bool `json:"success"`
	Error   struct {
		Type      ErrorType              `json:"type"`
		Message   string                 `json:"message"`
		Details   map[string]interface{} `json:"details,omitempty"`
		RequestID string                 `json:"request_id,omitempty"`
		Timestamp string                 `json:"timestamp"`
	} `json:"error"`
}
