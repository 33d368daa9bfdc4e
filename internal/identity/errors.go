package identity

import (
	"fmt"
	"net/http"
	"strings"

	apperrors "nutri-auth/pkg/errors"
)

// gotrueError is the error body GoTrue returns. Older deployments use
// error/error_description instead of error_code/msg.
type gotrueError struct {
	Code             int    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e gotrueError) code() string {
	if e.ErrorCode != "" {
		return e.ErrorCode
	}
	return e.Error
}

func (e gotrueError) text() string {
	for _, s := range []string{e.Msg, e.Message, e.ErrorDescription} {
		if s != "" {
			return s
		}
	}
	return ""
}

// operation names the call being normalised, since the same vendor code
// means different things on different endpoints
type operation int

const (
	opSignIn operation = iota
	opSignUp
	opTokenExchange
	opRefresh
	opSignOut
	opRecover
)

// normalize maps a GoTrue failure onto the error taxonomy
func normalize(op operation, status int, body gotrueError) *apperrors.AppError {
	code := body.code()
	text := strings.ToLower(body.text())
	internal := fmt.Errorf("gotrue status=%d code=%s msg=%s", status, code, body.text())

	if status == http.StatusTooManyRequests || strings.HasPrefix(code, "over_") {
		return apperrors.NewRateLimitError("Too many attempts. Please wait a moment and try again.")
	}

	switch code {
	case "user_banned":
		return apperrors.NewUserDisabledError(internal)
	case "user_already_exists", "email_exists":
		return apperrors.NewEmailInUseError(internal)
	case "weak_password":
		return apperrors.NewWeakPasswordError(body.text(), internal)
	case "user_not_found":
		return apperrors.NewNoSuchAccountError()
	case "bad_jwt", "session_not_found", "refresh_token_not_found", "refresh_token_already_used":
		if op == opTokenExchange {
			return apperrors.NewTokenInvalidError(internal)
		}
		return apperrors.NewAuthenticationError("Your session has ended. Please sign in again.")
	}

	switch op {
	case opSignIn:
		if code == "invalid_credentials" || code == "invalid_grant" || status == http.StatusBadRequest {
			return apperrors.NewInvalidCredentialsError("", internal)
		}
	case opSignUp:
		if strings.Contains(text, "already registered") {
			return apperrors.NewEmailInUseError(internal)
		}
		if strings.Contains(text, "password") && status == http.StatusUnprocessableEntity {
			return apperrors.NewWeakPasswordError("", internal)
		}
	case opTokenExchange:
		if status >= 400 && status < 500 {
			return apperrors.NewTokenInvalidError(internal)
		}
	case opRefresh:
		if status >= 400 && status < 500 {
			return apperrors.NewAuthenticationError("Your session has ended. Please sign in again.")
		}
	}

	return apperrors.NewInternalError("Identity provider is temporarily unavailable", internal)
}
