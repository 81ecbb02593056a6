package auth

import (
	"errors"
	"fmt"
	"strings"
)

type Code string

const (
	CodeWrongCredential  Code = "wrong-credential"
	CodeIdentityNotFound Code = "identity-not-found"
	CodeIdentityDisabled Code = "identity-disabled"
	CodeMalformedEmail   Code = "malformed-email"
	CodeWeakCredential   Code = "weak-credential"
	CodeEmailRegistered  Code = "email-already-registered"
	CodeRateLimited      Code = "rate-limited"
	CodeSessionExpired   Code = "session-expired"
	CodeUnknown          Code = "unknown"
)

// Error is a rejection reported by the identity backend.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("auth: %s", e.Code)
	}
	return fmt.Sprintf("auth: %s: %s", e.Code, e.Message)
}

// Is matches another *Error by code, so errors.Is(err, &Error{Code: ...}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func CodeOf(err error) Code {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Code
	}
	return ""
}

var backendCodes = map[string]Code{
	"EMAIL_EXISTS":                CodeEmailRegistered,
	"DUPLICATE_EMAIL":             CodeEmailRegistered,
	"INVALID_PASSWORD":            CodeWrongCredential,
	"INVALID_LOGIN_CREDENTIALS":   CodeWrongCredential,
	"EMAIL_NOT_FOUND":             CodeIdentityNotFound,
	"USER_NOT_FOUND":              CodeIdentityNotFound,
	"USER_DISABLED":               CodeIdentityDisabled,
	"INVALID_EMAIL":               CodeMalformedEmail,
	"MISSING_EMAIL":               CodeMalformedEmail,
	"WEAK_PASSWORD":               CodeWeakCredential,
	"MISSING_PASSWORD":            CodeWeakCredential,
	"TOO_MANY_ATTEMPTS_TRY_LATER": CodeRateLimited,

	"INVALID_ID_TOKEN":               CodeSessionExpired,
	"TOKEN_EXPIRED":                  CodeSessionExpired,
	"USER_TOKEN_EXPIRED":             CodeSessionExpired,
	"CREDENTIAL_TOO_OLD_LOGIN_AGAIN": CodeSessionExpired,
	"INVALID_REFRESH_TOKEN":          CodeSessionExpired,
}

// ClassifyBackendCode turns a backend message such as
// "WEAK_PASSWORD : Password should be at least 6 characters" into an *Error.
func ClassifyBackendCode(message string) *Error {
	raw := strings.TrimSpace(message)
	key := raw
	detail := ""
	if i := strings.Index(raw, ":"); i >= 0 {
		key = strings.TrimSpace(raw[:i])
		detail = strings.TrimSpace(raw[i+1:])
	}
	code, ok := backendCodes[strings.ToUpper(key)]
	if !ok {
		return &Error{Code: CodeUnknown, Message: raw}
	}
	if detail == "" {
		detail = key
	}
	return &Error{Code: code, Message: detail}
}
