// Package apperr defines the errors reported to clients. Each error carries a
// stable numeric code; clients must not rely on the message text.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeMissingParam     = 1
	CodeUserExists       = 2
	CodeWrongCredentials = 3
	CodeUserNotFound     = 4
	CodeEmptyMessage     = 6
	CodeShortName        = 7
	CodeWeakPassword     = 8
	CodeInvalidParam     = 9

	CodeBadRequest       = 400
	CodeUnauthorized     = 401
	CodeNotFound         = 404
	CodeMethodNotAllowed = 405
	CodeTooManyRequests  = 429
	CodeInternal         = 500
)

var messages = map[int]string{
	CodeMissingParam:     "Missed parameter: %s",
	CodeUserExists:       "User exists: %s",
	CodeWrongCredentials: "Wrong login or password",
	CodeUserNotFound:     "User with id %d does not exist",
	CodeEmptyMessage:     "Empty message",
	CodeShortName:        "Name requires: at least 4 symbols",
	CodeWeakPassword:     "Password requires: at least 8 symbols, uppercase and lowercase letters",
	CodeInvalidParam:     "Invalid parameter: %s",
	CodeBadRequest:       "Bad request",
	CodeUnauthorized:     "Authorization required",
	CodeNotFound:         "Not found",
	CodeMethodNotAllowed: "Method not allowed",
	CodeTooManyRequests:  "Too many requests",
	CodeInternal:         "Internal server error",
}

type Error struct {
	Code    int    `json:"error"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

// Status maps the error class to an HTTP status code.
func (e *Error) Status() int {
	switch e.Code {
	case CodeUserNotFound, CodeNotFound:
		return http.StatusNotFound
	case CodeWrongCredentials, CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case CodeTooManyRequests:
		return http.StatusTooManyRequests
	case CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func New(code int, args ...any) *Error {
	tmpl, ok := messages[code]
	if !ok {
		tmpl = messages[CodeInternal]
		code = CodeInternal
	}
	if len(args) > 0 {
		tmpl = fmt.Sprintf(tmpl, args...)
	}
	return &Error{Code: code, Message: tmpl}
}

func MissingParam(name string) *Error { return New(CodeMissingParam, name) }
func UserExists(name string) *Error   { return New(CodeUserExists, name) }
func WrongCredentials() *Error        { return New(CodeWrongCredentials) }
func UserNotFound(id int64) *Error    { return New(CodeUserNotFound, id) }
func EmptyMessage() *Error            { return New(CodeEmptyMessage) }
func ShortName() *Error               { return New(CodeShortName) }
func WeakPassword() *Error            { return New(CodeWeakPassword) }
func InvalidParam(name string) *Error { return New(CodeInvalidParam, name) }
func Unauthorized() *Error            { return New(CodeUnauthorized) }
func NotFound() *Error                { return New(CodeNotFound) }
func MethodNotAllowed() *Error        { return New(CodeMethodNotAllowed) }
func TooManyRequests() *Error         { return New(CodeTooManyRequests) }
func Internal() *Error                { return New(CodeInternal) }

// From returns the client-facing error for err. Anything that is not an
// *Error is reported as Internal.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal()
}

// Is reports whether err is an *Error with the given code.
func Is(err error, code int) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
