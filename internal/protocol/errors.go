package protocol

import "fmt"

// ErrorCode identifies a request-scoped failure. Codes are sent verbatim in
// error replies so clients can branch on them.
type ErrorCode string

const (
	CodeNonExistentGame ErrorCode = "NonExistentGame"
	CodeNotInGame       ErrorCode = "NotInGame"
	CodeAlreadyInGame   ErrorCode = "AlreadyInGame"
	CodeNoPermission    ErrorCode = "NoPermission"
	CodeStackNotFound   ErrorCode = "StackNotFound"
	CodeEmptyStack      ErrorCode = "EmptyStack"
	CodeCardNotFound    ErrorCode = "CardNotFound"
	CodePlayerNotFound  ErrorCode = "PlayerNotFound"
	CodeInvalidRequest  ErrorCode = "InvalidRequest"
	CodeServiceError    ErrorCode = "ServiceError"
)

// Error is a request-scoped failure converted to an error reply at the
// protocol handler boundary. It never aborts other connections' events.
type Error struct {
	Code    ErrorCode
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Errorf builds an Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ServiceError wraps a failure from the store or push collaborators. The
// cause is logged, not echoed to clients.
func ServiceError(err error) *Error {
	return &Error{Code: CodeServiceError, Message: "internal service error", cause: err}
}
