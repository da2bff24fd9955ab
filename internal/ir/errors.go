package ir

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes braid errors.
type ErrorCode string

const (
	// CodeValidation marks a malformed entry or payload. Skip and continue.
	CodeValidation ErrorCode = "VALIDATION"

	// CodeAuthorization marks an entry from a writer not in the writer set
	// at its causal point. Skip and continue.
	CodeAuthorization ErrorCode = "AUTHORIZATION"

	// CodeNotWritable is returned by Append when the local writer is not
	// authorized yet.
	CodeNotWritable ErrorCode = "NOT_WRITABLE"

	// CodeInviteExpired, CodeInviteRevoked and CodeInviteExhausted are the
	// invite lifecycle rejections. They never cross the network.
	CodeInviteExpired   ErrorCode = "INVITE_EXPIRED"
	CodeInviteRevoked   ErrorCode = "INVITE_REVOKED"
	CodeInviteExhausted ErrorCode = "INVITE_EXHAUSTED"

	// CodePairingTimeout is returned to the caller that initiated pairing.
	CodePairingTimeout ErrorCode = "PAIRING_TIMEOUT"

	// CodeStorage is fatal for the local process and must propagate.
	CodeStorage ErrorCode = "STORAGE"
)

// Error is the braid error type: a code, a message, optional details and an
// optional wrapped cause. Two Errors match under errors.Is when their codes
// are equal, so the sentinels below work with wrapped errors.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrValidation      = &Error{Code: CodeValidation, Message: "validation failed"}
	ErrAuthorization   = &Error{Code: CodeAuthorization, Message: "writer not authorized"}
	ErrNotWritable     = &Error{Code: CodeNotWritable, Message: "local writer is not writable"}
	ErrInviteExpired   = &Error{Code: CodeInviteExpired, Message: "invite expired"}
	ErrInviteRevoked   = &Error{Code: CodeInviteRevoked, Message: "invite revoked"}
	ErrInviteExhausted = &Error{Code: CodeInviteExhausted, Message: "invite exhausted"}
	ErrPairingTimeout  = &Error{Code: CodePairingTimeout, Message: "pairing timed out"}
	ErrStorage         = &Error{Code: CodeStorage, Message: "storage failure"}
)

// NewError builds an Error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError builds an Error around a cause.
func WrapError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

// Validationf builds a ValidationError.
func Validationf(format string, args ...any) *Error {
	return NewError(CodeValidation, fmt.Sprintf(format, args...))
}

// StorageError wraps a persistence failure.
func StorageError(op string, cause error) *Error {
	return &Error{
		Code:    CodeStorage,
		Message: op,
		Err:     cause,
		Details: map[string]string{"op": op},
	}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsAuthorization reports whether err is an AuthorizationError.
func IsAuthorization(err error) bool { return errors.Is(err, ErrAuthorization) }

// IsNotWritable reports whether err is a NotWritableError.
func IsNotWritable(err error) bool { return errors.Is(err, ErrNotWritable) }

// IsPairingTimeout reports whether err is a PairingTimeoutError.
func IsPairingTimeout(err error) bool { return errors.Is(err, ErrPairingTimeout) }

// IsStorage reports whether err is a StorageError.
func IsStorage(err error) bool { return errors.Is(err, ErrStorage) }

// IsInviteRejection reports whether err is any invite lifecycle rejection.
func IsInviteRejection(err error) bool {
	return errors.Is(err, ErrInviteExpired) ||
		errors.Is(err, ErrInviteRevoked) ||
		errors.Is(err, ErrInviteExhausted)
}
