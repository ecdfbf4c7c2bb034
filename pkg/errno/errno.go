package errno

import (
	"errors"
	"fmt"
)

// Errno defines the error code logic
type Errno struct {
	Code    int
	Message string
}

func (e Errno) Error() string {
	return e.Message
}

// Is 按错误码比较，WithMessage 之后仍然能被 errors.Is 命中
func (e Errno) Is(target error) bool {
	var t Errno
	switch typed := target.(type) {
	case Errno:
		t = typed
	case *Errno:
		t = *typed
	default:
		return false
	}
	return t.Code == e.Code
}

// WithMessage 复制一份错误码并替换提示语
func (e Errno) WithMessage(msg string) Errno {
	return Errno{Code: e.Code, Message: msg}
}

// Wrap 附带底层原因
func (e Errno) Wrap(cause error) *Error {
	return &Error{Errno: e, Cause: cause}
}

// Wrapf 等价于 Wrap(fmt.Errorf(...))
func (e Errno) Wrapf(format string, args ...interface{}) *Error {
	return &Error{Errno: e, Cause: fmt.Errorf(format, args...)}
}

// Error 是带 cause 的错误码
type Error struct {
	Errno
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	return e.Errno.Is(target)
}

// Decode tries to convert an error to Errno
func Decode(err error) (int, string) {
	if err == nil {
		return OK.Code, OK.Message
	}

	var wrapped *Error
	if errors.As(err, &wrapped) {
		return wrapped.Code, wrapped.Error()
	}

	switch typed := err.(type) {
	case *Errno:
		return typed.Code, typed.Message
	case Errno:
		return typed.Code, typed.Message
	default:
		return InternalServerError.Code, err.Error()
	}
}

// Code 返回错误码，非 Errno 错误统一归为 InternalServerError
func Code(err error) int {
	code, _ := Decode(err)
	return code
}

// Common Errors
var (
	OK                  = Errno{Code: 0, Message: "Success"}
	InternalServerError = Errno{Code: 10001, Message: "Internal server error"}
	ErrBind             = Errno{Code: 10002, Message: "Error occurred while binding the request body to the struct"}
	ErrDatabase         = Errno{Code: 10004, Message: "Database error"}
	ErrCache            = Errno{Code: 10005, Message: "Cache miss"}
)

// Network / wallet errors (30000+)
var (
	ErrWalletUnavailable = Errno{Code: 30001, Message: "Wallet unavailable"}
	ErrChainMismatch     = Errno{Code: 30002, Message: "Wallet is on the wrong network"}
	ErrChainUnavailable  = Errno{Code: 30003, Message: "Target network could not be registered"}
)

// Ledger errors (30100+)
var (
	ErrSubmissionRejected = Errno{Code: 30101, Message: "Submission rejected"}
	ErrLedgerCallFailed   = Errno{Code: 30102, Message: "Ledger call failed"}
	ErrPolling            = Errno{Code: 30103, Message: "Resolution poll failed"}
	ErrTimeout            = Errno{Code: 30104, Message: "Resolution still pending"}
)

// Wager errors (30200+)
var (
	ErrWagerNotFound    = Errno{Code: 30201, Message: "Wager not found"}
	ErrInvalidThreshold = Errno{Code: 30202, Message: "Roll-under threshold must be between 2 and 99"}
	ErrInvalidAmount    = Errno{Code: 30203, Message: "Invalid amount"}
	ErrNoSession        = Errno{Code: 30204, Message: "No active session"}
	ErrBusy             = Errno{Code: 30205, Message: "Another action is in progress"}
	ErrNotRefundable    = Errno{Code: 30206, Message: "Wager is not refundable"}
)
