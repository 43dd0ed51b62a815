package executor

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrTimeout indicates execution exceeded the wall-clock budget.
	ErrTimeout = errors.New("execution timed out")

	// ErrCanceled indicates the caller's context was canceled.
	ErrCanceled = errors.New("execution canceled")

	// ErrExecutorShutdown indicates the executor has been shut down.
	ErrExecutorShutdown = errors.New("executor shutdown")

	// ErrModuleNotRegistered indicates policy allows a module the host never
	// registered.
	ErrModuleNotRegistered = errors.New("module not registered by host")
)

// ErrorCode provides structured error classification across the gateway.
type ErrorCode string

const (
	// ErrCodeSyntaxFault indicates candidate code failed to parse.
	ErrCodeSyntaxFault ErrorCode = "SYNTAX_FAULT"

	// ErrCodePolicyViolation indicates a disallowed load, name, or attribute.
	ErrCodePolicyViolation ErrorCode = "POLICY_VIOLATION"

	// ErrCodeParameterEncoding indicates a parameter value that cannot be
	// rendered as a safe literal.
	ErrCodeParameterEncoding ErrorCode = "PARAMETER_ENCODING_FAULT"

	// ErrCodeExecutionFault indicates validated code raised during execution.
	ErrCodeExecutionFault ErrorCode = "EXECUTION_FAULT"

	// ErrCodeTimeout indicates the wall-clock budget was exceeded.
	ErrCodeTimeout ErrorCode = "TIMEOUT_FAULT"

	// ErrCodeToolFault indicates an internal fault in the gateway itself.
	ErrCodeToolFault ErrorCode = "TOOL_FAULT"
)

// Error provides detailed error information for gateway operations.
type Error struct {
	// Op is the operation that failed.
	Op string

	// Err is the underlying error.
	Err error

	// Code is the structured error code.
	Code ErrorCode

	// Details provides human-readable detail.
	Details string

	// Retryable indicates whether the operation can be retried as-is.
	Retryable bool
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewTimeoutError creates a timeout fault. Timeouts are retryable: the same
// command may finish within budget on a quieter gateway.
func NewTimeoutError(detail string) error {
	return &Error{
		Op:        "execute",
		Err:       ErrTimeout,
		Code:      ErrCodeTimeout,
		Details:   detail,
		Retryable: true,
	}
}

// NewToolFault creates an internal tool fault.
func NewToolFault(op string, err error) error {
	return &Error{
		Op:        op,
		Err:       err,
		Code:      ErrCodeToolFault,
		Details:   err.Error(),
		Retryable: false,
	}
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return ErrCodeToolFault
}

// IsRetryable returns true if the error is retryable.
func IsRetryable(err error) bool {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Retryable
	}
	return false
}
