package runtime

import (
	"errors"
	"fmt"
)

// ErrorCode identifies known engine error conditions.
type ErrorCode string

const (
	// Fatal codes: returned as errors from executor/engine calls because they
	// indicate a malformed specification or a pathological spec, not a
	// runtime condition a flow could recover from.
	ErrCodeActionNotFound   ErrorCode = "ACTION_NOT_FOUND"
	ErrCodeFlowNotFound     ErrorCode = "FLOW_NOT_FOUND"
	ErrCodeLimitExceeded    ErrorCode = "LIMIT_EXCEEDED"
	ErrCodeDepthExceeded    ErrorCode = "DEPTH_EXCEEDED"
	ErrCodeIterationLimit   ErrorCode = "ITERATION_LIMIT"
	ErrCodeMissingParameter ErrorCode = "MISSING_PARAMETER"

	// Recoverable codes: surfaced inside failed ActionResults.
	ErrCodeCancelled     ErrorCode = "CANCELLED"
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeExecution     ErrorCode = "EXECUTION_FAULT"
	ErrCodeAborted       ErrorCode = "ABORTED"
)

// EngineError is the canonical error type for fatal engine conditions.
type EngineError struct {
	Code    ErrorCode
	Message string
	Action  string
	Flow    string
	Cause   error
}

func (e *EngineError) Error() string {
	switch {
	case e.Action != "":
		return fmt.Sprintf("[%s] %s (action: %s)", e.Code, e.Message, e.Action)
	case e.Flow != "":
		return fmt.Sprintf("[%s] %s (flow: %s)", e.Code, e.Message, e.Flow)
	default:
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// IsCode reports whether err is (or wraps) an EngineError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.Code == code
}

func newActionNotFound(name string) *EngineError {
	return &EngineError{
		Code:    ErrCodeActionNotFound,
		Message: fmt.Sprintf("no handler registered for action %q", name),
		Action:  name,
	}
}

func newFlowNotFound(name string) *EngineError {
	return &EngineError{
		Code:    ErrCodeFlowNotFound,
		Message: fmt.Sprintf("flow %q is not registered", name),
		Flow:    name,
	}
}

func newLimitExceeded(message string) *EngineError {
	return &EngineError{Code: ErrCodeLimitExceeded, Message: message}
}

func newMissingParameter(flow, param string) *EngineError {
	return &EngineError{
		Code:    ErrCodeMissingParameter,
		Message: fmt.Sprintf("missing required parameter %q", param),
		Flow:    flow,
	}
}
