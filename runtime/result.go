package runtime

// ActionResult is the outcome of one attempted action. Exactly one of Data or
// Error is meaningful: Success true carries a payload (possibly nil for
// skipped actions), Success false carries error info.
type ActionResult struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo describes a recoverable action failure. It is JSON-serializable
// so results can be returned by the dispatch surface and bound into
// expression contexts for try/catch bodies.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
}

// Succeed builds a successful result carrying data.
func Succeed(data any) ActionResult {
	return ActionResult{Success: true, Data: data}
}

// Skipped is the result of an action whose guard condition was false.
// A skipped action is not an error: sequences keep their one-result-per-action
// shape and downstream length invariants hold.
func Skipped() ActionResult {
	return ActionResult{Success: true, Data: nil}
}

// Fail builds a failed result.
func Fail(code ErrorCode, action, message string) ActionResult {
	return ActionResult{
		Success: false,
		Error: &ErrorInfo{
			Code:    string(code),
			Message: message,
			Action:  action,
		},
	}
}

// ToMap converts error info to a map for injection into expression contexts.
func (e *ErrorInfo) ToMap() map[string]any {
	return map[string]any{
		"code":    e.Code,
		"message": e.Message,
		"action":  e.Action,
	}
}
