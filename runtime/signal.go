package runtime

import "sync"

// SignalKind classifies flow-local control signals.
type SignalKind int

const (
	// SignalContinue means execution proceeds to the next action.
	SignalContinue SignalKind = iota
	// SignalAbort stops the current flow body with a reason.
	SignalAbort
	// SignalReturn stops the current flow body carrying a return value.
	SignalReturn
)

func (k SignalKind) String() string {
	switch k {
	case SignalAbort:
		return "abort"
	case SignalReturn:
		return "return"
	default:
		return "continue"
	}
}

// ControlSignal is the outcome the flow engine inspects after every step of a
// flow body. Modeling abort/return as an explicit signal (rather than
// exceptions) keeps try/finally cleanup deterministic.
type ControlSignal struct {
	Kind   SignalKind
	Reason string
	Value  any
}

// FlowState is the flow-local control state threaded through one flow body's
// execution. It is shared by reference across nested frames of the same flow
// so an abort inside a nested branch stops every enclosing body, and replaced
// with a fresh instance at sub-flow boundaries.
type FlowState struct {
	mu     sync.Mutex
	signal ControlSignal
}

func NewFlowState() *FlowState {
	return &FlowState{}
}

// Abort records an abort signal. The first signal wins; later signals from
// concurrent branches are ignored.
func (f *FlowState) Abort(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signal.Kind == SignalContinue {
		f.signal = ControlSignal{Kind: SignalAbort, Reason: reason}
	}
}

// Return records a return signal. Return also means "stop executing the
// current body".
func (f *FlowState) Return(value any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signal.Kind == SignalContinue {
		f.signal = ControlSignal{Kind: SignalReturn, Value: value}
	}
}

// Interrupted reports whether an abort or return signal is set.
func (f *FlowState) Interrupted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signal.Kind != SignalContinue
}

// Signal returns the current control signal.
func (f *FlowState) Signal() ControlSignal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signal
}

// ReturnValue returns the recorded return value, if any.
func (f *FlowState) ReturnValue() (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signal.Kind == SignalReturn {
		return f.signal.Value, true
	}
	return nil, false
}
