// ABOUTME: AgentEvent taxonomy broadcast on the event bus, and the
// ABOUTME: AgentState/ErrorKind enumerations driving the loop's state machine.

package core

// AgentEventType identifies the kind of event emitted during a run.
type AgentEventType int

const (
	EventTurnStarted AgentEventType = iota
	EventAssistantDelta
	EventAssistantMessage
	EventToolCallStarted
	EventToolCallUpdate
	EventToolCallFinished
	EventUsageUpdated
	EventTurnEnded
	EventIdle
	EventError
)

// AgentEvent is the tagged union broadcast on the Event Bus.
type AgentEvent struct {
	Type AgentEventType

	// EventAssistantDelta / EventAssistantMessage
	Partial *ContentBlock
	Final   *Message

	// EventToolCallStarted / EventToolCallUpdate / EventToolCallFinished
	CallID       string
	ToolName     string
	ToolLabel    string
	Progress     string
	ToolResult   *ToolResult
	ToolErr      error
	ParentCallID string // set when re-published from a subagent

	// EventUsageUpdated
	Usage Usage

	// EventTurnEnded
	StopReason StopReason

	// EventError
	ErrKind ErrorKind
	Err     error
}

// ToolResult is the outcome of a single tool execution.
type ToolResult struct {
	Content []ContentBlock
	IsError bool
	Details map[string]any
}

// AgentState is the agent loop's lifecycle state.
type AgentState int32

const (
	StateIdle AgentState = iota
	StateStreaming
	StateDispatchingTools
	StatePaused
	StateError
)

func (s AgentState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateDispatchingTools:
		return "dispatching_tools"
	case StatePaused:
		return "paused"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrorKind classifies a failure for propagation-policy purposes.
type ErrorKind int

const (
	ErrProviderNotFound ErrorKind = iota
	ErrProviderTransport
	ErrProviderProtocol
	ErrSchemaValidation
	ErrToolExecution
	ErrCancelled
	ErrSubscriberLagged
	ErrJournalIO
	ErrSubagentDepthExceeded
)

func (k ErrorKind) String() string {
	switch k {
	case ErrProviderNotFound:
		return "provider_not_found"
	case ErrProviderTransport:
		return "provider_transport"
	case ErrProviderProtocol:
		return "provider_protocol"
	case ErrSchemaValidation:
		return "schema_validation"
	case ErrToolExecution:
		return "tool_execution"
	case ErrCancelled:
		return "cancelled"
	case ErrSubscriberLagged:
		return "subscriber_lagged"
	case ErrJournalIO:
		return "journal_io"
	case ErrSubagentDepthExceeded:
		return "subagent_depth_exceeded"
	default:
		return "unknown"
	}
}

// AgentError wraps an underlying cause with its propagation-policy kind.
// Retryable is only meaningful for ErrProviderTransport.
type AgentError struct {
	Kind      ErrorKind
	Err       error
	Retryable bool
}

func (e *AgentError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *AgentError) Unwrap() error { return e.Err }

// NewAgentError wraps err with kind.
func NewAgentError(kind ErrorKind, err error) *AgentError {
	return &AgentError{Kind: kind, Err: err}
}
