// ABOUTME: Core data model shared across the agent runtime: messages, content
// ABOUTME: blocks, tools, usage, and models. Wire-format agnostic.

package core

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// StopReason is the terminal status a provider reports for a turn.
type StopReason string

const (
	StopEndTurn       StopReason = "stop"
	StopMaxTokens     StopReason = "length"
	StopToolUse       StopReason = "tool_use"
	StopContentFilter StopReason = "content_filter"
	StopCancelled     StopReason = "cancelled"
)

// ContentType identifies the kind of a ContentBlock.
type ContentType string

const (
	ContentText       ContentType = "text"
	ContentImage      ContentType = "image"
	ContentThinking   ContentType = "thinking"
	ContentToolUse    ContentType = "tool_use"
	ContentToolResult ContentType = "tool_result"
)

// CacheControl is a provider-specific cache-breakpoint marker.
type CacheControl struct {
	Type string `json:"type"`
}

// ContentBlock is a tagged-union content element within a Message.
//
// Only the fields relevant to Type are populated; this mirrors how the
// wire encodings (out of scope here) represent tagged content arrays.
type ContentBlock struct {
	Type ContentType `json:"type"`

	// Text / Thinking
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`

	// Image
	Data     []byte `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`

	// ToolUse
	CallID    string          `json:"call_id,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`

	// ToolResultBlock
	ResultContent []ContentBlock `json:"result_content,omitempty"`
	IsError       bool           `json:"is_error,omitempty"`

	CacheControl *CacheControl `json:"cache_control,omitempty"`
}

// Text builds a ContentText block.
func Text(s string) ContentBlock { return ContentBlock{Type: ContentText, Text: s} }

// Thinking builds a ContentThinking block.
func Thinking(s string) ContentBlock { return ContentBlock{Type: ContentThinking, Thinking: s} }

// Image builds a ContentImage block from raw bytes.
func Image(data []byte, mimeType string) ContentBlock {
	return ContentBlock{Type: ContentImage, Data: data, MimeType: mimeType}
}

// ImageURL builds a ContentImage block referencing an external URL.
func ImageURL(url, mimeType string) ContentBlock {
	return ContentBlock{Type: ContentImage, URL: url, MimeType: mimeType}
}

// ToolUse builds a ContentToolUse block.
func ToolUse(callID, name string, args json.RawMessage) ContentBlock {
	return ContentBlock{Type: ContentToolUse, CallID: callID, ToolName: name, Arguments: args}
}

// ToolResultBlock builds a ContentToolResult block.
func ToolResultBlock(callID string, content []ContentBlock, isError bool) ContentBlock {
	return ContentBlock{Type: ContentToolResult, CallID: callID, ResultContent: content, IsError: isError}
}

// Message is one turn's worth of content, tagged by role, with a
// monotonic timestamp and an opaque id. Message order is the source of
// truth for conversational order.
type Message struct {
	ID          string         `json:"id"`
	Role        Role           `json:"role"`
	Content     []ContentBlock `json:"content"`
	TimestampMS int64          `json:"timestamp_ms"`
	// SteeringHint marks a user-role message injected via Agent.Steer,
	// distinguishing it from an ordinary follow-up for callers that care.
	SteeringHint bool `json:"steering_hint,omitempty"`
}

// NewMessage stamps a fresh id and timestamp.
func NewMessage(role Role, content []ContentBlock) Message {
	return Message{
		ID:          uuid.NewString(),
		Role:        role,
		Content:     content,
		TimestampMS: time.Now().UnixMilli(),
	}
}

// NewTextMessage is a convenience constructor for a single text block.
func NewTextMessage(role Role, text string) Message {
	return NewMessage(role, []ContentBlock{Text(text)})
}

// Usage tracks token consumption; it accumulates by pointwise addition
// across turns.
type Usage struct {
	InputTokens      int64 `json:"input_tokens"`
	OutputTokens     int64 `json:"output_tokens"`
	CacheReadTokens  int64 `json:"cache_read_tokens"`
	CacheWriteTokens int64 `json:"cache_write_tokens"`
}

// Add returns the pointwise sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:      u.InputTokens + other.InputTokens,
		OutputTokens:     u.OutputTokens + other.OutputTokens,
		CacheReadTokens:  u.CacheReadTokens + other.CacheReadTokens,
		CacheWriteTokens: u.CacheWriteTokens + other.CacheWriteTokens,
	}
}

// Total returns the total token count across all counters.
func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens + u.CacheReadTokens + u.CacheWriteTokens
}

// CostRates are per-million-token dollar rates.
type CostRates struct {
	InputPerMillion      float64
	OutputPerMillion     float64
	CacheReadPerMillion  float64
	CacheWritePerMillion float64
}

// Cost computes the dollar cost of u under the given rate table.
func (u Usage) Cost(rates CostRates) float64 {
	const million = 1_000_000
	return float64(u.InputTokens)*rates.InputPerMillion/million +
		float64(u.OutputTokens)*rates.OutputPerMillion/million +
		float64(u.CacheReadTokens)*rates.CacheReadPerMillion/million +
		float64(u.CacheWriteTokens)*rates.CacheWritePerMillion/million
}

// InputKind identifies a modality a Model accepts.
type InputKind string

const (
	InputText  InputKind = "text"
	InputImage InputKind = "image"
)

// Api identifies a wire-protocol family a Provider implements.
type Api string

// Model is an immutable descriptor of an LLM endpoint.
type Model struct {
	ID             string
	ProviderID     string
	ApiID          Api
	BaseURL        string
	Reasoning      bool
	InputKinds     map[InputKind]bool
	Rates          CostRates
	ContextWindow  int
	MaxTokens      int
	SupportsImages bool
	SupportsTools  bool
}

// EffectiveContextWindow returns ContextWindow, falling back to MaxTokens.
func (m *Model) EffectiveContextWindow() int {
	if m.ContextWindow > 0 {
		return m.ContextWindow
	}
	return m.MaxTokens
}

// ToolDefinition describes a tool the model may invoke.
type ToolDefinition struct {
	Name         string
	Description  string
	Parameters   json.RawMessage // JSON Schema, draft 2020-12
	Label        string
	CacheControl *CacheControl `json:"cache_control,omitempty"`
}

// ToolCall is a parsed (possibly partial, mid-stream) tool invocation.
type ToolCall struct {
	CallID    string
	ToolName  string
	Arguments json.RawMessage
}

// StreamOptions configures a single provider streaming call.
type StreamOptions struct {
	MaxTokens     int
	Temperature   float64
	TopP          float64
	StopSequences []string
	Thinking      bool
}

// AssistantMessage is the final, assembled result of one streaming turn.
type AssistantMessage struct {
	Content    []ContentBlock
	StopReason StopReason
	Usage      Usage
	ModelID    string
}

// Context is the payload sent to a provider for one turn: system prompt,
// message history, and available tools.
type Context struct {
	System             string
	Messages           []Message
	Tools              []ToolDefinition
	SystemCacheControl *CacheControl
}
