// ABOUTME: Single-writer, multi-reader conversation store.
// ABOUTME: Readers take immutable snapshots; only the agent loop appends.

package convo

import (
	"sync"

	"github.com/wyvernlab/agentcore-go/internal/core"
)

// Store holds the canonical message sequence for one agent run. The
// Agent Loop is the sole writer; every other component (subscribers,
// the journal, compaction) reads a Snapshot.
type Store struct {
	mu       sync.RWMutex
	system   string
	messages []core.Message
}

// NewStore creates an empty store with the given system prompt.
func NewStore(system string) *Store {
	return &Store{system: system}
}

// Append adds a message to the end of the conversation. Only the Agent
// Loop may call this.
func (s *Store) Append(msg core.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

// Snapshot returns an immutable copy of the message sequence in order.
func (s *Store) Snapshot() []core.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// System returns the system prompt.
func (s *Store) System() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.system
}

// SetSystem replaces the system prompt. Compaction does not call it; it
// installs its summary through Replace.
func (s *Store) SetSystem(system string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.system = system
}

// Len reports the number of messages currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// TokenEstimate returns the chars/4 token estimate across the system
// prompt and all messages.
func (s *Store) TokenEstimate() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return EstimateTokens(s.system) + EstimateMessagesTokens(s.messages)
}

// Context builds the provider-facing Context from the current snapshot.
func (s *Store) Context(tools []core.ToolDefinition) *core.Context {
	return &core.Context{
		System:   s.System(),
		Messages: s.Snapshot(),
		Tools:    tools,
	}
}

// Replace atomically swaps the message sequence, used by Compact to
// install a compacted history.
func (s *Store) Replace(messages []core.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = messages
}
