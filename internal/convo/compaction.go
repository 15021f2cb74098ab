// ABOUTME: Context compaction: summarize elided messages, keep the recent
// ABOUTME: window intact. Invoked by the agent loop before step 3 of the
// ABOUTME: turn algorithm when the token estimate nears the context window.

package convo

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wyvernlab/agentcore-go/internal/core"
)

// Policy configures when and how compaction runs.
type Policy struct {
	// ReserveTokens is subtracted from the model's context window before
	// comparing against the token estimate.
	ReserveTokens int
	// KeepRecentMessages is the number of trailing messages preserved
	// verbatim; everything before them is folded into a summary.
	KeepRecentMessages int
}

// DefaultPolicy keeps the last 10 messages and reserves 4096 tokens.
var DefaultPolicy = Policy{ReserveTokens: 4096, KeepRecentMessages: 10}

// ShouldCompact reports whether the token estimate for messages exceeds
// contextWindow minus the policy's reserve.
func ShouldCompact(system string, messages []core.Message, contextWindow int, policy Policy) bool {
	if contextWindow <= 0 {
		return false // unknown window; cannot determine
	}
	estimate := EstimateTokens(system) + EstimateMessagesTokens(messages)
	return estimate > contextWindow-policy.ReserveTokens
}

// FileOps records which files were read/written across a compacted span,
// surfaced in the journal's compaction record.
type FileOps struct {
	FilesRead    []string
	FilesWritten []string
	MessageCount int
}

var readTools = map[string]bool{"read": true, "grep": true}
var writeTools = map[string]bool{"write": true, "edit": true}

// ExtractFileOps scans tool-use blocks in messages for path arguments,
// categorized by whether the tool reads or writes files.
func ExtractFileOps(messages []core.Message) FileOps {
	ops := FileOps{MessageCount: len(messages)}
	readSeen := map[string]bool{}
	writeSeen := map[string]bool{}

	for _, msg := range messages {
		for _, c := range msg.Content {
			if c.Type != core.ContentToolUse || len(c.Arguments) == 0 {
				continue
			}
			path := extractFilePath(c.Arguments)
			if path == "" {
				continue
			}
			if readTools[c.ToolName] && !readSeen[path] {
				readSeen[path] = true
				ops.FilesRead = append(ops.FilesRead, path)
			}
			if writeTools[c.ToolName] && !writeSeen[path] {
				writeSeen[path] = true
				ops.FilesWritten = append(ops.FilesWritten, path)
			}
		}
	}
	return ops
}

func extractFilePath(raw []byte) string {
	var args struct {
		Path string `json:"path"`
		// Older journals carried file_path; still honored on read-back.
		FilePath string `json:"file_path"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return ""
	}
	if args.Path != "" {
		return args.Path
	}
	return args.FilePath
}

// Compact folds every message before the trailing KeepRecentMessages
// window into a single summary message pair, returning the new message
// slice and the raw summary text (for the journal's CompactionData).
func Compact(messages []core.Message, policy Policy) ([]core.Message, string) {
	keep := policy.KeepRecentMessages
	if keep <= 0 {
		keep = DefaultPolicy.KeepRecentMessages
	}
	if len(messages) <= keep {
		return messages, ""
	}

	old := messages[:len(messages)-keep]
	recent := messages[len(messages)-keep:]

	summary := buildSummary(old)

	compacted := make([]core.Message, 0, keep+2)
	compacted = append(compacted, core.NewTextMessage(core.RoleUser,
		fmt.Sprintf("[Context Summary]\n%s\n[End Summary]", summary)))
	compacted = append(compacted, core.NewTextMessage(core.RoleAssistant,
		"I understand the context. Continuing from where we left off."))
	compacted = append(compacted, recent...)

	return compacted, summary
}

func buildSummary(messages []core.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		for _, c := range msg.Content {
			if c.Type == core.ContentText {
				text := c.Text
				if len(text) > 200 {
					text = text[:200] + "..."
				}
				b.WriteString(text)
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}
