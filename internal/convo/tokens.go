// ABOUTME: Token-estimation heuristics for context budget management.
// ABOUTME: Chars/4 approximation; cheap, good enough for budget checks.

package convo

import "github.com/wyvernlab/agentcore-go/internal/core"

// EstimateTokens approximates the token count of a text string using the
// chars/4 heuristic (accurate within ~10% for English text; adequate for
// a budget check, not billing).
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// EstimateBlockTokens estimates tokens for a single content block.
func EstimateBlockTokens(c core.ContentBlock) int {
	switch c.Type {
	case core.ContentText:
		return EstimateTokens(c.Text)
	case core.ContentThinking:
		return EstimateTokens(c.Thinking)
	case core.ContentToolUse:
		return EstimateTokens(c.ToolName) + EstimateTokens(string(c.Arguments))
	case core.ContentToolResult:
		total := 0
		for _, inner := range c.ResultContent {
			total += EstimateBlockTokens(inner)
		}
		return total
	case core.ContentImage:
		return 1000 // flat estimate regardless of pixel dimensions
	default:
		return 0
	}
}

// EstimateMessageTokens estimates tokens for a single message, including
// a fixed per-message overhead for role/separator framing.
func EstimateMessageTokens(msg core.Message) int {
	tokens := 4
	for _, c := range msg.Content {
		tokens += EstimateBlockTokens(c)
	}
	return tokens
}

// EstimateMessagesTokens sums EstimateMessageTokens over a slice.
func EstimateMessagesTokens(msgs []core.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateMessageTokens(m)
	}
	return total
}
