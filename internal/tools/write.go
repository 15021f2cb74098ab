// ABOUTME: Write tool: creates or overwrites a file, making parent
// ABOUTME: directories as needed.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type writeArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// NewWriteTool returns the write tool.
func NewWriteTool() *Tool {
	return &Tool{
		Name:        "write",
		Label:       "Write File",
		Description: "Create or overwrite a file with the given content. Missing parent directories are created.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"required": ["path", "content"],
			"properties": {
				"path":    {"type": "string", "description": "Path to the file"},
				"content": {"type": "string", "description": "Content to write"}
			}
		}`),
		Execute: executeWrite,
	}
}

func executeWrite(_ context.Context, _ string, raw json.RawMessage, _ func(ToolUpdate)) (ToolResult, error) {
	var args writeArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errText(fmt.Errorf("decoding write arguments: %w", err)), nil
	}

	if err := os.MkdirAll(filepath.Dir(args.Path), 0o755); err != nil {
		return errText(err), nil
	}
	if err := os.WriteFile(args.Path, []byte(args.Content), 0o644); err != nil {
		return errText(err), nil
	}

	lines := strings.Count(args.Content, "\n")
	if args.Content != "" && !strings.HasSuffix(args.Content, "\n") {
		lines++
	}
	return ToolResult{Content: fmt.Sprintf("wrote %s (%d lines, %d bytes)", args.Path, lines, len(args.Content))}, nil
}
