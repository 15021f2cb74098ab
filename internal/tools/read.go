// ABOUTME: Read tool: returns file contents with an optional line window,
// ABOUTME: refusing binary files and clipping oversized output.

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/unicode/norm"
)

type readArgs struct {
	Path   string `json:"path"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

// NewReadTool returns the read tool.
func NewReadTool() *Tool {
	return &Tool{
		Name:        "read",
		Label:       "Read File",
		Description: "Read a file's contents. Optional offset/limit select a window of lines.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"required": ["path"],
			"properties": {
				"path":   {"type": "string", "description": "Path to the file"},
				"offset": {"type": "integer", "description": "First line to return, 0-based"},
				"limit":  {"type": "integer", "description": "Maximum number of lines to return"}
			}
		}`),
		ReadOnly: true,
		Execute:  executeRead,
	}
}

func executeRead(_ context.Context, _ string, raw json.RawMessage, _ func(ToolUpdate)) (ToolResult, error) {
	var args readArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errText(fmt.Errorf("decoding read arguments: %w", err)), nil
	}

	path := resolvePath(args.Path)
	data, err := os.ReadFile(path)
	if err != nil {
		return errText(err), nil
	}
	if looksBinary(data) {
		return errText(fmt.Errorf("%s appears to be a binary file", path)), nil
	}

	text := string(data)
	if args.Offset > 0 || args.Limit > 0 {
		text = lineWindow(text, args.Offset, args.Limit)
	}
	return ToolResult{Content: clip(text, maxToolOutput)}, nil
}

// resolvePath returns path, or a Unicode-normalization variant of it
// that exists on disk when the literal spelling does not. Providers and
// editors disagree on NFC vs NFD for non-ASCII file names, so the
// argument's spelling may not match the on-disk one byte for byte.
func resolvePath(path string) string {
	if _, err := os.Stat(path); err == nil {
		return path
	}
	for _, variant := range []string{norm.NFC.String(path), norm.NFD.String(path)} {
		if variant == path {
			continue
		}
		if _, err := os.Stat(variant); err == nil {
			return variant
		}
	}
	return path
}

// looksBinary sniffs for a NUL byte in the leading half-KiB.
func looksBinary(data []byte) bool {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	return bytes.IndexByte(head, 0) >= 0
}

// lineWindow returns limit lines of text starting at the 0-based offset
// line; a zero limit means everything from offset on.
func lineWindow(text string, offset, limit int) string {
	lines := strings.SplitAfter(text, "\n")
	if offset >= len(lines) {
		return ""
	}
	if offset > 0 {
		lines = lines[offset:]
	}
	if limit > 0 && limit < len(lines) {
		lines = lines[:limit]
	}
	return strings.Join(lines, "")
}
