// ABOUTME: Edit tool: exact-string replacement within an existing file.
// ABOUTME: A non-unique old_string is an error unless replace_all is set.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

type editArgs struct {
	Path       string `json:"path"`
	OldString  string `json:"old_string"`
	NewString  string `json:"new_string"`
	ReplaceAll bool   `json:"replace_all"`
}

// NewEditTool returns the edit tool.
func NewEditTool() *Tool {
	return &Tool{
		Name:        "edit",
		Label:       "Edit File",
		Description: "Replace old_string with new_string in a file. old_string must match exactly once unless replace_all is set.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"required": ["path", "old_string", "new_string"],
			"properties": {
				"path":        {"type": "string", "description": "Path to the file"},
				"old_string":  {"type": "string", "description": "Exact text to replace"},
				"new_string":  {"type": "string", "description": "Replacement text"},
				"replace_all": {"type": "boolean", "description": "Replace every occurrence"}
			}
		}`),
		Execute: executeEdit,
	}
}

func executeEdit(_ context.Context, _ string, raw json.RawMessage, _ func(ToolUpdate)) (ToolResult, error) {
	var args editArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errText(fmt.Errorf("decoding edit arguments: %w", err)), nil
	}
	if args.OldString == args.NewString {
		return errText(fmt.Errorf("old_string and new_string are identical")), nil
	}

	path := resolvePath(args.Path)
	data, err := os.ReadFile(path)
	if err != nil {
		return errText(err), nil
	}
	content := string(data)

	n := strings.Count(content, args.OldString)
	switch {
	case n == 0:
		return errText(fmt.Errorf("old_string not found in %s", path)), nil
	case n > 1 && !args.ReplaceAll:
		return errText(fmt.Errorf("old_string occurs %d times in %s; pass replace_all to replace every occurrence", n, path)), nil
	}

	replaced := 1
	if args.ReplaceAll {
		content = strings.ReplaceAll(content, args.OldString, args.NewString)
		replaced = n
	} else {
		content = strings.Replace(content, args.OldString, args.NewString, 1)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return errText(err), nil
	}
	return ToolResult{Content: fmt.Sprintf("replaced %d occurrence(s) in %s", replaced, path)}, nil
}
