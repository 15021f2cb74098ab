// ABOUTME: Grep tool: regex search over a file or directory tree in pure
// ABOUTME: Go. Skips VCS/dependency directories and binary files; match
// ABOUTME: count is capped and the cap is logged when hit.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/wyvernlab/agentcore-go/internal/obslog"
)

const (
	defaultMaxMatches = 200
	maxGrepFileSize   = 1 << 20 // skip files over 1MiB
)

type grepArgs struct {
	Pattern    string `json:"pattern"`
	Path       string `json:"path"`
	Glob       string `json:"glob"`
	IgnoreCase bool   `json:"ignore_case"`
	MaxMatches int    `json:"max_matches"`
}

var skippedDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, ".idea": true,
}

// NewGrepTool returns the grep tool.
func NewGrepTool() *Tool {
	return &Tool{
		Name:        "grep",
		Label:       "Search File Contents",
		Description: "Search file contents for a regex pattern. path may be a file or a directory tree.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"required": ["pattern"],
			"properties": {
				"pattern":     {"type": "string", "description": "Regular expression to search for"},
				"path":        {"type": "string", "description": "File or directory to search (default: current directory)"},
				"glob":        {"type": "string", "description": "Base-name glob filter, e.g. *.go"},
				"ignore_case": {"type": "boolean", "description": "Case-insensitive matching"},
				"max_matches": {"type": "integer", "description": "Stop after this many matching lines (default 200)"}
			}
		}`),
		ReadOnly: true,
		Execute:  executeGrep,
	}
}

func executeGrep(ctx context.Context, _ string, raw json.RawMessage, _ func(ToolUpdate)) (ToolResult, error) {
	var args grepArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errText(fmt.Errorf("decoding grep arguments: %w", err)), nil
	}

	expr := args.Pattern
	if args.IgnoreCase {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return errText(fmt.Errorf("invalid pattern: %w", err)), nil
	}

	root := args.Path
	if root == "" {
		root = "."
	}
	limit := args.MaxMatches
	if limit <= 0 {
		limit = defaultMaxMatches
	}

	var matches []string
	truncated := false
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if args.Glob != "" {
			if ok, _ := filepath.Match(args.Glob, d.Name()); !ok {
				return nil
			}
		}
		if info, err := d.Info(); err != nil || info.Size() > maxGrepFileSize {
			return nil
		}
		matchFile(path, re, limit, &matches, &truncated)
		if truncated {
			return filepath.SkipAll
		}
		return nil
	})
	if walkErr != nil && walkErr != context.Canceled {
		return errText(walkErr), nil
	}

	if truncated {
		obslog.Debug("grep match cap hit", "pattern", args.Pattern, "limit", limit)
		matches = append(matches, fmt.Sprintf("... [stopped after %d matches]", limit))
	}
	if len(matches) == 0 {
		return ToolResult{Content: "no matches"}, nil
	}
	return ToolResult{Content: clip(strings.Join(matches, "\n"), maxToolOutput)}, nil
}

// matchFile appends "path:line: text" entries for every matching line,
// stopping once the shared limit is reached.
func matchFile(path string, re *regexp.Regexp, limit int, matches *[]string, truncated *bool) {
	data, err := os.ReadFile(path)
	if err != nil || looksBinary(data) {
		return
	}
	for i, line := range strings.Split(string(data), "\n") {
		if !re.MatchString(line) {
			continue
		}
		if len(*matches) >= limit {
			*truncated = true
			return
		}
		*matches = append(*matches, fmt.Sprintf("%s:%d: %s", path, i+1, line))
	}
}
