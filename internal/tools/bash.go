// ABOUTME: Bash tool: runs a shell command via bash -c with a wall-clock
// ABOUTME: timeout and a bounded output buffer. A small guard refuses
// ABOUTME: obviously destructive commands; every refusal is logged and
// ABOUTME: counted on the runtime's metrics.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/wyvernlab/agentcore-go/internal/metrics"
	"github.com/wyvernlab/agentcore-go/internal/obslog"
)

const defaultBashTimeout = 2 * time.Minute

type bashArgs struct {
	Command   string `json:"command"`
	TimeoutMS int    `json:"timeout_ms"`
}

// toolMetrics receives a count for every command the guard refuses.
// Nil until SetMetrics is called; nil is a no-op.
var toolMetrics *metrics.Collector

// SetMetrics attaches the runtime's metrics Collector so refused bash
// commands are counted by rejection category.
func SetMetrics(m *metrics.Collector) {
	toolMetrics = m
}

// NewBashTool returns the bash tool.
func NewBashTool() *Tool {
	return &Tool{
		Name:        "bash",
		Label:       "Run Shell Command",
		Description: "Execute a shell command via bash -c, capturing stdout and stderr.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"required": ["command"],
			"properties": {
				"command":    {"type": "string", "description": "Shell command to execute"},
				"timeout_ms": {"type": "integer", "description": "Wall-clock timeout in milliseconds (default 120000)"}
			}
		}`),
		Serial:  true,
		Execute: executeBash,
	}
}

// refusedCommands are command words the guard never runs, keyed by the
// first word of the command line.
var refusedCommands = map[string]string{
	"sudo":     "privilege_escalation",
	"shutdown": "host_control",
	"reboot":   "host_control",
	"halt":     "host_control",
	"mkfs":     "filesystem_destruction",
}

// refusedFragments are substrings that refuse a command wherever they
// appear, covering the destructive cases a leading-word check misses.
var refusedFragments = map[string]string{
	"rm -rf /":  "filesystem_destruction",
	"rm -fr /":  "filesystem_destruction",
	":(){":      "fork_bomb",
	"of=/dev/s": "raw_device_write",
}

// guardCommand refuses commands this runtime will not execute. The
// trust model is otherwise the host shell's; this only stops the
// obviously catastrophic.
func guardCommand(command string) error {
	trimmed := strings.TrimSpace(command)
	first := trimmed
	if i := strings.IndexAny(trimmed, " \t"); i >= 0 {
		first = trimmed[:i]
	}
	if category, bad := refusedCommands[first]; bad {
		return refuse(command, category)
	}
	for fragment, category := range refusedFragments {
		if strings.Contains(trimmed, fragment) {
			return refuse(command, category)
		}
	}
	return nil
}

func refuse(command, category string) error {
	obslog.Warn("bash command refused", "category", category, "command", command)
	toolMetrics.BashCommandBlocked(category)
	return fmt.Errorf("command refused (%s)", category)
}

func executeBash(ctx context.Context, _ string, raw json.RawMessage, onUpdate func(ToolUpdate)) (ToolResult, error) {
	var args bashArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errText(fmt.Errorf("decoding bash arguments: %w", err)), nil
	}
	if err := guardCommand(args.Command); err != nil {
		return errText(err), nil
	}

	timeout := defaultBashTimeout
	if args.TimeoutMS > 0 {
		timeout = time.Duration(args.TimeoutMS) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", args.Command)
	out, runErr := cmd.CombinedOutput()
	text := clip(string(out), maxToolOutput)
	if onUpdate != nil && text != "" {
		onUpdate(ToolUpdate{Output: text})
	}

	if ctx.Err() == context.DeadlineExceeded {
		return ToolResult{Content: fmt.Sprintf("%s\ncommand timed out after %s", text, timeout), IsError: true}, nil
	}
	if runErr != nil {
		return ToolResult{Content: fmt.Sprintf("%s\n%s", text, runErr), IsError: true}, nil
	}
	return ToolResult{Content: text}, nil
}
