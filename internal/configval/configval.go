// ABOUTME: Config-value resolution: a string beginning with
// ABOUTME: "$" resolves as an environment variable; one beginning with "!"
// ABOUTME: resolves by running the remainder as a POSIX shell command,
// ABOUTME: 10s timeout, stdout trimmed, blank -> nil, cached for the
// ABOUTME: process lifetime keyed by the literal command string.
// ABOUTME: Grounded on sacenox-symb's internal/shell/shell.go, which drives
// ABOUTME: mvdan.cc/sh/v3's syntax+interp packages as an in-process POSIX
// ABOUTME: shell rather than shelling out to /bin/sh: parsing and shell
// ABOUTME: builtins run in-process; external programs a command names are
// ABOUTME: still started as child processes by the interpreter.

package configval

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// ShellTimeout bounds a single "!"-prefixed command's execution.
const ShellTimeout = 10 * time.Second

// cache memoizes shell-command results for the process lifetime, keyed
// by the literal command string.
var cache sync.Map // string -> string

// Resolve interprets raw per the config-value rules:
//   - "$NAME" / "$NAME..." -> os.Getenv, literal prefix stripped
//   - "!cmd" -> cmd run through an in-process POSIX interpreter
//   - anything else -> returned unchanged
//
// A resolved value that is empty (missing env var, blank stdout, or an
// empty raw string) comes back as ok == false; the three cases are not
// told apart.
func Resolve(ctx context.Context, raw string) (value string, ok bool, err error) {
	switch {
	case strings.HasPrefix(raw, "$"):
		v := os.Getenv(strings.TrimPrefix(raw, "$"))
		return v, v != "", nil
	case strings.HasPrefix(raw, "!"):
		return resolveShell(ctx, strings.TrimPrefix(raw, "!"))
	default:
		return raw, raw != "", nil
	}
}

func resolveShell(ctx context.Context, command string) (string, bool, error) {
	if cached, found := cache.Load(command); found {
		s := cached.(string)
		return s, s != "", nil
	}

	ctx, cancel := context.WithTimeout(ctx, ShellTimeout)
	defer cancel()

	out, err := runShell(ctx, command)
	if err != nil {
		return "", false, fmt.Errorf("resolving config value %q: %w", command, err)
	}
	trimmed := strings.TrimSpace(out)
	cache.Store(command, trimmed)
	return trimmed, trimmed != "", nil
}

// runShell parses and runs command through mvdan.cc/sh's interpreter,
// capturing stdout. No /bin/sh process is started; builtins such as echo
// run in-process, while other programs are run by the interpreter's
// default exec handler as child processes.
func runShell(ctx context.Context, command string) (string, error) {
	parsed, err := syntax.NewParser().Parse(strings.NewReader(command), "")
	if err != nil {
		return "", fmt.Errorf("parsing command: %w", err)
	}

	var stdout bytes.Buffer
	runner, err := interp.New(
		interp.StdIO(nil, &stdout, &stdout),
		interp.Env(expand.ListEnviron(os.Environ()...)),
	)
	if err != nil {
		return "", fmt.Errorf("creating interpreter: %w", err)
	}

	if err := runner.Run(ctx, parsed); err != nil {
		return stdout.String(), err
	}
	return stdout.String(), nil
}

// ClearCache empties the shell-command memoization cache. Exposed for
// tests; production callers never need it within one process lifetime.
func ClearCache() {
	cache.Range(func(k, _ any) bool {
		cache.Delete(k)
		return true
	})
}
