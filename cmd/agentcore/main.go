// Command agentcore is a thin CLI surface over the agent runtime core:
// it wires the Provider Registry, Tool Dispatcher, Event Bus, Session
// Journal, and Subagent Runtime together and drives one prompt to
// completion, printing the AgentEvent stream as it arrives. It ships a
// DemoProvider rather than a real LLM wire client; concrete provider
// encodings live outside this module.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/wyvernlab/agentcore-go/internal/agent"
	"github.com/wyvernlab/agentcore-go/internal/configval"
	"github.com/wyvernlab/agentcore-go/internal/convo"
	"github.com/wyvernlab/agentcore-go/internal/core"
	"github.com/wyvernlab/agentcore-go/internal/dispatch"
	"github.com/wyvernlab/agentcore-go/internal/eventbus"
	"github.com/wyvernlab/agentcore-go/internal/journal"
	"github.com/wyvernlab/agentcore-go/internal/metrics"
	"github.com/wyvernlab/agentcore-go/internal/obslog"
	"github.com/wyvernlab/agentcore-go/internal/provider"
	"github.com/wyvernlab/agentcore-go/internal/subagent"
	"github.com/wyvernlab/agentcore-go/internal/tools"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		obslog.Error("command failed", "error", err.Error())
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agentcore",
		Short: "Agent orchestration core demo CLI",
	}
	root.AddCommand(buildRunCmd())
	root.AddCommand(buildSessionsCmd())
	return root
}

func buildRunCmd() *cobra.Command {
	var (
		sessionsDir string
		sessionID   string
		scriptPath  string
	)

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Drive one prompt through the agent loop against a scripted demo provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrompt(cmd.Context(), args[0], sessionsDir, sessionID, scriptPath)
		},
	}

	cmd.Flags().StringVar(&sessionsDir, "sessions-dir", defaultSessionsDir(), "Directory for session journal files")
	cmd.Flags().StringVar(&sessionID, "session-id", "demo", "Session id (journal filename stem)")
	cmd.Flags().StringVar(&scriptPath, "script", "", "Path to a JSON-encoded []provider.ScriptedTurn to replay (uses a one-turn built-in greeting if omitted)")

	return cmd
}

func buildSessionsCmd() *cobra.Command {
	var sessionsDir string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recorded sessions in the journal directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			starts, err := journal.ListSessions(sessionsDir)
			if err != nil {
				return err
			}
			for _, s := range starts {
				fmt.Printf("%s\tmodel=%s\n", s.ID, s.Model)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionsDir, "sessions-dir", defaultSessionsDir(), "Directory for session journal files")
	return cmd
}

func defaultSessionsDir() string {
	// AGENTCORE_SESSIONS_DIR may itself be set to a "$OTHER_VAR" or
	// "!command" indirection.
	if raw := os.Getenv("AGENTCORE_SESSIONS_DIR"); raw != "" {
		if resolved, ok, err := configval.Resolve(context.Background(), raw); err == nil && ok {
			return resolved
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentcore/sessions"
	}
	return filepath.Join(home, ".agentcore", "sessions")
}

// effectiveSettings layers a project-level override (read from
// AGENTCORE_PROJECT_RESERVE_TOKENS / AGENTCORE_PROJECT_MAX_RETRIES,
// either of which may itself be a "$VAR" or "!cmd" config-value
// indirection) over the built-in defaults, via configval.Merge.
func effectiveSettings() configval.Settings {
	global := configval.Settings{
		Compaction: &configval.CompactionSettings{ReserveTokens: 4096, KeepRecentTokens: 10},
		Retry:      &configval.RetrySettings{MaxRetries: 3, BaseDelayMS: 250, MaxDelayMS: 10000},
	}

	project := configval.Settings{}
	if raw := os.Getenv("AGENTCORE_PROJECT_RESERVE_TOKENS"); raw != "" {
		if v, ok, err := configval.Resolve(context.Background(), raw); err == nil && ok {
			if n, convErr := strconv.Atoi(v); convErr == nil {
				project.Compaction = &configval.CompactionSettings{ReserveTokens: n}
			}
		}
	}
	if raw := os.Getenv("AGENTCORE_PROJECT_MAX_RETRIES"); raw != "" {
		if v, ok, err := configval.Resolve(context.Background(), raw); err == nil && ok {
			if n, convErr := strconv.Atoi(v); convErr == nil {
				project.Retry = &configval.RetrySettings{MaxRetries: n}
			}
		}
	}

	return configval.Merge(global, project)
}

func compactionPolicyFrom(s configval.Settings) convo.Policy {
	if s.Compaction == nil {
		return convo.DefaultPolicy
	}
	policy := convo.DefaultPolicy
	if s.Compaction.ReserveTokens != 0 {
		policy.ReserveTokens = s.Compaction.ReserveTokens
	}
	if s.Compaction.KeepRecentTokens != 0 {
		policy.KeepRecentMessages = s.Compaction.KeepRecentTokens
	}
	return policy
}

func retryPolicyFrom(s configval.Settings) agent.RetryPolicy {
	if s.Retry == nil {
		return agent.DefaultRetryPolicy()
	}
	policy := agent.DefaultRetryPolicy()
	if s.Retry.MaxRetries != 0 {
		policy.MaxAttempts = s.Retry.MaxRetries
	}
	if s.Retry.BaseDelayMS != 0 {
		policy.InitialDelay = time.Duration(s.Retry.BaseDelayMS) * time.Millisecond
	}
	if s.Retry.MaxDelayMS != 0 {
		policy.MaxDelay = time.Duration(s.Retry.MaxDelayMS) * time.Millisecond
	}
	return policy
}

func runPrompt(ctx context.Context, prompt, sessionsDir, sessionID, scriptPath string) error {
	model := demoModel()

	registry := prometheus.NewRegistry()
	mc := metrics.New(registry)

	providers := provider.NewRegistry()
	demo := &provider.DemoProvider{Script: loadScript(scriptPath)}
	providers.Register(model.ApiID, demo, "")

	d := dispatch.New(dispatch.DefaultConcurrency)
	d.Metrics = mc
	tools.RegisterBuiltins(d)
	tools.SetMetrics(mc)

	subDefs, err := subagent.LoadDefinitions(filepath.Join(sessionsDir, "agents"))
	if err != nil {
		return fmt.Errorf("loading subagent definitions: %w", err)
	}
	bus := eventbus.New(eventbus.DefaultCapacity)
	bus.SetMetrics(mc)

	subRegistry := subagent.NewRegistry(subDefs)
	d.Register(tools.NewTaskSpec(subRegistry, subagent.Deps{
		Providers:   providers,
		ParentTools: d,
		ParentBus:   bus,
		ResolveModel: func(string) (*core.Model, error) {
			return model, nil
		},
	}))

	cwd, _ := os.Getwd()
	j, err := journal.Open(sessionsDir, sessionID, journal.SessionStartData{
		ID: sessionID, CWD: cwd, Model: model.ID, System: "You are a terse coding assistant.",
	})
	if err != nil {
		return fmt.Errorf("opening session journal: %w", err)
	}
	defer j.Close()

	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	done := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case ev := <-ch:
				printEvent(ev)
			case <-stop:
				// unsubscribe never closes ch; print what is still buffered.
				for {
					select {
					case ev := <-ch:
						printEvent(ev)
					default:
						return
					}
				}
			}
		}
	}()

	a := agent.New(agent.Config{
		Model:            model,
		Providers:        providers,
		Dispatcher:       d,
		Bus:              bus,
		System:           "You are a terse coding assistant.",
		Metrics:          mc,
		CompactionPolicy: compactionPolicyFrom(effectiveSettings()),
		RetryPolicy:      retryPolicyFrom(effectiveSettings()),
	})

	if err := a.Prompt(ctx, prompt); err != nil {
		return err
	}
	if err := a.WaitForIdle(ctx); err != nil {
		return err
	}
	unsubscribe()
	close(stop)
	<-done

	for _, msg := range a.Store().Snapshot() {
		if err := j.AppendMessage(msg); err != nil {
			return fmt.Errorf("journaling message: %w", err)
		}
	}

	usage := a.Usage()
	fmt.Printf("\n--- usage: input=%d output=%d cost=$%.4f ---\n",
		usage.InputTokens, usage.OutputTokens, usage.Cost(model.Rates))
	return nil
}

func demoModel() *core.Model {
	return &core.Model{
		ID: "demo-1", ProviderID: "demo", ApiID: "demo",
		ContextWindow: 100_000, MaxTokens: 4096, SupportsTools: true,
		InputKinds: map[core.InputKind]bool{core.InputText: true},
		Rates:      core.CostRates{InputPerMillion: 1, OutputPerMillion: 3},
	}
}

func loadScript(path string) []provider.ScriptedTurn {
	if path == "" {
		return []provider.ScriptedTurn{{Text: "Hello! How can I help?", StopReason: core.StopEndTurn}}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		obslog.Warn("failed to read script, using default greeting", "path", path, "error", err.Error())
		return []provider.ScriptedTurn{{Text: "Hello! How can I help?", StopReason: core.StopEndTurn}}
	}
	var script []provider.ScriptedTurn
	if err := json.Unmarshal(data, &script); err != nil {
		obslog.Warn("failed to parse script, using default greeting", "path", path, "error", err.Error())
		return []provider.ScriptedTurn{{Text: "Hello! How can I help?", StopReason: core.StopEndTurn}}
	}
	return script
}

func printEvent(ev core.AgentEvent) {
	switch ev.Type {
	case core.EventAssistantMessage:
		for _, block := range ev.Final.Content {
			if block.Type == core.ContentText {
				fmt.Print(block.Text)
			}
		}
	case core.EventToolCallStarted:
		fmt.Printf("\n[tool %s started: %s]\n", ev.CallID, ev.ToolName)
	case core.EventToolCallFinished:
		fmt.Printf("[tool %s finished]\n", ev.CallID)
	case core.EventError:
		fmt.Printf("\n[error %s: %v]\n", ev.ErrKind, ev.Err)
	case core.EventIdle:
		fmt.Println()
	}
}
