// ABOUTME: Subagent definitions loaded from YAML-frontmatter markdown
// ABOUTME: files: name, description, tool grant, spawns policy, model
// ABOUTME: patterns, with the body as the system prompt.

package subagent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wyvernlab/agentcore-go/internal/core"
)

// SpawnsPolicy governs which subagents a definition may itself spawn
// through the task tool. The zero value
// is "none". Frontmatter accepts the scalar forms `none`, `all`, `*`, a
// comma-separated list, or a YAML sequence of names.
type SpawnsPolicy struct {
	All   bool
	Names []string
}

// Allows reports whether the policy permits spawning name.
func (p SpawnsPolicy) Allows(name string) bool {
	if p.All {
		return true
	}
	for _, n := range p.Names {
		if n == name {
			return true
		}
	}
	return false
}

// None reports whether the policy forbids all spawning.
func (p SpawnsPolicy) None() bool { return !p.All && len(p.Names) == 0 }

// UnmarshalYAML accepts every supported frontmatter spelling.
func (p *SpawnsPolicy) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		switch s := strings.TrimSpace(value.Value); s {
		case "", "none":
			*p = SpawnsPolicy{}
		case "all", "*":
			*p = SpawnsPolicy{All: true}
		default:
			var names []string
			for _, part := range strings.Split(s, ",") {
				if part = strings.TrimSpace(part); part != "" {
					names = append(names, part)
				}
			}
			*p = SpawnsPolicy{Names: names}
		}
		return nil
	case yaml.SequenceNode:
		var names []string
		if err := value.Decode(&names); err != nil {
			return err
		}
		*p = SpawnsPolicy{Names: names}
		return nil
	default:
		return fmt.Errorf("spawns: expected scalar or sequence, got yaml kind %d", value.Kind)
	}
}

// Definition describes a reusable, isolated-context subagent.
type Definition struct {
	Name            string   `yaml:"name"`
	Description     string   `yaml:"description"`
	Model           string   `yaml:"model"`
	ThinkingLevel   string   `yaml:"thinking-level"`
	Tools           []string `yaml:"tools"`
	DisallowedTools []string `yaml:"disallowed-tools"`
	// Spawns bounds which subagents this definition may itself launch
	// via the task tool, on top of the recursion-depth counter.
	Spawns   SpawnsPolicy `yaml:"spawns"`
	MaxTurns int          `yaml:"max-turns"`

	SystemPrompt string `yaml:"-"`
}

var validThinkingLevels = map[string]bool{"": true, "low": true, "medium": true, "high": true}

// Parse reads a markdown file with optional `---`-delimited YAML
// frontmatter; the remainder is the system prompt body. filename (sans
// extension) is the default name when frontmatter omits one.
func Parse(content, filename string) (Definition, error) {
	def := Definition{Name: strings.TrimSuffix(filename, filepath.Ext(filename))}

	if !strings.HasPrefix(content, "---\n") && !strings.HasPrefix(content, "---\r\n") {
		def.SystemPrompt = content
		return def, nil
	}

	rest := strings.TrimPrefix(content, "---\n")
	rest = strings.TrimPrefix(rest, "\r\n")
	endIdx := strings.Index(rest, "\n---")
	if endIdx < 0 {
		def.SystemPrompt = content
		return def, nil
	}

	fm := rest[:endIdx]
	body := rest[endIdx+len("\n---"):]

	if err := yaml.Unmarshal([]byte(fm), &def); err != nil {
		return Definition{}, err
	}
	if def.Name == "" {
		def.Name = strings.TrimSuffix(filename, filepath.Ext(filename))
	}
	if !validThinkingLevels[def.ThinkingLevel] {
		def.ThinkingLevel = ""
	}
	def.SystemPrompt = strings.TrimSpace(body)
	return def, nil
}

// MatchModel resolves a frontmatter model field (a comma-separated
// list of substring patterns, tried in order) against the given model
// descriptors. An empty field or no match returns nil; callers fall
// back to the parent agent's model.
func MatchModel(patterns string, models []core.Model) *core.Model {
	for _, pat := range strings.Split(patterns, ",") {
		pat = strings.TrimSpace(pat)
		if pat == "" {
			continue
		}
		for i := range models {
			if strings.Contains(models[i].ID, pat) {
				return &models[i]
			}
		}
	}
	return nil
}

// BuiltinDefinitions returns the definitions shipped with the runtime.
func BuiltinDefinitions() map[string]Definition {
	return map[string]Definition{
		"explore": {
			Name:        "explore",
			Description: "Fast agent for exploring a codebase: search code, read files.",
			Model:       "fast",
			Tools:       []string{"read", "grep"},
			MaxTurns:    10,
			SystemPrompt: "You are an exploration agent. Search the codebase to answer the question. " +
				"Use grep to locate relevant files, then read them. Report findings clearly.",
		},
		"plan": {
			Name:        "plan",
			Description: "Architect agent for designing implementation plans.",
			Model:       "default",
			Tools:       []string{"read", "grep"},
			MaxTurns:    15,
			Spawns:      SpawnsPolicy{Names: []string{"explore"}},
			SystemPrompt: "You are a planning agent. Read existing code to understand patterns and " +
				"architecture, then produce a step-by-step plan with file locations and trade-offs.",
		},
		"shell_runner": {
			Name:        "shell_runner",
			Description: "Command execution specialist for running shell commands.",
			Model:       "fast",
			Tools:       []string{"bash", "read"},
			MaxTurns:    5,
			SystemPrompt: "You are a command execution agent. Run the requested commands and report " +
				"results clearly. Be cautious with destructive operations.",
		},
	}
}

// LoadDefinitions merges BuiltinDefinitions with every *.md file found
// across dirs (custom definitions override builtins of the same name).
// Missing directories are skipped, not an error.
func LoadDefinitions(dirs ...string) (map[string]Definition, error) {
	defs := BuiltinDefinitions()

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
			if err != nil {
				continue
			}
			def, err := Parse(string(data), entry.Name())
			if err != nil {
				continue
			}
			defs[def.Name] = def
		}
	}
	return defs, nil
}
