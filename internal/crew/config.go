package crew

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spigell/resume-crew/internal/models"
	"github.com/spigell/resume-crew/internal/tools"
	"gopkg.in/yaml.v3"
)

//go:embed config/agents.yaml config/tasks.yaml
var defaultFS embed.FS

// ToolConfig binds a tool to an agent. Argument values may contain
// {placeholder} references to the kickoff inputs.
type ToolConfig struct {
	Name string            `yaml:"name"`
	Args map[string]string `yaml:"args"`
}

// AgentConfig describes one agent persona.
type AgentConfig struct {
	Name        string       `yaml:"-"`
	Role        string       `yaml:"role"`
	Goal        string       `yaml:"goal"`
	Backstory   string       `yaml:"backstory"`
	Temperature *float64     `yaml:"temperature"`
	Tools       []ToolConfig `yaml:"tools"`
}

// TaskConfig describes one pipeline step.
type TaskConfig struct {
	Name           string `yaml:"-"`
	Description    string `yaml:"description"`
	ExpectedOutput string `yaml:"expected_output"`
	Agent          string `yaml:"agent"`
	OutputFile     string `yaml:"output_file"`
	// OutputModel names a structured output model. Empty means free-form markdown.
	OutputModel string `yaml:"output_model"`
	// Context lists earlier tasks whose outputs are passed to this one.
	// When nil every earlier task is passed.
	Context []string `yaml:"context"`
}

// Config is the declaration of agents and the ordered task list.
type Config struct {
	Agents map[string]*AgentConfig
	Tasks  []*TaskConfig
}

// DefaultConfig returns the embedded declaration.
func DefaultConfig() (*Config, error) {
	return LoadConfig("", "")
}

// LoadConfig reads the agents and tasks declarations. An empty path selects
// the embedded default for that file.
func LoadConfig(agentsPath, tasksPath string) (*Config, error) {
	agents, err := readConfigFile(agentsPath, "config/agents.yaml")
	if err != nil {
		return nil, err
	}
	tasks, err := readConfigFile(tasksPath, "config/tasks.yaml")
	if err != nil {
		return nil, err
	}
	return ParseConfig(agents, tasks)
}

func readConfigFile(path, fallback string) ([]byte, error) {
	if strings.TrimSpace(path) == "" {
		return defaultFS.ReadFile(fallback)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

// ParseConfig decodes and validates the agents and tasks YAML documents.
// Tasks run in the order they appear in the document.
func ParseConfig(agentsYAML, tasksYAML []byte) (*Config, error) {
	agentNames, agents, err := decodeOrdered[AgentConfig](agentsYAML)
	if err != nil {
		return nil, fmt.Errorf("parsing agents: %w", err)
	}
	taskNames, tasks, err := decodeOrdered[TaskConfig](tasksYAML)
	if err != nil {
		return nil, fmt.Errorf("parsing tasks: %w", err)
	}

	cfg := &Config{Agents: make(map[string]*AgentConfig, len(agents))}
	for _, name := range agentNames {
		agent := agents[name]
		agent.Name = name
		cfg.Agents[name] = agent
	}
	for _, name := range taskNames {
		task := tasks[name]
		task.Name = name
		cfg.Tasks = append(cfg.Tasks, task)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeOrdered decodes a top-level YAML mapping, keeping the key order.
func decodeOrdered[T any](data []byte) ([]string, map[string]*T, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, err
	}
	if len(doc.Content) == 0 {
		return nil, nil, errors.New("document is empty")
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, nil, fmt.Errorf("line %d: expected a mapping", root.Line)
	}

	names := make([]string, 0, len(root.Content)/2)
	values := make(map[string]*T, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, node := root.Content[i], root.Content[i+1]
		if _, dup := values[key.Value]; dup {
			return nil, nil, fmt.Errorf("line %d: duplicate key %q", key.Line, key.Value)
		}
		var v T
		if err := node.Decode(&v); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", key.Value, err)
		}
		names = append(names, key.Value)
		values[key.Value] = &v
	}
	return names, values, nil
}

// Validate checks the references between tasks, agents and output models.
func (c *Config) Validate() error {
	if len(c.Tasks) == 0 {
		return errors.New("no tasks declared")
	}

	var problems []string
	seen := make(map[string]bool, len(c.Tasks))
	for _, task := range c.Tasks {
		if strings.TrimSpace(task.Description) == "" {
			problems = append(problems, fmt.Sprintf("task %s: description is required", task.Name))
		}
		if _, ok := c.Agents[task.Agent]; !ok {
			problems = append(problems, fmt.Sprintf("task %s: unknown agent %q", task.Name, task.Agent))
		}
		if task.OutputModel != "" {
			if _, ok := models.Lookup(task.OutputModel); !ok {
				problems = append(problems, fmt.Sprintf("task %s: %v %q", task.Name, models.ErrUnknownModel, task.OutputModel))
			}
		}
		if task.OutputFile != "" && (strings.Contains(task.OutputFile, "..") || strings.HasPrefix(task.OutputFile, "/")) {
			problems = append(problems, fmt.Sprintf("task %s: output file must be a relative name", task.Name))
		}
		for _, ref := range task.Context {
			if !seen[ref] {
				problems = append(problems, fmt.Sprintf("task %s: context %q is not an earlier task", task.Name, ref))
			}
		}
		seen[task.Name] = true
	}

	for _, name := range sortedAgentNames(c.Agents) {
		agent := c.Agents[name]
		if strings.TrimSpace(agent.Role) == "" {
			problems = append(problems, fmt.Sprintf("agent %s: role is required", name))
		}
		if t := agent.Temperature; t != nil && (*t < 0 || *t > 2) {
			problems = append(problems, fmt.Sprintf("agent %s: temperature %v out of range", name, *t))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid crew config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ValidateTools checks that every tool referenced by an agent is registered.
func (c *Config) ValidateTools(registry *tools.Registry) error {
	var unknown []string
	for _, name := range sortedAgentNames(c.Agents) {
		for _, tool := range c.Agents[name].Tools {
			if !registry.Has(tool.Name) {
				unknown = append(unknown, fmt.Sprintf("agent %s: %s", name, tool.Name))
			}
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: %s", tools.ErrUnknownTool, strings.Join(unknown, ", "))
	}
	return nil
}

// Placeholders returns the sorted input names referenced anywhere in the
// declaration.
func (c *Config) Placeholders() []string {
	set := make(map[string]struct{})
	add := func(s string) {
		for _, name := range placeholders(s) {
			set[name] = struct{}{}
		}
	}

	for _, task := range c.Tasks {
		add(task.Description)
		add(task.ExpectedOutput)
	}
	for _, agent := range c.Agents {
		add(agent.Role)
		add(agent.Goal)
		add(agent.Backstory)
		for _, tool := range agent.Tools {
			for _, v := range tool.Args {
				add(v)
			}
		}
	}

	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// contextFor returns the tasks whose outputs feed task i.
func (c *Config) contextFor(i int) []string {
	task := c.Tasks[i]
	if task.Context != nil {
		return task.Context
	}
	names := make([]string, 0, i)
	for _, earlier := range c.Tasks[:i] {
		names = append(names, earlier.Name)
	}
	return names
}

func sortedAgentNames(agents map[string]*AgentConfig) []string {
	names := make([]string, 0, len(agents))
	for name := range agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OutputFiles lists the files a run writes, markdown companions of
// structured outputs included.
func (c *Config) OutputFiles() []string {
	var files []string
	for _, task := range c.Tasks {
		if task.OutputFile == "" {
			continue
		}
		files = append(files, task.OutputFile)
		ext := filepath.Ext(task.OutputFile)
		if task.OutputModel != "" && !strings.EqualFold(ext, ".md") {
			files = append(files, strings.TrimSuffix(task.OutputFile, ext)+".md")
		}
	}
	return files
}
