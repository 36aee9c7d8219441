// Package crew runs the resume optimisation pipeline: a fixed list of tasks,
// each answered by one agent persona backed by an LLM.
package crew

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spigell/resume-crew/internal/llm"
	"github.com/spigell/resume-crew/internal/logger"
	"github.com/spigell/resume-crew/internal/metrics"
	"github.com/spigell/resume-crew/internal/models"
	"github.com/spigell/resume-crew/internal/tools"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxOutputRetries = 2
	maxConcurrentTools      = 4
)

// Options configure a crew.
type Options struct {
	Config    *Config
	Generator llm.Generator
	// Tools holds the shared tools. The crew adds its own read_resume tool.
	Tools *tools.Registry
	// ResumeFile is the markdown resume every agent may read.
	ResumeFile string
	OutputDir  string
	// MaxOutputRetries bounds the re-prompts for a structured answer that
	// fails validation.
	MaxOutputRetries int
	Observer         Observer
	Logger           *zap.Logger
}

// Crew executes the configured tasks sequentially.
type Crew struct {
	config     *Config
	generator  llm.Generator
	tools      *tools.Registry
	outputDir  string
	maxRetries int
	observer   Observer
	logger     *zap.Logger
}

// TaskOutput is the result of one task.
type TaskOutput struct {
	Name  string
	Agent string
	// Raw is the cleaned model answer.
	Raw string
	// Structured is set for tasks with an output model.
	Structured   models.Renderer
	File         string
	MarkdownFile string
	Duration     time.Duration
}

// Markdown returns the output rendered as markdown.
func (t *TaskOutput) Markdown() string {
	if t.Structured != nil {
		return t.Structured.ToMarkdown()
	}
	return t.Raw
}

// Output is the result of a completed pipeline.
type Output struct {
	// Raw is the answer of the final task.
	Raw   string
	Tasks []*TaskOutput
}

// Task returns the output of the named task.
func (o *Output) Task(name string) (*TaskOutput, bool) {
	for _, t := range o.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

func New(opts Options) (*Crew, error) {
	if opts.Config == nil {
		return nil, errors.New("crew config is required")
	}
	if opts.Generator == nil {
		return nil, errors.New("llm generator is required")
	}
	if strings.TrimSpace(opts.ResumeFile) == "" {
		return nil, errors.New("resume file is required")
	}
	if strings.TrimSpace(opts.OutputDir) == "" {
		return nil, errors.New("output directory is required")
	}

	registry := tools.NewRegistry()
	if opts.Tools != nil {
		for _, name := range opts.Tools.Names() {
			t, _ := opts.Tools.Get(name)
			registry.Register(t)
		}
	}
	registry.Register(tools.NewResumeReader(opts.ResumeFile))

	if err := opts.Config.ValidateTools(registry); err != nil {
		return nil, err
	}

	retries := opts.MaxOutputRetries
	if retries < 0 {
		retries = 0
	}

	observer := opts.Observer
	if observer == nil {
		observer = func(Event) {}
	}

	log := logger.WithCommonFields(opts.Logger, opts.Generator.Provider(), opts.Generator.Model())

	return &Crew{
		config:     opts.Config,
		generator:  opts.Generator,
		tools:      registry,
		outputDir:  opts.OutputDir,
		maxRetries: retries,
		observer:   observer,
		logger:     log,
	}, nil
}

// Kickoff runs every task in order and returns their outputs. The first
// failing task stops the pipeline with a *TaskError.
func (c *Crew) Kickoff(ctx context.Context, inputs map[string]string) (*Output, error) {
	if missing := c.missingInputs(inputs); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingInput, strings.Join(missing, ", "))
	}

	if err := os.MkdirAll(c.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	c.logger.Info("starting crew", zap.Int("tasks", len(c.config.Tasks)), zap.String("output_dir", c.outputDir))

	out := &Output{}
	done := make(map[string]*TaskOutput, len(c.config.Tasks))
	total := len(c.config.Tasks)

	for i, task := range c.config.Tasks {
		agent := c.config.Agents[task.Agent]
		taskLog := logger.WithFields(c.logger, logger.TaskFields(task.Name, agent.Name)...)

		c.observer(Event{Kind: EventTaskStarted, Task: task.Name, Agent: agent.Name, Index: i, Total: total})
		taskLog.Info("starting task", zap.Int("index", i+1), zap.Int("total", total))

		started := time.Now()
		result, err := c.runTask(ctx, i, task, agent, inputs, done, taskLog)
		elapsed := time.Since(started)

		metrics.TaskDuration.WithLabelValues(task.Name).Observe(elapsed.Seconds())
		metrics.TaskResults.WithLabelValues(task.Name, metrics.Result(err)).Inc()

		if err != nil {
			c.observer(Event{Kind: EventTaskFailed, Task: task.Name, Agent: agent.Name, Index: i, Total: total, Duration: elapsed, Err: err})
			taskLog.Error("task failed", zap.Duration("duration", elapsed), zap.Error(err))
			return out, &TaskError{Task: task.Name, Agent: agent.Name, Err: err}
		}

		result.Duration = elapsed
		done[task.Name] = result
		out.Tasks = append(out.Tasks, result)
		out.Raw = result.Raw

		fields := []zap.Field{zap.Duration("duration", elapsed), zap.String("output_file", result.File)}
		if req, ok := result.Structured.(*models.JobRequirements); ok {
			fields = append(fields,
				zap.Float64("overall_match", req.MatchScore.OverallMatch),
				zap.Float64("weighted_match", req.MatchScore.Weighted()),
			)
		}
		taskLog.Info("task completed", fields...)
		c.observer(Event{Kind: EventTaskCompleted, Task: task.Name, Agent: agent.Name, Index: i, Total: total, Duration: elapsed})
	}

	c.logger.Info("crew finished", zap.Int("tasks", len(out.Tasks)))
	return out, nil
}

func (c *Crew) missingInputs(inputs map[string]string) []string {
	var missing []string
	for _, name := range c.config.Placeholders() {
		if strings.TrimSpace(inputs[name]) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

func (c *Crew) runTask(ctx context.Context, index int, task *TaskConfig, agent *AgentConfig, inputs map[string]string, done map[string]*TaskOutput, log *zap.Logger) (*TaskOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	toolResults := c.useTools(ctx, task, agent, inputs, log)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var model *models.Model
	if task.OutputModel != "" {
		model, _ = models.Lookup(task.OutputModel)
	}

	prompt, err := buildTaskPrompt(task, inputs, model, c.contextOutputs(index, done), toolResults)
	if err != nil {
		return nil, err
	}

	req := llm.Request{
		System:      buildSystemPrompt(agent, inputs),
		Prompt:      prompt,
		Temperature: agent.Temperature,
		JSON:        model != nil,
	}

	result := &TaskOutput{Name: task.Name, Agent: agent.Name}

	if model == nil {
		raw, err := c.generate(ctx, req, log)
		if err != nil {
			return nil, err
		}
		result.Raw = cleanMarkdown(raw)
		if result.Raw == "" {
			return nil, fmt.Errorf("%w: empty answer", ErrInvalidOutput)
		}
	} else {
		raw, value, err := c.generateStructured(ctx, req, model, log)
		if err != nil {
			return nil, err
		}
		result.Raw = raw
		result.Structured = value
	}

	if err := c.writeOutputs(task, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Crew) generate(ctx context.Context, req llm.Request, log *zap.Logger) (string, error) {
	log.Debug("sending task prompt",
		zap.Int("system_length", utf8.RuneCountInString(req.System)),
		zap.Int("prompt_length", utf8.RuneCountInString(req.Prompt)),
	)
	return c.generator.Generate(ctx, req)
}

func (c *Crew) generateStructured(ctx context.Context, req llm.Request, model *models.Model, log *zap.Logger) (string, models.Renderer, error) {
	basePrompt := req.Prompt
	for attempt := 0; ; attempt++ {
		raw, err := c.generate(ctx, req, log)
		if err != nil {
			return "", nil, err
		}

		value, err := parseStructured(model, raw)
		if err == nil {
			doc, _ := json.MarshalIndent(value, "", "  ")
			return string(doc), value, nil
		}

		if attempt >= c.maxRetries {
			return "", nil, fmt.Errorf("%w: %s: %v", ErrInvalidOutput, model.Name, err)
		}

		log.Warn("structured answer rejected, asking again",
			zap.String("model", model.Name),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", c.maxRetries),
			zap.Error(err),
		)

		req.Prompt = basePrompt + "\n\nYour previous answer was rejected because of these problems:\n" +
			describeProblems(err) +
			"\n\nReturn only the corrected JSON object."
	}
}

type toolResult struct {
	name   string
	args   map[string]string
	output string
	err    error
}

// useTools runs the agent's tools concurrently. Tool failures are reported to
// the agent instead of failing the task.
func (c *Crew) useTools(ctx context.Context, task *TaskConfig, agent *AgentConfig, inputs map[string]string, log *zap.Logger) []toolResult {
	results := make([]toolResult, len(agent.Tools))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentTools)

	for i, ref := range agent.Tools {
		results[i] = toolResult{name: ref.Name, args: interpolateArgs(ref.Args, inputs)}

		g.Go(func() error {
			res := &results[i]
			tool, err := c.tools.Get(res.name)
			if err == nil {
				res.output, err = tool.Run(gctx, res.args)
			}
			res.err = err

			metrics.ToolCalls.WithLabelValues(res.name, metrics.Result(err)).Inc()
			c.observer(Event{Kind: EventToolUsed, Task: task.Name, Agent: agent.Name, Tool: res.name, Err: err})

			if err != nil {
				log.Warn("tool failed", zap.String("tool", res.name), zap.Any("args", res.args), zap.Error(err))
				return nil
			}
			log.Info("tool used", zap.String("tool", res.name), zap.Int("result_length", utf8.RuneCountInString(res.output)))
			return nil
		})
	}

	_ = g.Wait()
	return results
}

type contextOutput struct {
	task    string
	content string
}

func (c *Crew) contextOutputs(index int, done map[string]*TaskOutput) []contextOutput {
	names := c.config.contextFor(index)
	out := make([]contextOutput, 0, len(names))
	for _, name := range names {
		if result, ok := done[name]; ok {
			out = append(out, contextOutput{task: name, content: result.Markdown()})
		}
	}
	return out
}

func (c *Crew) writeOutputs(task *TaskConfig, result *TaskOutput) error {
	if task.OutputFile == "" {
		return nil
	}

	path := filepath.Join(c.outputDir, task.OutputFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(result.Raw+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", task.OutputFile, err)
	}
	result.File = path

	if result.Structured == nil || strings.EqualFold(filepath.Ext(path), ".md") {
		return nil
	}

	mdPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".md"
	if err := os.WriteFile(mdPath, []byte(result.Structured.ToMarkdown()), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(mdPath), err)
	}
	result.MarkdownFile = mdPath
	return nil
}

func buildSystemPrompt(agent *AgentConfig, inputs map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.\n", strings.TrimSpace(interpolate(agent.Role, inputs)))
	if backstory := strings.TrimSpace(interpolate(agent.Backstory, inputs)); backstory != "" {
		b.WriteString(backstory + "\n")
	}
	if goal := strings.TrimSpace(interpolate(agent.Goal, inputs)); goal != "" {
		fmt.Fprintf(&b, "\nYour personal goal is: %s\n", goal)
	}
	return strings.TrimSpace(b.String())
}

func buildTaskPrompt(task *TaskConfig, inputs map[string]string, model *models.Model, earlier []contextOutput, results []toolResult) (string, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "Current Task: %s\n\n", strings.TrimSpace(interpolate(task.Description, inputs)))
	fmt.Fprintf(&b, "This is the expected criteria for your final answer: %s\n", strings.TrimSpace(interpolate(task.ExpectedOutput, inputs)))
	b.WriteString("You MUST return the actual complete content as the final answer, not a summary.\n")

	if model != nil {
		schema, err := model.Schema()
		if err != nil {
			return "", err
		}
		b.WriteString("\nAnswer with a single JSON object that validates against this JSON Schema. Do not add any text outside the object.\n")
		b.WriteString("```json\n" + schema + "\n```\n")
	}

	if len(earlier) > 0 {
		b.WriteString("\nThis is the context you are working with:\n")
		for _, item := range earlier {
			fmt.Fprintf(&b, "\n### Output of %s\n\n%s\n", item.task, strings.TrimSpace(item.content))
		}
	}

	if len(results) > 0 {
		b.WriteString("\nResults of the tools you used:\n")
		for _, res := range results {
			fmt.Fprintf(&b, "\n### %s%s\n\n", res.name, formatArgs(res.args))
			if res.err != nil {
				fmt.Fprintf(&b, "The tool failed: %v\n", res.err)
				continue
			}
			b.WriteString(strings.TrimSpace(res.output) + "\n")
		}
	}

	return b.String(), nil
}

func formatArgs(args map[string]string) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, args[k]))
	}
	return " (" + strings.Join(parts, ", ") + ")"
}
