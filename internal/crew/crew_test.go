package crew

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spigell/resume-crew/internal/llm"
	"github.com/spigell/resume-crew/internal/models"
	"github.com/spigell/resume-crew/internal/tools"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const (
	jobAnswer = "<think>the posting asks for SQL</think>\n```json\n" + `{
  "job_title": "Data Engineer",
  "technical_skills": ["SQL", "Python"],
  "match_score": {
    "overall_match": 72,
    "technical_skills_match": 80,
    "soft_skills_match": 70,
    "experience_match": 60,
    "education_match": 90,
    "industry_match": 50,
    "skill_details": [{"skill_name": "SQL", "required": true, "match_level": 0.9}],
    "strengths": ["SQL"],
    "gaps": ["Airflow"]
  }
}` + "\n```"

	companyAnswer = `Here is the research: {"recent_developments": ["Raised series B"], "culture_and_values": ["Ownership"],
"market_position": {"competitors": ["OtherCorp"]}, "growth_trajectory": ["Expanding to EU"],
"interview_questions": ["How is the data team organised?"]}`

	optimizationAnswer = `{"content_suggestions": [{"before": "Worked on data", "after": "Built pipelines processing 2TB/day"}],
"skills_to_highlight": ["SQL"], "achievements_to_add": ["Cut costs by 30%"], "keywords_for_ats": ["ETL"],
"formatting_suggestions": ["Use one column"]}`

	resumeAnswer = "```markdown\n# Jane Doe\n\nData engineer.\n```"
	reportAnswer = "# Final Report\n\nOverall match: 72%."
)

type stubGenerator struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	requests  []llm.Request
}

func (s *stubGenerator) Generate(ctx context.Context, req llm.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.requests = append(s.requests, req)
	idx := len(s.requests) - 1
	if idx < len(s.errs) && s.errs[idx] != nil {
		return "", s.errs[idx]
	}
	if idx >= len(s.responses) {
		return "", errors.New("no more responses")
	}
	return s.responses[idx], nil
}

func (s *stubGenerator) Provider() string { return "stub" }

func (s *stubGenerator) Model() string { return "stub-model" }

type stubTool struct {
	name   string
	output string
	err    error

	mu    sync.Mutex
	calls []map[string]string
}

func (s *stubTool) Name() string { return s.name }

func (s *stubTool) Description() string { return "stub " + s.name }

func (s *stubTool) Run(_ context.Context, args map[string]string) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, args)
	s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	return s.output, nil
}

type fixture struct {
	crew      *Crew
	generator *stubGenerator
	scrape    *stubTool
	search    *stubTool
	outputDir string
	events    *[]Event
	logs      *observer.ObservedLogs
}

func newFixture(t *testing.T, responses ...string) *fixture {
	t.Helper()

	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("loading default config: %v", err)
	}

	dir := t.TempDir()
	resumeFile := filepath.Join(dir, "resume.md")
	if err := os.WriteFile(resumeFile, []byte("# Jane Doe\nSQL, Python"), 0o644); err != nil {
		t.Fatalf("writing resume: %v", err)
	}

	scrape := &stubTool{name: tools.ScrapeWebsiteName, output: "Data Engineer posting: SQL required"}
	search := &stubTool{name: tools.SearchInternetName, output: "ExampleCorp raised a series B"}
	gen := &stubGenerator{responses: responses}

	var (
		mu     sync.Mutex
		events []Event
	)
	core, logs := observer.New(zap.InfoLevel)

	c, err := New(Options{
		Config:           cfg,
		Generator:        gen,
		Tools:            tools.NewRegistry(scrape, search),
		ResumeFile:       resumeFile,
		OutputDir:        filepath.Join(dir, "output"),
		MaxOutputRetries: 1,
		Observer: func(e Event) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, e)
		},
		Logger: zap.New(core),
	})
	if err != nil {
		t.Fatalf("creating crew: %v", err)
	}

	return &fixture{
		crew:      c,
		generator: gen,
		scrape:    scrape,
		search:    search,
		outputDir: filepath.Join(dir, "output"),
		events:    &events,
		logs:      logs,
	}
}

var defaultInputs = map[string]string{
	"job_url":      "https://example.com/jobs/data-engineer",
	"company_name": "ExampleCorp",
}

func TestDefaultConfig(t *testing.T) {
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var names []string
	for _, task := range cfg.Tasks {
		names = append(names, task.Name)
	}
	want := "analyze_job_task,research_company_task,optimize_resume_task,generate_resume_task,generate_report_task"
	if got := strings.Join(names, ","); got != want {
		t.Fatalf("unexpected task order %s", got)
	}

	analyzer := cfg.Agents["resume_analyzer"]
	if analyzer == nil || analyzer.Temperature == nil || *analyzer.Temperature != 0 {
		t.Fatalf("expected resume_analyzer pinned to temperature 0")
	}

	if got := strings.Join(cfg.Placeholders(), ","); got != "company_name,job_url" {
		t.Fatalf("unexpected placeholders %s", got)
	}

	if got := strings.Join(cfg.contextFor(4), ","); got != "analyze_job_task,research_company_task,optimize_resume_task,generate_resume_task" {
		t.Fatalf("expected every earlier task as default context, got %s", got)
	}

	files := []string{
		"job_analysis.json", "job_analysis.md",
		"company_research.json", "company_research.md",
		"resume_optimization.json", "resume_optimization.md",
		"optimized_resume.md", "final_report.md",
	}
	if diff := cmp.Diff(files, cfg.OutputFiles()); diff != "" {
		t.Fatalf("unexpected output files (-want +got):\n%s", diff)
	}
}

func TestParseConfigErrors(t *testing.T) {
	agents := []byte("writer:\n  role: Writer\n  goal: Write\n  backstory: Writes\n")

	tests := []struct {
		name    string
		agents  []byte
		tasks   string
		problem string
	}{
		{
			name:    "unknown agent",
			agents:  agents,
			tasks:   "first:\n  description: do\n  agent: nobody\n",
			problem: `unknown agent "nobody"`,
		},
		{
			name:    "unknown output model",
			agents:  agents,
			tasks:   "first:\n  description: do\n  agent: writer\n  output_model: horoscope\n",
			problem: "horoscope",
		},
		{
			name:    "context must be an earlier task",
			agents:  agents,
			tasks:   "first:\n  description: do\n  agent: writer\n  context: [second]\nsecond:\n  description: do\n  agent: writer\n",
			problem: `context "second"`,
		},
		{
			name:    "output file escapes directory",
			agents:  agents,
			tasks:   "first:\n  description: do\n  agent: writer\n  output_file: ../out.md\n",
			problem: "relative name",
		},
		{
			name:    "duplicate task",
			agents:  agents,
			tasks:   "first:\n  description: do\n  agent: writer\nfirst:\n  description: again\n  agent: writer\n",
			problem: `"first"`,
		},
		{
			name:    "not a mapping",
			agents:  agents,
			tasks:   "- first\n",
			problem: "expected a mapping",
		},
		{
			name:    "agent without role",
			agents:  []byte("writer:\n  goal: Write\n"),
			tasks:   "first:\n  description: do\n  agent: writer\n",
			problem: "role is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig(tt.agents, []byte(tt.tasks))
			if err == nil || !strings.Contains(err.Error(), tt.problem) {
				t.Fatalf("expected error mentioning %q, got %v", tt.problem, err)
			}
		})
	}
}

func TestLoadConfigFromFiles(t *testing.T) {
	dir := t.TempDir()
	agentsPath := filepath.Join(dir, "agents.yaml")
	tasksPath := filepath.Join(dir, "tasks.yaml")

	os.WriteFile(agentsPath, []byte("writer:\n  role: Writer for {company_name}\n"), 0o644)
	os.WriteFile(tasksPath, []byte("write:\n  description: Write for {job_url}\n  agent: writer\n  output_file: out.md\n"), 0o644)

	cfg, err := LoadConfig(agentsPath, tasksPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Tasks) != 1 || cfg.Tasks[0].Name != "write" || cfg.Agents["writer"].Name != "writer" {
		t.Fatalf("unexpected config %+v", cfg)
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml"), tasksPath); err == nil {
		t.Fatalf("expected error for missing agents file")
	}
}

func TestInterpolate(t *testing.T) {
	inputs := map[string]string{"company_name": "ExampleCorp"}

	got := interpolate(`Research {company_name}; keep {"json": true} and {unknown}`, inputs)
	want := `Research ExampleCorp; keep {"json": true} and {unknown}`
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	if names := placeholders("{a} {b_2} {a} {3x}"); strings.Join(names, ",") != "a,b_2,a" {
		t.Fatalf("unexpected placeholders %v", names)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "plain", raw: `{"a": 1}`, want: `{"a": 1}`},
		{name: "fenced", raw: "```json\n{\"a\": 1}\n```", want: `{"a": 1}`},
		{name: "thinking", raw: "<think>{\"draft\": true}</think>{\"a\": 1}", want: `{"a": 1}`},
		{name: "stray closing tag", raw: "reasoning {x}</think>\n{\"a\": 1}", want: `{"a": 1}`},
		{name: "prose", raw: "Sure! Here it is: {\"a\": {\"b\": 2}} Hope it helps.", want: `{"a": {"b": 2}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSON(tt.raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}

	if _, err := extractJSON("no json here"); err == nil {
		t.Fatalf("expected error without json object")
	}
}

func TestCleanMarkdown(t *testing.T) {
	if got := cleanMarkdown(resumeAnswer); got != "# Jane Doe\n\nData engineer." {
		t.Fatalf("unexpected markdown %q", got)
	}
	if got := cleanMarkdown(reportAnswer); got != reportAnswer {
		t.Fatalf("expected unfenced markdown unchanged, got %q", got)
	}
}

func TestKickoff(t *testing.T) {
	f := newFixture(t, jobAnswer, companyAnswer, optimizationAnswer, resumeAnswer, reportAnswer)

	out, err := f.crew.Kickoff(context.Background(), defaultInputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(out.Tasks) != 5 {
		t.Fatalf("expected 5 task outputs, got %d", len(out.Tasks))
	}
	if out.Raw != reportAnswer {
		t.Fatalf("expected final report as raw output, got %q", out.Raw)
	}

	job, ok := out.Task("analyze_job_task")
	if !ok {
		t.Fatalf("missing analyze_job_task output")
	}
	req, ok := job.Structured.(*models.JobRequirements)
	if !ok {
		t.Fatalf("unexpected structured type %T", job.Structured)
	}
	if req.JobTitle != "Data Engineer" || req.MatchScore.OverallMatch != 72 {
		t.Fatalf("unexpected job requirements %+v", req)
	}
	if req.MatchScore.ScoringFactors["experience"] != 0.25 {
		t.Fatalf("expected default scoring factors, got %v", req.MatchScore.ScoringFactors)
	}

	for _, name := range []string{
		"job_analysis.json", "job_analysis.md",
		"company_research.json", "company_research.md",
		"resume_optimization.json", "resume_optimization.md",
		"optimized_resume.md", "final_report.md",
	} {
		if _, err := os.Stat(filepath.Join(f.outputDir, name)); err != nil {
			t.Fatalf("expected output file %s: %v", name, err)
		}
	}

	resume, _ := os.ReadFile(filepath.Join(f.outputDir, "optimized_resume.md"))
	if strings.Contains(string(resume), "```") {
		t.Fatalf("expected code fences to be stripped, got %q", resume)
	}

	companion, _ := os.ReadFile(filepath.Join(f.outputDir, "company_research.md"))
	if !strings.Contains(string(companion), "Raised series B") {
		t.Fatalf("expected markdown companion, got %q", companion)
	}

	reqs := f.generator.requests
	if len(reqs) != 5 {
		t.Fatalf("expected 5 llm requests, got %d", len(reqs))
	}

	if !reqs[0].JSON || !strings.Contains(reqs[0].Prompt, "JSON Schema") {
		t.Fatalf("expected structured prompt for the job analysis")
	}
	if !strings.Contains(reqs[0].Prompt, "Data Engineer posting: SQL required") {
		t.Fatalf("expected scraped page in prompt")
	}
	if !strings.Contains(reqs[0].Prompt, "# Jane Doe") {
		t.Fatalf("expected resume content in prompt")
	}
	if !strings.Contains(reqs[0].System, "Technical Job Requirements Analyst") {
		t.Fatalf("unexpected system prompt %q", reqs[0].System)
	}

	if len(f.search.calls) != 3 || !strings.Contains(f.search.calls[0]["search_query"], "ExampleCorp") {
		t.Fatalf("expected three interpolated searches, got %v", f.search.calls)
	}
	if f.scrape.calls[0]["website_url"] != defaultInputs["job_url"] {
		t.Fatalf("expected interpolated job url, got %v", f.scrape.calls)
	}

	if reqs[2].Temperature == nil || *reqs[2].Temperature != 0 {
		t.Fatalf("expected resume analyzer to run at temperature 0")
	}
	if reqs[0].Temperature != nil {
		t.Fatalf("expected provider default temperature for the job analyzer")
	}

	if !strings.Contains(reqs[2].Prompt, "Output of analyze_job_task") || !strings.Contains(reqs[2].Prompt, "Output of research_company_task") {
		t.Fatalf("expected declared context in optimize prompt")
	}
	if strings.Contains(reqs[3].Prompt, "Output of research_company_task") {
		t.Fatalf("did not expect undeclared context in resume prompt")
	}
	if !strings.Contains(reqs[4].Prompt, "Output of generate_resume_task") {
		t.Fatalf("expected every earlier task as report context")
	}

	var started, completed int
	for _, e := range *f.events {
		switch e.Kind {
		case EventTaskStarted:
			started++
		case EventTaskCompleted:
			completed++
		}
	}
	if started != 5 || completed != 5 {
		t.Fatalf("expected 5 started and completed events, got %d and %d", started, completed)
	}

	entries := f.logs.FilterMessage("task completed").All()
	if len(entries) != 5 {
		t.Fatalf("expected 5 completion logs, got %d", len(entries))
	}
	first := entries[0].ContextMap()
	if first["task"] != "analyze_job_task" || first["agent"] != "job_analyzer" || first["ai_model"] != "stub-model" {
		t.Fatalf("unexpected log fields %v", first)
	}
	if _, ok := first["weighted_match"]; !ok {
		t.Fatalf("expected weighted match in job analysis log")
	}
}

func TestKickoffRetriesInvalidOutput(t *testing.T) {
	invalid := `{"job_title": "Data Engineer", "match_score": {"overall_match": 50}}`
	f := newFixture(t, invalid, jobAnswer, companyAnswer, optimizationAnswer, resumeAnswer, reportAnswer)

	if _, err := f.crew.Kickoff(context.Background(), defaultInputs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reqs := f.generator.requests
	if len(reqs) != 6 {
		t.Fatalf("expected one retry, got %d requests", len(reqs))
	}
	if !strings.Contains(reqs[1].Prompt, "previous answer was rejected") || !strings.Contains(reqs[1].Prompt, "technical_skills_match") {
		t.Fatalf("expected validation problems in retry prompt:\n%s", reqs[1].Prompt)
	}

	if got := f.logs.FilterMessage("structured answer rejected, asking again").Len(); got != 1 {
		t.Fatalf("expected one retry log, got %d", got)
	}
}

func TestKickoffFailsAfterRetries(t *testing.T) {
	f := newFixture(t, "not json", "still not json")

	out, err := f.crew.Kickoff(context.Background(), defaultInputs)

	var taskErr *TaskError
	if !errors.As(err, &taskErr) {
		t.Fatalf("expected TaskError, got %v", err)
	}
	if taskErr.Task != "analyze_job_task" || taskErr.Agent != "job_analyzer" {
		t.Fatalf("unexpected task error %+v", taskErr)
	}
	if !errors.Is(err, ErrInvalidOutput) {
		t.Fatalf("expected ErrInvalidOutput, got %v", err)
	}
	if len(out.Tasks) != 0 {
		t.Fatalf("expected no completed tasks")
	}

	last := (*f.events)[len(*f.events)-1]
	if last.Kind != EventTaskFailed || last.Task != "analyze_job_task" {
		t.Fatalf("expected task failed event, got %+v", last)
	}
}

func TestKickoffMissingInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.crew.Kickoff(context.Background(), map[string]string{"job_url": "https://example.com"})
	if !errors.Is(err, ErrMissingInput) || !strings.Contains(err.Error(), "company_name") {
		t.Fatalf("expected missing company_name, got %v", err)
	}
	if len(f.generator.requests) != 0 {
		t.Fatalf("expected no llm calls")
	}
}

func TestKickoffToolFailureIsReported(t *testing.T) {
	f := newFixture(t, jobAnswer, companyAnswer, optimizationAnswer, resumeAnswer, reportAnswer)
	f.scrape.err = errors.New("connection refused")

	if _, err := f.crew.Kickoff(context.Background(), defaultInputs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(f.generator.requests[0].Prompt, "The tool failed: connection refused") {
		t.Fatalf("expected tool failure in prompt")
	}

	var toolErr bool
	for _, e := range *f.events {
		if e.Kind == EventToolUsed && e.Tool == tools.ScrapeWebsiteName && e.Err != nil {
			toolErr = true
		}
	}
	if !toolErr {
		t.Fatalf("expected failed tool event")
	}
}

func TestKickoffGeneratorError(t *testing.T) {
	f := newFixture(t, jobAnswer)
	f.generator.errs = []error{nil, errors.New("quota exceeded")}

	out, err := f.crew.Kickoff(context.Background(), defaultInputs)

	var taskErr *TaskError
	if !errors.As(err, &taskErr) || taskErr.Task != "research_company_task" {
		t.Fatalf("expected research task failure, got %v", err)
	}
	if len(out.Tasks) != 1 {
		t.Fatalf("expected the first task to be kept, got %d", len(out.Tasks))
	}
}

func TestKickoffCancelled(t *testing.T) {
	f := newFixture(t, jobAnswer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.crew.Kickoff(ctx, defaultInputs)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestNewValidatesTools(t *testing.T) {
	cfg, _ := DefaultConfig()

	_, err := New(Options{
		Config:     cfg,
		Generator:  &stubGenerator{},
		Tools:      tools.NewRegistry(),
		ResumeFile: "resume.md",
		OutputDir:  t.TempDir(),
	})
	if !errors.Is(err, tools.ErrUnknownTool) {
		t.Fatalf("expected unknown tool error, got %v", err)
	}
	if !strings.Contains(err.Error(), "scrape_website") {
		t.Fatalf("expected missing scrape tool to be named, got %v", err)
	}
}
