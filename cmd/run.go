package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/spigell/resume-crew/internal/crew"
	"github.com/spigell/resume-crew/internal/logger"
	"github.com/spigell/resume-crew/internal/runs"
	"go.uber.org/zap"
)

const (
	PromptYes = "Yes"
	PromptNo  = "No"

	defaultJobURL      = "https://example.com/vacature/data-engineer-llm/JR12345/"
	defaultCompanyName = "ExampleCorp"
	defaultResumeFile  = "/path/to/default/resume.pdf"
	reportWordWrap     = 100
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Optimize a resume for a job posting from the command line",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("job-url", "j", defaultJobURL, "job posting URL")
	runCmd.Flags().StringP("company-name", "c", defaultCompanyName, "company name")
	runCmd.Flags().StringP("resume-file", "f", defaultResumeFile, "resume file path (pdf, docx, md or txt)")
	runCmd.Flags().StringP("llm-model", "m", "", "LLM model (default is llm.default-model from the config)")
	runCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation or a model")
	runCmd.Flags().Bool("no-render", false, "print the final report as plain markdown")
}

// run is the cli equivalent of the web form.
func run(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the resume-crew", zap.String("version", version))

	logger.Debug(fmt.Sprintf("starting with config: \n %s", dumpConfig(config)))

	flags := cmd.Flags()
	yes, _ := flags.GetBool("yes")

	req := runs.Request{}
	req.JobURL, _ = flags.GetString("job-url")
	req.CompanyName, _ = flags.GetString("company-name")
	req.ResumeFile, _ = flags.GetString("resume-file")
	req.Model, _ = flags.GetString("llm-model")

	if req.Model == "" {
		req.Model = config.LLM.Default()
		if !yes && config.LLM.DefaultModel == "" {
			req.Model, err = selectModel(config.LLM.Choices())
			if err != nil {
				logger.Fatal("exiting", zap.Error(err))
			}
		}
	}

	logger.Info("run parameters",
		zap.String("job_url", req.JobURL),
		zap.String("company_name", req.CompanyName),
		zap.String("resume_file", req.ResumeFile),
		zap.String("model", req.Model),
	)

	if !yes {
		confirm := promptui.Select{
			Label: "Proceed?",
			Items: []string{PromptYes, PromptNo},
		}
		_, answer, err := confirm.Run()
		if err != nil {
			logger.Fatal("exiting", zap.Error(err))
		}
		if answer == PromptNo {
			logger.Info("exiting", zap.String("reason", "got no from prompt"))
			return
		}
	}

	p, err := newPipeline(ctx, config, logger)
	if err != nil {
		logger.Fatal("preparing the pipeline", zap.Error(err),
			zap.String("hint", "set SERPER_API_KEY and the api key of the selected model provider"),
		)
	}
	defer p.Close()

	output, err := p.run(ctx, req, config.KnowledgeDir, config.OutputDir, nil, logger)
	if err != nil {
		var taskErr *crew.TaskError
		if errors.As(err, &taskErr) {
			logger.Fatal("pipeline failed",
				zap.String("task", taskErr.Task),
				zap.String("agent", taskErr.Agent),
				zap.Error(taskErr.Err),
			)
		}
		logger.Fatal("pipeline failed", zap.Error(err))
	}

	files := make([]string, 0, len(output.Tasks))
	for _, t := range output.Tasks {
		files = append(files, t.File)
	}
	logger.Info("pipeline completed", zap.Strings("files", files))

	noRender, _ := flags.GetBool("no-render")
	fmt.Print(renderReport(output.Raw, noRender, logger))
	if !noRender {
		fmt.Println(summary(output))
	}
}

var (
	summaryTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A"))
	summaryBox   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#2a3850")).
			Padding(0, 1)
)

// summary lists the written files with the time each task took.
func summary(output *crew.Output) string {
	lines := []string{summaryTitle.Render("Outputs")}
	for _, t := range output.Tasks {
		lines = append(lines, fmt.Sprintf("%-24s %s (%s)", t.Name, t.File, t.Duration.Round(time.Second)))
	}
	return summaryBox.Render(strings.Join(lines, "\n"))
}

// dumpConfig renders the config for debug output. Secrets carry json:"-".
func dumpConfig(config *Config) string {
	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	return string(pretty)
}

func selectModel(choices []string) (string, error) {
	if len(choices) == 1 {
		return choices[0], nil
	}

	prompt := promptui.Select{
		Label: "Select Model",
		Items: choices,
	}
	_, model, err := prompt.Run()
	return model, err
}

func renderReport(report string, plain bool, logger *zap.Logger) string {
	if plain {
		return report + "\n"
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(reportWordWrap),
	)
	if err != nil {
		logger.Warn("falling back to plain report", zap.Error(err))
		return report + "\n"
	}

	out, err := r.Render(report)
	if err != nil {
		logger.Warn("falling back to plain report", zap.Error(err))
		return report + "\n"
	}
	return out
}
