package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spigell/resume-crew/internal/crew"
	"github.com/spigell/resume-crew/internal/llm/providers"
	"github.com/spigell/resume-crew/internal/resume"
	"github.com/spigell/resume-crew/internal/runs"
	"github.com/spigell/resume-crew/internal/secrets"
	"github.com/spigell/resume-crew/internal/tools"
	"go.uber.org/zap"
)

// pipeline holds what every run shares: the crew declaration and the
// cached tools.
type pipeline struct {
	config  *Config
	crewCfg *crew.Config
	tools   *tools.Registry
	cache   tools.Cache
}

func newPipeline(ctx context.Context, config *Config, logger *zap.Logger) (*pipeline, error) {
	crewCfg, err := crew.LoadConfig(config.AgentsConfig, config.TasksConfig)
	if err != nil {
		return nil, fmt.Errorf("loading crew config: %w", err)
	}

	cache, err := tools.NewCache(ctx, config.Tools.Cache)
	if err != nil {
		return nil, fmt.Errorf("building tool cache: %w", err)
	}

	var ttl time.Duration
	if config.Tools.Cache != nil {
		ttl = config.Tools.Cache.TTL
	}

	serper := config.Tools.Serper
	if serper == nil {
		serper = &tools.SerperConfig{}
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "serper api key",
		Value: serper.APIKey,
		File:  serper.APIKeyFile,
		Env:   "SERPER_API_KEY",
	})
	if err != nil {
		return nil, err
	}

	toolLogger := logger.Named("tools")
	registry := tools.NewRegistry(
		tools.Cached(tools.NewScrapeWebsite(config.Tools.Scrape, toolLogger), cache, ttl, toolLogger),
		tools.Cached(tools.NewSerperSearch(serper, apiKey, toolLogger), cache, ttl, toolLogger),
	)

	logger.Debug("pipeline prepared",
		zap.Strings("tools", registry.Names()),
		zap.Strings("outputs", crewCfg.OutputFiles()),
	)

	return &pipeline{
		config:  config,
		crewCfg: crewCfg,
		tools:   registry,
		cache:   cache,
	}, nil
}

// run converts the resume into resumeDir, assembles a crew for the requested
// model and kicks it off. Outputs land in outputDir.
func (p *pipeline) run(ctx context.Context, req runs.Request, resumeDir, outputDir string, observer crew.Observer, logger *zap.Logger) (*crew.Output, error) {
	resumeFile, err := resume.Convert(req.ResumeFile, resumeDir)
	if err != nil {
		return nil, fmt.Errorf("converting resume: %w", err)
	}
	logger.Info("resume converted", zap.String("resume_file", resumeFile))

	generator, err := providers.New(ctx, p.config.LLM, req.Model, logger)
	if err != nil {
		return nil, fmt.Errorf("creating llm generator: %w", err)
	}

	c, err := crew.New(crew.Options{
		Config:           p.crewCfg,
		Generator:        generator,
		Tools:            p.tools,
		ResumeFile:       resumeFile,
		OutputDir:        outputDir,
		MaxOutputRetries: p.config.MaxOutputRetries,
		Observer:         observer,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("assembling crew: %w", err)
	}

	return c.Kickoff(ctx, req.Inputs())
}

// execute adapts run to the background run manager.
func (p *pipeline) execute(ctx context.Context, run *runs.Run, logger *zap.Logger) error {
	_, err := p.run(ctx, run.Request, run.InputDir(), run.Dir, run.Observe, logger)
	return err
}

func (p *pipeline) Close() error {
	if c, ok := p.cache.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
