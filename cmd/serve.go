package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/spigell/resume-crew/internal/logger"
	"github.com/spigell/resume-crew/internal/runs"
	"github.com/spigell/resume-crew/internal/web"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the resume optimizer web UI",
	Run: func(_ *cobra.Command, _ []string) {
		serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("listen", "l", ":8501", "address to listen on")
	viper.BindPFlag("server.listen", serveCmd.Flags().Lookup("listen"))
}

func serve() {
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

	if !viper.GetBool("debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Info("starting the resume-crew web ui", zap.String("version", version))

	p, err := newPipeline(ctx, config, logger)
	if err != nil {
		logger.Fatal("preparing the pipeline", zap.Error(err),
			zap.String("hint", "set SERPER_API_KEY or tools.serper.api-key-file"),
		)
	}
	defer p.Close()

	manager := runs.NewManager(runs.Config{
		OutputDir:     config.OutputDir,
		MaxConcurrent: config.Server.MaxConcurrentRuns,
		Artifacts:     p.crewCfg.OutputFiles(),
	}, p.execute, logger.Named("runs"))

	srv, err := web.New(web.Options{
		Config:       config.Server,
		Runs:         manager,
		Models:       config.LLM.Choices(),
		DefaultModel: config.LLM.Default(),
		KnowledgeDir: config.KnowledgeDir,
		BaseContext:  ctx,
		Logger:       logger.Named("web"),
	})
	if err != nil {
		logger.Fatal("creating the web server", zap.Error(err))
	}

	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Fatal("serving", zap.Error(err))
	}

	logger.Info("waiting for active runs")
	manager.Wait()
}
