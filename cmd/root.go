package cmd

import (
	"errors"
	"io/fs"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/spigell/resume-crew/internal/crew"
	"github.com/spigell/resume-crew/internal/llm/providers"
	"github.com/spigell/resume-crew/internal/tools"
	"github.com/spigell/resume-crew/internal/web"
)

const (
	app       = "resume-crew"
	envPrefix = "RESUME_CREW"
)

type Config struct {
	// KnowledgeDir receives uploaded resumes and their markdown conversions.
	KnowledgeDir string `mapstructure:"knowledge-dir"`
	OutputDir    string `mapstructure:"output-dir"`
	// AgentsConfig and TasksConfig override the embedded declarations.
	AgentsConfig     string            `mapstructure:"agents-config"`
	TasksConfig      string            `mapstructure:"tasks-config"`
	MaxOutputRetries int               `mapstructure:"max-output-retries"`
	LLM              *providers.Config `mapstructure:"llm"`
	Tools            *ToolsConfig      `mapstructure:"tools"`
	Server           *web.Config       `mapstructure:"server"`
}

type ToolsConfig struct {
	Scrape *tools.ScrapeConfig `mapstructure:"scrape"`
	Serper *tools.SerperConfig `mapstructure:"serper"`
	Cache  *tools.CacheConfig  `mapstructure:"cache"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "resume-crew tailors a resume to a job posting with a crew of LLM agents",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is resume-crew.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	// -j belongs to run --job-url.
	rootCmd.PersistentFlags().Bool("json", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	viper.SetDefault("knowledge-dir", "knowledge")
	viper.SetDefault("output-dir", "output")
	viper.SetDefault("max-output-retries", crew.DefaultMaxOutputRetries)
	viper.SetDefault("tools.cache.backend", "memory")
	viper.SetDefault("tools.cache.ttl", "1h")
	viper.SetDefault("server.listen", ":8501")
	viper.SetDefault("server.max-upload-size", 10<<20)
	viper.SetDefault("server.max-concurrent-runs", 2)
}

func initConfig() {
	// .env is optional.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("loading .env: %v", err)
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		// Without an explicit --config the defaults are enough.
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return
		}
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	if config.LLM == nil {
		config.LLM = &providers.Config{}
	}
	if config.Tools == nil {
		config.Tools = &ToolsConfig{}
	}
	if config.Server == nil {
		config.Server = &web.Config{}
	}

	return config, nil
}
