// Package web serves the form-based UI: it collects the job URL, company
// name, resume and model, starts runs and shows their progress and results.
package web

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spigell/resume-crew/internal/runs"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	defaultListen        = ":8501"
	defaultMaxUploadSize = 10 << 20
	shutdownTimeout      = 10 * time.Second
)

type Config struct {
	Listen            string   `mapstructure:"listen"`
	MaxUploadSize     int64    `mapstructure:"max-upload-size"`
	MaxConcurrentRuns int      `mapstructure:"max-concurrent-runs"`
	// AllowOrigins enables CORS for the listed origins. "*" allows any.
	AllowOrigins []string `mapstructure:"allow-origins"`
}

// RunManager starts and looks up pipeline runs.
type RunManager interface {
	Start(ctx context.Context, req runs.Request) (*runs.Run, error)
	Get(id string) (*runs.Run, error)
}

type Options struct {
	Config       *Config
	Runs         RunManager
	Models       []string
	DefaultModel string
	// KnowledgeDir receives uploaded resumes.
	KnowledgeDir string
	// BaseContext bounds the runs started from the UI.
	BaseContext context.Context
	Logger      *zap.Logger
}

type Server struct {
	cfg          Config
	runs         RunManager
	models       []string
	defaultModel string
	knowledgeDir string
	baseCtx      context.Context
	logger       *zap.Logger
	engine       *gin.Engine
}

func New(opts Options) (*Server, error) {
	if opts.Runs == nil {
		return nil, errors.New("run manager is required")
	}
	if len(opts.Models) == 0 {
		return nil, errors.New("at least one model is required")
	}

	cfg := Config{}
	if opts.Config != nil {
		cfg = *opts.Config
	}
	if cfg.Listen == "" {
		cfg.Listen = defaultListen
	}
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = defaultMaxUploadSize
	}

	defaultModel := opts.DefaultModel
	if !slices.Contains(opts.Models, defaultModel) {
		defaultModel = opts.Models[0]
	}

	baseCtx := opts.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:          cfg,
		runs:         opts.Runs,
		models:       opts.Models,
		defaultModel: defaultModel,
		knowledgeDir: opts.KnowledgeDir,
		baseCtx:      baseCtx,
		logger:       log,
	}

	engine := gin.New()
	engine.MaxMultipartMemory = cfg.MaxUploadSize
	engine.SetHTMLTemplate(tmpl)
	engine.Use(gin.Recovery(), requestLogger(log))
	if c, ok := corsConfig(cfg.AllowOrigins); ok {
		engine.Use(cors.New(c))
	}

	engine.GET("/", s.index)
	engine.POST("/runs", s.createRun)
	engine.GET("/runs/:id", s.showRun)
	engine.GET("/runs/:id/status", s.runStatus)
	engine.GET("/runs/:id/events", s.runEvents)
	engine.GET("/runs/:id/artifacts/:name", s.artifact)
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.engine = engine
	return s, nil
}

// Handler returns the HTTP handler of the UI.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("web server listening", zap.String("listen", s.cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down web server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func corsConfig(origins []string) (cors.Config, bool) {
	if len(origins) == 0 {
		return cors.Config{}, false
	}

	c := cors.DefaultConfig()
	c.AllowMethods = []string{http.MethodGet, http.MethodPost}
	c.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type"}
	if slices.Contains(origins, "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return c, true
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(started)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			log.Error("http request", fields...)
		case path == "/healthz" || path == "/metrics" || strings.HasSuffix(path, "/events"):
			log.Debug("http request", fields...)
		default:
			log.Info("http request", fields...)
		}
	}
}
