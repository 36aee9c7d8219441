package web

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spigell/resume-crew/internal/convert"
	"github.com/spigell/resume-crew/internal/logger"
	"github.com/spigell/resume-crew/internal/resume"
	"github.com/spigell/resume-crew/internal/runs"
	"go.uber.org/zap"
)

const (
	reportArtifact = "final_report.md"
	resumeArtifact = "optimized_resume.md"

	// multipartOverhead covers the form fields and part headers around the resume.
	multipartOverhead = 1 << 20
)

var statusLabels = map[runs.Status]string{
	runs.StatusPending:   "⏳ Waiting for a free slot...",
	runs.StatusRunning:   "🤖 Analyzing...",
	runs.StatusCompleted: "✅ Analysis completed!",
	runs.StatusFailed:    "❌ Error occurred",
}

type form struct {
	Model       string
	JobURL      string
	CompanyName string
}

type indexPage struct {
	Models []string
	Form   form
	Errors []string
}

type runPage struct {
	ID          string
	Status      runs.Status
	StatusLabel string
	Request     runs.Request
	Progress    runs.Progress
	Error       string
	Lines       []string
	Finished    bool
	Report      template.HTML
	Resume      template.HTML
	Artifacts   []string
}

func (s *Server) index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", indexPage{
		Models: s.models,
		Form:   form{Model: s.defaultModel},
	})
}

func (s *Server) createRun(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadSize+multipartOverhead)
	if err := c.Request.ParseMultipartForm(s.cfg.MaxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.renderForm(c, http.StatusRequestEntityTooLarge, form{Model: s.defaultModel},
				[]string{fmt.Sprintf("The resume exceeds %d bytes.", s.cfg.MaxUploadSize)})
			return
		}
	}

	f := form{
		Model:       strings.TrimSpace(c.PostForm("llm_model")),
		JobURL:      strings.TrimSpace(c.PostForm("job_url")),
		CompanyName: strings.TrimSpace(c.PostForm("company_name")),
	}

	var problems []string
	if f.Model == "" {
		f.Model = s.defaultModel
	} else if !slices.Contains(s.models, f.Model) {
		problems = append(problems, fmt.Sprintf("Unknown model %q.", f.Model))
	}
	if !strings.HasPrefix(f.JobURL, "http") {
		problems = append(problems, "Please enter a valid job URL.")
	}
	if f.CompanyName == "" {
		problems = append(problems, "Please enter the company name.")
	}

	header, err := c.FormFile("resume")
	switch {
	case err != nil:
		problems = append(problems, "Please upload your resume.")
	case !strings.EqualFold(filepath.Ext(header.Filename), ".pdf"):
		problems = append(problems, "The resume must be a PDF file.")
	case header.Size > s.cfg.MaxUploadSize:
		problems = append(problems, fmt.Sprintf("The resume exceeds %d bytes.", s.cfg.MaxUploadSize))
	}

	if len(problems) > 0 {
		s.renderForm(c, http.StatusBadRequest, f, problems)
		return
	}

	file, err := header.Open()
	if err != nil {
		s.renderForm(c, http.StatusBadRequest, f, []string{"Could not read the uploaded resume."})
		return
	}
	defer file.Close()

	// Every upload gets its own directory so runs never share a resume.
	uploadDir := filepath.Join(s.knowledgeDir, uuid.NewString())
	path, err := resume.SaveUpload(uploadDir, header.Filename, file, s.cfg.MaxUploadSize)
	if err != nil {
		s.logger.Warn("storing upload failed", zap.Error(err), zap.String("filename", header.Filename))
		_ = os.RemoveAll(uploadDir)
		s.renderForm(c, http.StatusBadRequest, f, []string{"Could not store the resume: " + err.Error()})
		return
	}

	run, err := s.runs.Start(s.baseCtx, runs.Request{
		JobURL:      f.JobURL,
		CompanyName: f.CompanyName,
		ResumeFile:  path,
		Model:       f.Model,
	})
	if err != nil {
		_ = c.Error(err)
		_ = os.RemoveAll(uploadDir)
		s.renderForm(c, http.StatusInternalServerError, f, []string{"Could not start the analysis: " + err.Error()})
		return
	}

	c.Redirect(http.StatusSeeOther, "/runs/"+run.ID)
}

func (s *Server) renderForm(c *gin.Context, status int, f form, problems []string) {
	c.HTML(status, "index.html", indexPage{
		Models: s.models,
		Form:   f,
		Errors: problems,
	})
}

func (s *Server) showRun(c *gin.Context) {
	run, ok := s.lookup(c)
	if !ok {
		return
	}

	status := run.Status()
	page := runPage{
		ID:          run.ID,
		Status:      status,
		StatusLabel: statusLabels[status],
		Request:     run.Request,
		Progress:    run.Progress(),
		Error:       run.Err(),
		Lines:       run.Lines(),
		Finished:    status == runs.StatusCompleted || status == runs.StatusFailed,
		Artifacts:   run.Artifacts(),
	}

	if status == runs.StatusCompleted {
		page.Report = s.renderArtifact(run, reportArtifact)
		page.Resume = s.renderArtifact(run, resumeArtifact)
	}

	c.HTML(http.StatusOK, "run.html", page)
}

func (s *Server) renderArtifact(run *runs.Run, name string) template.HTML {
	data, err := run.ReadArtifact(name)
	if err != nil {
		s.logger.Warn("reading artifact failed",
			zap.String(logger.FieldRun, run.ID),
			zap.String("artifact", name),
			zap.Error(err),
		)
		return ""
	}

	out, err := convert.MarkdownToHTML(data)
	if err != nil {
		s.logger.Warn("rendering artifact failed",
			zap.String(logger.FieldRun, run.ID),
			zap.String("artifact", name),
			zap.Error(err),
		)
		return ""
	}
	// The converter sanitises its output.
	return template.HTML(out)
}

func (s *Server) runStatus(c *gin.Context) {
	run, ok := s.lookup(c)
	if !ok {
		return
	}

	progress := run.Progress()
	body := gin.H{
		"id":        run.ID,
		"status":    run.Status(),
		"error":     run.Err(),
		"task":      progress.Task,
		"agent":     progress.Agent,
		"completed": progress.Completed,
		"total":     progress.Total,
		"artifacts": run.Artifacts(),
	}
	if finished := run.FinishedAt(); !finished.IsZero() {
		body["finished_at"] = finished
	}
	c.JSON(http.StatusOK, body)
}

// runEvents streams the run log as server-sent events. Every log line is a
// "log" event, the end of the run is a "done" event carrying the status.
func (s *Server) runEvents(c *gin.Context) {
	run, ok := s.lookup(c)
	if !ok {
		return
	}

	history, updates, cancel := run.Subscribe()
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	for _, line := range history {
		c.SSEvent("log", line)
	}
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case line, open := <-updates:
			if !open {
				// A lagging subscriber is cut off while the run goes on. Ending
				// the stream without done makes the browser reconnect and replay.
				select {
				case <-run.Done():
					c.SSEvent("done", string(run.Status()))
				default:
				}
				return false
			}
			c.SSEvent("log", line)
			return true
		}
	})
}

func (s *Server) artifact(c *gin.Context) {
	run, ok := s.lookup(c)
	if !ok {
		return
	}

	name := c.Param("name")
	path, err := run.Artifact(name)
	if err != nil {
		if errors.Is(err, runs.ErrUnknownArtifact) || errors.Is(err, runs.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reading artifact"})
		return
	}

	if c.Query("format") != "pdf" {
		c.FileAttachment(path, name)
		return
	}

	data, err := run.ReadArtifact(name)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reading artifact"})
		return
	}

	var buf bytes.Buffer
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md":
		err = convert.RenderMarkdownPDF(&buf, data)
	case ".json":
		err = convert.RenderJSONPDF(&buf, data)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "no pdf rendering for " + name})
		return
	}
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "rendering pdf"})
		return
	}

	pdfName := strings.TrimSuffix(name, filepath.Ext(name)) + ".pdf"
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", pdfName))
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
}

func (s *Server) lookup(c *gin.Context) (*runs.Run, bool) {
	run, err := s.runs.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, runs.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return nil, false
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "looking up run"})
		return nil, false
	}
	return run, true
}
