package tools

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const ReadResumeName = "read_resume"

// FileRead exposes a single file, typically the converted resume, to agents.
type FileRead struct {
	name        string
	description string
	path        string
}

// NewResumeReader returns the read_resume tool bound to path.
func NewResumeReader(path string) *FileRead {
	return &FileRead{
		name:        ReadResumeName,
		description: "A tool to read the CV file.",
		path:        path,
	}
}

func (f *FileRead) Name() string { return f.name }

func (f *FileRead) Description() string { return f.description }

// Path returns the file the tool reads.
func (f *FileRead) Path() string { return f.path }

// Run returns the file content. The optional start_line and line_count
// arguments select a window of lines, counting from 1.
func (f *FileRead) Run(ctx context.Context, args map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", f.path, err)
	}

	content := string(data)
	start, _ := strconv.Atoi(args["start_line"])
	count, _ := strconv.Atoi(args["line_count"])
	if start <= 1 && count <= 0 {
		return content, nil
	}

	lines := strings.Split(content, "\n")
	if start < 1 {
		start = 1
	}
	if start > len(lines) {
		return "", nil
	}
	end := len(lines)
	if count > 0 && start-1+count < end {
		end = start - 1 + count
	}
	return strings.Join(lines[start-1:end], "\n"), nil
}
