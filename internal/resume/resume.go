// Package resume turns an uploaded resume into the markdown file the agents read.
package resume

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrUnsupportedFormat is returned for files that are neither PDF, DOCX,
// markdown nor plain text.
var ErrUnsupportedFormat = errors.New("unsupported resume format")

// ErrEmpty is returned when no text could be extracted.
var ErrEmpty = errors.New("resume contains no extractable text")

var (
	spacePattern   = regexp.MustCompile(`[ \t\r\f\v]+`)
	newlinePattern = regexp.MustCompile(`\n{3,}`)
	tagPattern     = regexp.MustCompile(`<[^>]+>`)
	unsafeName     = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// Convert extracts the text of the resume at path and writes it as
// <dir>/<basename>.md. It returns the path of the markdown file.
func Convert(path, dir string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading resume: %w", err)
	}

	text, err := Extract(filepath.Base(path), data)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	out := filepath.Join(dir, base+".md")
	if filepath.Clean(out) == filepath.Clean(path) {
		return out, nil
	}

	if err := os.WriteFile(out, []byte(text+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", out, err)
	}
	return out, nil
}

// Extract returns the text content of a resume, choosing the parser by the
// file extension of filename.
func Extract(filename string, data []byte) (string, error) {
	var (
		text string
		err  error
	)

	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".pdf":
		text, err = extractPDF(data)
	case ".docx":
		text, err = extractDOCX(data)
	case ".md", ".markdown", ".txt":
		text = string(data)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return "", err
	}

	text = normalize(text)
	if text == "" {
		return "", ErrEmpty
	}
	return text, nil
}

func extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}

	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("reading pdf page %d: %w", i, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}

	return strings.Join(pages, "\n\n---\n\n"), nil
}

func extractDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening docx: %w", err)
	}

	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		defer rc.Close()

		raw, err := io.ReadAll(rc)
		if err != nil {
			return "", err
		}

		xml := strings.ReplaceAll(string(raw), "</w:p>", "\n")
		xml = strings.ReplaceAll(xml, "<w:tab/>", "\t")
		return tagPattern.ReplaceAllString(xml, ""), nil
	}

	return "", errors.New("no document.xml found in docx")
}

func normalize(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spacePattern.ReplaceAllString(line, " "))
	}
	s = strings.Join(lines, "\n")
	s = newlinePattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// SaveUpload stores an uploaded file in dir under a sanitised version of
// name and returns the stored path. At most maxBytes are accepted when
// maxBytes is positive.
func SaveUpload(dir, name string, r io.Reader, maxBytes int64) (string, error) {
	name = SanitizeName(name)
	if name == "" {
		return "", errors.New("file name is required")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}

	if maxBytes > 0 {
		r = io.LimitReader(r, maxBytes+1)
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	n, err := io.Copy(f, r)
	if err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	if maxBytes > 0 && n > maxBytes {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("file exceeds %d bytes", maxBytes)
	}
	if n == 0 {
		f.Close()
		os.Remove(path)
		return "", errors.New("file is empty")
	}

	return path, nil
}

// SanitizeName strips directories and unsafe characters from a file name.
func SanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == ".." || name == "/" {
		return ""
	}
	name = unsafeName.ReplaceAllString(name, "_")
	return strings.Trim(name, "_")
}
