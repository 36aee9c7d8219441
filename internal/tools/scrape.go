package tools

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

const (
	ScrapeWebsiteName = "scrape_website"

	defaultUserAgent    = "Mozilla/5.0 (compatible; resume-crew/1.0)"
	defaultScrapeLength = 20000
	defaultScrapeTime   = 30 * time.Second
	maxBodySize         = 4 << 20
)

var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t]{2,}`)
)

// ScrapeWebsite downloads a page and reduces it to readable markdown-like text.
type ScrapeWebsite struct {
	Client    *http.Client
	UserAgent string
	// MaxLength caps the returned text in runes.
	MaxLength int
	Logger    *zap.Logger
}

type ScrapeConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxLength int           `mapstructure:"max-length"`
	UserAgent string        `mapstructure:"user-agent"`
}

func NewScrapeWebsite(cfg *ScrapeConfig, logger *zap.Logger) *ScrapeWebsite {
	if cfg == nil {
		cfg = &ScrapeConfig{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultScrapeTime
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScrapeWebsite{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: cfg.UserAgent,
		MaxLength: cfg.MaxLength,
		Logger:    logger,
	}
}

func (s *ScrapeWebsite) Name() string { return ScrapeWebsiteName }

func (s *ScrapeWebsite) Description() string {
	return "Read the content of a website given its URL."
}

func (s *ScrapeWebsite) Run(ctx context.Context, args map[string]string) (string, error) {
	url, err := requireArg(args, "website_url", "url")
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	userAgent := s.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	s.logger().Debug("make request", zap.String("url", url))

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching %s: bad status: %s", url, resp.Status)
	}

	var body io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return "", fmt.Errorf("reading gzip body: %w", err)
		}
		defer gz.Close()
		body = gz
	}

	data, err := io.ReadAll(io.LimitReader(body, maxBodySize))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	maxLength := s.MaxLength
	if maxLength <= 0 {
		maxLength = defaultScrapeLength
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/plain") || strings.Contains(contentType, "text/markdown") {
		return truncate(strings.TrimSpace(string(data)), maxLength), nil
	}

	text, err := HTMLToText(string(data))
	if err != nil {
		return "", fmt.Errorf("converting %s: %w", url, err)
	}

	s.logger().Debug("page scraped", zap.String("url", url), zap.Int("length", len(text)))

	return truncate(text, maxLength), nil
}

func (s *ScrapeWebsite) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// HTMLToText converts an HTML document into markdown-flavoured plain text.
// Page chrome such as scripts, navigation and footers is dropped.
func HTMLToText(content string) (string, error) {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	walk(doc, &sb, 0)

	text := multiSpacePattern.ReplaceAllString(sb.String(), " ")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	text = multiNewlinePattern.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text), nil
}

func walk(n *html.Node, sb *strings.Builder, depth int) {
	if depth > 100 {
		return
	}

	switch n.Type {
	case html.TextNode:
		if text := strings.TrimSpace(n.Data); text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "form", "button":
			return
		case "title":
			sb.WriteString("# ")
		case "h1", "h2", "h3", "h4", "h5", "h6":
			sb.WriteString("\n\n" + strings.Repeat("#", int(n.Data[1]-'0')) + " ")
		case "p", "div", "section", "article", "table", "tr", "ul", "ol":
			sb.WriteString("\n\n")
		case "br":
			sb.WriteString("\n")
		case "li":
			sb.WriteString("\n- ")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, sb, depth+1)
	}

	if n.Type == html.ElementNode {
		switch n.Data {
		case "title", "h1", "h2", "h3", "h4", "h5", "h6":
			sb.WriteString("\n\n")
		}
	}
}
