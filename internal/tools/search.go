package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	SearchInternetName = "search_internet"

	defaultSerperURL     = "https://google.serper.dev/search"
	defaultSearchResults = 10
)

// SerperSearch queries the Serper Google search API.
type SerperSearch struct {
	Client   *http.Client
	Endpoint string
	APIKey   string
	Results  int
	Logger   *zap.Logger
}

type SerperConfig struct {
	APIKey     string        `mapstructure:"api-key" json:"-"`
	APIKeyFile string        `mapstructure:"api-key-file"`
	Endpoint   string        `mapstructure:"endpoint"`
	Results    int           `mapstructure:"results"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

func NewSerperSearch(cfg *SerperConfig, apiKey string, logger *zap.Logger) *SerperSearch {
	if cfg == nil {
		cfg = &SerperConfig{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultScrapeTime
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SerperSearch{
		Client:   &http.Client{Timeout: timeout},
		Endpoint: cfg.Endpoint,
		APIKey:   apiKey,
		Results:  cfg.Results,
		Logger:   logger,
	}
}

type serperRequest struct {
	Query string `json:"q"`
	Num   int    `json:"num,omitempty"`
}

type serperResponse struct {
	KnowledgeGraph *struct {
		Title       string `json:"title"`
		Type        string `json:"type"`
		Website     string `json:"website"`
		Description string `json:"description"`
	} `json:"knowledgeGraph"`
	Organic []struct {
		Title    string `json:"title"`
		Link     string `json:"link"`
		Snippet  string `json:"snippet"`
		Date     string `json:"date"`
		Position int    `json:"position"`
	} `json:"organic"`
	PeopleAlsoAsk []struct {
		Question string `json:"question"`
		Snippet  string `json:"snippet"`
	} `json:"peopleAlsoAsk"`
}

func (s *SerperSearch) Name() string { return SearchInternetName }

func (s *SerperSearch) Description() string {
	return "Search the internet with a query and return the most relevant results."
}

func (s *SerperSearch) Run(ctx context.Context, args map[string]string) (string, error) {
	query, err := requireArg(args, "search_query", "query")
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(s.APIKey) == "" {
		return "", fmt.Errorf("serper api key is not configured")
	}

	num := s.Results
	if n, err := strconv.Atoi(args["n_results"]); err == nil && n > 0 {
		num = n
	}
	if num <= 0 {
		num = defaultSearchResults
	}

	payload, err := json.Marshal(serperRequest{Query: query, Num: num})
	if err != nil {
		return "", err
	}

	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = defaultSerperURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", s.APIKey)

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	s.logger().Debug("make search request", zap.String("query", query), zap.Int("results", num))

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("searching %q: %w", query, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("searching %q: bad status: %s", query, resp.Status)
	}

	var result serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding search response: %w", err)
	}

	return formatSearch(query, &result), nil
}

func formatSearch(query string, r *serperResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Search results for %q\n\n", query)

	if kg := r.KnowledgeGraph; kg != nil && kg.Title != "" {
		fmt.Fprintf(&b, "**%s**", kg.Title)
		if kg.Type != "" {
			fmt.Fprintf(&b, " (%s)", kg.Type)
		}
		if kg.Website != "" {
			fmt.Fprintf(&b, " %s", kg.Website)
		}
		b.WriteString("\n")
		if kg.Description != "" {
			b.WriteString(kg.Description + "\n")
		}
		b.WriteString("\n")
	}

	if len(r.Organic) == 0 {
		b.WriteString("No results found.\n")
	}

	for i, item := range r.Organic {
		fmt.Fprintf(&b, "%d. [%s](%s)", i+1, item.Title, item.Link)
		if item.Date != "" {
			fmt.Fprintf(&b, " (%s)", item.Date)
		}
		b.WriteString("\n")
		if item.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", item.Snippet)
		}
	}

	if len(r.PeopleAlsoAsk) > 0 {
		b.WriteString("\n**People also ask:**\n")
		for _, q := range r.PeopleAlsoAsk {
			fmt.Fprintf(&b, "- %s %s\n", q.Question, q.Snippet)
		}
	}

	return strings.TrimSpace(b.String())
}

func (s *SerperSearch) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
