package deadletter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// GitHubConfig locates the repository issues are filed in.
type GitHubConfig struct {
	APIURL string
	Owner  string
	Repo   string
	Token  string
	Labels []string
}

// GitHubReporter files each report as a GitHub issue.
type GitHubReporter struct {
	cfg  GitHubConfig
	http *http.Client
}

// NewGitHubReporter builds a reporter. A nil client gets a 15 second timeout.
func NewGitHubReporter(cfg GitHubConfig, client *http.Client) (*GitHubReporter, error) {
	if cfg.Owner == "" || cfg.Repo == "" || cfg.Token == "" {
		return nil, fmt.Errorf("github reporter needs owner, repo and token")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.github.com"
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &GitHubReporter{cfg: cfg, http: client}, nil
}

// Name implements Reporter.
func (*GitHubReporter) Name() string { return "github" }

type issueRequest struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels,omitempty"`
}

type issueResponse struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
}

// File creates the issue and returns its URL.
func (g *GitHubReporter) File(ctx context.Context, r Report) (string, error) {
	payload, err := json.Marshal(issueRequest{Title: Title(r), Body: Markdown(r), Labels: g.cfg.Labels})
	if err != nil {
		return "", fmt.Errorf("marshal issue: %w", err)
	}
	endpoint := fmt.Sprintf("%s/repos/%s/%s/issues", g.cfg.APIURL, g.cfg.Owner, g.cfg.Repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("new issue request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := g.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("create issue: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read issue response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create issue: github responded %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out issueResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode issue response: %w", err)
	}
	return out.HTMLURL, nil
}
