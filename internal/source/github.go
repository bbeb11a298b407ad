package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultGitHubBaseURL is the public GitHub REST API endpoint.
const DefaultGitHubBaseURL = "https://api.github.com"

// GitHubConfig locates a repository directory and carries its credential.
type GitHubConfig struct {
	BaseURL string
	Owner   string
	Repo    string
	Path    string
	Ref     string
	Token   string
	Timeout time.Duration
	// RateLimit caps requests per second; zero disables limiting.
	RateLimit float64
}

// GitHub reads a repository directory through the contents API.
type GitHub struct {
	cfg     GitHubConfig
	client  *http.Client
	limiter *rate.Limiter
}

// GitHubOption customises a GitHub source.
type GitHubOption func(*GitHub)

// WithHTTPClient replaces the HTTP client used for all requests.
func WithHTTPClient(c *http.Client) GitHubOption {
	return func(g *GitHub) {
		g.client = c
	}
}

// NewGitHub validates cfg and returns a GitHub source. An empty token is a
// configuration error.
func NewGitHub(cfg GitHubConfig, opts ...GitHubOption) (*GitHub, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, &ConfigError{Field: "token", Err: ErrMissingToken}
	}
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, &ConfigError{Field: "repository", Err: fmt.Errorf("owner and repo are required")}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGitHubBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	g := &GitHub{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.RateLimit > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// ContentsURL returns the contents API URL of the configured directory.
func (g *GitHub) ContentsURL() string {
	u := fmt.Sprintf("%s/repos/%s/%s/contents/%s",
		g.cfg.BaseURL, url.PathEscape(g.cfg.Owner), url.PathEscape(g.cfg.Repo), escapePath(g.cfg.Path))
	if g.cfg.Ref != "" {
		u += "?" + url.Values{"ref": {g.cfg.Ref}}.Encode()
	}
	return u
}

func (g *GitHub) String() string {
	return g.ContentsURL()
}

// List fetches the directory listing.
func (g *GitHub) List(ctx context.Context) ([]Entry, error) {
	body, err := g.get(ctx, g.ContentsURL(), "application/vnd.github.v3+json")
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("github: decode listing: %w", err)
	}
	return entries, nil
}

// Fetch downloads the raw content of e.
func (g *GitHub) Fetch(ctx context.Context, e Entry) ([]byte, error) {
	if e.DownloadURL == "" {
		return nil, fmt.Errorf("github: %s has no download url", e.Name)
	}
	return g.get(ctx, e.DownloadURL, "")
}

func (g *GitHub) get(ctx context.Context, requestURL, accept string) ([]byte, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("github: rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("github: create request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.Token)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github: request %s: %w", requestURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{URL: requestURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("github: read body: %w", err)
	}
	return body, nil
}

// escapePath escapes each segment of a slash-separated repository path.
func escapePath(p string) string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
