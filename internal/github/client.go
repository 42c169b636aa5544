package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v60/github"
	"golang.org/x/oauth2"
)

const (
	defaultBaseURL = "https://api.github.com"
	apiVersion     = "2022-11-28"
	userAgent      = "repo-activity"

	// FeedWindow is how many events GitHub keeps reachable through the
	// account events feed. Pages past it are answered with 422.
	FeedWindow = 300
)

// Client talks to the GitHub REST API. The account events feed is read with
// hand-built requests; entity detail fetches go through go-github.
type Client struct {
	baseURL    string
	httpClient *http.Client
	gh         *gogithub.Client
}

type clientOptions struct {
	baseURL string
	timeout time.Duration
}

// Option configures the client
type Option func(*clientOptions)

// WithBaseURL points the client at a different API root (for testing)
func WithBaseURL(baseURL string) Option {
	return func(o *clientOptions) {
		o.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithTimeout bounds every outbound request made by the client
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// NewClient creates a new GitHub API client. An empty token yields an
// unauthenticated client.
func NewClient(token string, opts ...Option) *Client {
	o := clientOptions{
		baseURL: defaultBaseURL,
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	httpClient := &http.Client{}
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}
	httpClient.Timeout = o.timeout

	gh := gogithub.NewClient(httpClient)
	if u, err := url.Parse(o.baseURL + "/"); err == nil {
		gh.BaseURL = u
		gh.UploadURL = u
	}
	gh.UserAgent = userAgent

	return &Client{
		baseURL:    o.baseURL,
		httpClient: httpClient,
		gh:         gh,
	}
}

// doRequest makes an authenticated request to the GitHub API and turns
// transport failures and exhausted rate limits into ProviderErrors
func (c *Client) doRequest(ctx context.Context, op, method, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, wrapError(op, err)
	}

	// Check rate limit
	if isRateLimited(resp) {
		limit := GetRateLimitFromHeaders(resp.Header)
		resp.Body.Close()
		return nil, &ProviderError{
			Op:          op,
			StatusCode:  resp.StatusCode,
			RateLimited: true,
			ResetAt:     limit.Reset,
			Err:         fmt.Errorf("rate limit exceeded, resets at: %s", limit.Reset.Format(time.RFC3339)),
		}
	}

	return resp, nil
}

func isRateLimited(resp *http.Response) bool {
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return true
	case http.StatusForbidden:
		return resp.Header.Get("X-RateLimit-Remaining") == "0"
	}
	return false
}

// readAndClose reads the body and closes it. Use in paginated loops
// instead of defer resp.Body.Close() to avoid leaking connections.
func readAndClose(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// readErrorAndClose reads an error body and closes it.
func readErrorAndClose(op string, resp *http.Response) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &ProviderError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Err:        fmt.Errorf("github API error %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
	}
}

// FetchActivityPage fetches one page of the account's public activity feed,
// newest event first. An empty page means the feed is exhausted, which is also
// what a page past the feed window returns.
func (c *Client) FetchActivityPage(ctx context.Context, login string, page, perPage int) ([]RawGitHubEvent, error) {
	const op = "list user events"
	u := fmt.Sprintf("%s/users/%s/events?per_page=%d&page=%d", c.baseURL, url.PathEscape(login), perPage, page)

	resp, err := c.doRequest(ctx, op, http.MethodGet, u)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnprocessableEntity && page > 1 {
		resp.Body.Close()
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, readErrorAndClose(op, resp)
	}

	var events []RawGitHubEvent
	if err := readAndClose(resp, &events); err != nil {
		return nil, &ProviderError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	return events, nil
}

// RateLimit holds GitHub rate limit info
type RateLimit struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// GetRateLimit fetches current rate limit status
func (c *Client) GetRateLimit(ctx context.Context) (*RateLimit, error) {
	const op = "get rate limit"

	resp, err := c.doRequest(ctx, op, http.MethodGet, c.baseURL+"/rate_limit")
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, readErrorAndClose(op, resp)
	}

	var result struct {
		Rate struct {
			Limit     int   `json:"limit"`
			Remaining int   `json:"remaining"`
			Reset     int64 `json:"reset"`
		} `json:"rate"`
	}

	if err := readAndClose(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &RateLimit{
		Limit:     result.Rate.Limit,
		Remaining: result.Rate.Remaining,
		Reset:     time.Unix(result.Rate.Reset, 0),
	}, nil
}

// GetRateLimitFromHeaders extracts rate limit info from response headers
func GetRateLimitFromHeaders(headers http.Header) *RateLimit {
	limit, _ := strconv.Atoi(headers.Get("X-RateLimit-Limit"))
	remaining, _ := strconv.Atoi(headers.Get("X-RateLimit-Remaining"))
	reset, _ := strconv.ParseInt(headers.Get("X-RateLimit-Reset"), 10, 64)

	return &RateLimit{
		Limit:     limit,
		Remaining: remaining,
		Reset:     time.Unix(reset, 0),
	}
}

// splitRepo splits "owner/name"
func splitRepo(fullName string) (string, string, error) {
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("invalid repository name %q", fullName)
	}
	return owner, name, nil
}
