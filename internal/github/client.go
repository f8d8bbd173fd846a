// Package github collects pull requests, workflow runs and releases from the
// GitHub GraphQL and REST APIs.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/reillywatson/velocitystats/internal/runstats"
)

const (
	defaultGraphQLURL = "https://api.github.com/graphql"
	defaultTimeout    = 30 * time.Second

	// maxAttempts includes the first try.
	maxAttempts     = 5
	initialInterval = 2 * time.Second
	maxInterval     = 30 * time.Second

	defaultRequestsPerSecond = 5
)

// Endpoint labels used in logs and run metrics.
const (
	EndpointGraphQL      = "graphql"
	EndpointWorkflowRuns = "workflow_runs"
	EndpointReleases     = "releases"
)

// ErrCollectionAborted is returned when a request cannot be completed. The
// run must stop rather than continue with partial data.
var ErrCollectionAborted = errors.New("collection aborted")

// API is the subset of GitHub the collectors need.
type API interface {
	Query(ctx context.Context, query string, variables map[string]any, out any) error
	ListWorkflowRuns(ctx context.Context, owner, repo, created string, page, perPage int) (*github.WorkflowRuns, error)
	ListReleases(ctx context.Context, owner, repo string, page, perPage int) ([]*github.RepositoryRelease, error)
}

// QueryError is a GraphQL response that carried an errors payload. The
// request reached the server, so retrying cannot help.
type QueryError struct {
	Errors []GraphQLError
}

// GraphQLError is one entry of a GraphQL errors payload.
type GraphQLError struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

func (e *QueryError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, qe := range e.Errors {
		msgs = append(msgs, qe.Message)
	}
	return "graphql query failed: " + strings.Join(msgs, "; ")
}

// StatusError is a non-200 response from the GraphQL endpoint.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API returned status %d for URL %s", e.StatusCode, e.URL)
}

// Client is a paced, retrying GitHub client. It never caches.
type Client struct {
	rest       *github.Client
	httpClient *http.Client
	graphqlURL string
	limiter    *rate.Limiter
	newBackOff func() backoff.BackOff
	logger     *slog.Logger
	stats      *runstats.Recorder
}

// Option configures a Client.
type Option func(*Client) error

// WithGraphQLURL overrides the GraphQL endpoint.
func WithGraphQLURL(u string) Option {
	return func(c *Client) error {
		if u != "" {
			c.graphqlURL = u
		}
		return nil
	}
}

// WithRESTURL overrides the REST API base URL.
func WithRESTURL(u string) Option {
	return func(c *Client) error {
		if u == "" {
			return nil
		}
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		base, err := url.Parse(u)
		if err != nil {
			return fmt.Errorf("invalid REST URL %q: %w", u, err)
		}
		c.rest.BaseURL = base
		return nil
	}
}

// WithRequestsPerSecond paces requests. Zero or less disables pacing.
func WithRequestsPerSecond(rps float64) Option {
	return func(c *Client) error {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return nil
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		return nil
	}
}

// WithBackOff replaces the retry delay policy.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(c *Client) error {
		c.newBackOff = newBackOff
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// WithRecorder sets the run metrics recorder.
func WithRecorder(stats *runstats.Recorder) Option {
	return func(c *Client) error {
		c.stats = stats
		return nil
	}
}

// NewClient creates a client authenticating with a bearer token.
func NewClient(token string, opts ...Option) (*Client, error) {
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = defaultTimeout

	c := &Client{
		rest:       github.NewClient(tc),
		httpClient: tc,
		graphqlURL: defaultGraphQLURL,
		limiter:    rate.NewLimiter(rate.Limit(defaultRequestsPerSecond), 1),
		newBackOff: DefaultBackOff,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// DefaultBackOff waits min(2^attempt, 30) seconds between attempts.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = maxInterval
	b.MaxElapsedTime = 0
	return b
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors"`
}

// Query posts a GraphQL document and decodes its data field into out.
func (c *Client) Query(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("failed to encode query: %w", err)
	}

	return c.do(ctx, EndpointGraphQL, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to make request to %s: %w", c.graphqlURL, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return &StatusError{StatusCode: resp.StatusCode, URL: c.graphqlURL}
		}

		var envelope graphQLResponse
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		if len(envelope.Errors) > 0 {
			return &QueryError{Errors: envelope.Errors}
		}
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode data: %w", err)
		}
		return nil
	})
}

// ListWorkflowRuns lists one page of a repository's workflow runs created in
// the given "YYYY-MM-DD..YYYY-MM-DD" range.
func (c *Client) ListWorkflowRuns(ctx context.Context, owner, repo, created string, page, perPage int) (*github.WorkflowRuns, error) {
	opts := &github.ListWorkflowRunsOptions{
		Created:     created,
		ListOptions: github.ListOptions{Page: page, PerPage: perPage},
	}

	var runs *github.WorkflowRuns
	err := c.do(ctx, EndpointWorkflowRuns, func() error {
		var err error
		runs, _, err = c.rest.Actions.ListRepositoryWorkflowRuns(ctx, owner, repo, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// ListReleases lists one page of a repository's releases, newest first.
func (c *Client) ListReleases(ctx context.Context, owner, repo string, page, perPage int) ([]*github.RepositoryRelease, error) {
	opts := &github.ListOptions{Page: page, PerPage: perPage}

	var releases []*github.RepositoryRelease
	err := c.do(ctx, EndpointReleases, func() error {
		var err error
		releases, _, err = c.rest.Repositories.ListReleases(ctx, owner, repo, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return releases, nil
}

// do runs op with pacing and retries. Only transport failures are retried.
func (c *Client) do(ctx context.Context, endpoint string, op func() error) error {
	attempt := 0

	operation := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		start := time.Now()
		err := op()
		c.stats.Request(endpoint, time.Since(start), err)
		c.logger.Debug("request attempt", "endpoint", endpoint, "attempt", attempt, "error", err)

		if err != nil && !isTransient(ctx, err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		c.stats.Retry(endpoint)
		c.logger.Warn("request failed, retrying",
			"endpoint", endpoint,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"wait", wait,
			"error", err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), maxAttempts-1), ctx)

	err := backoff.RetryNotify(operation, b, notify)
	if err == nil {
		return nil
	}

	if isTransient(ctx, err) {
		return fmt.Errorf("%w: %s failed after %d attempts: %w", ErrCollectionAborted, endpoint, attempt, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrCollectionAborted, endpoint, err)
}

// isTransient reports whether err is a transport failure worth retrying.
// HTTP status errors, rate limits and GraphQL error payloads are not.
func isTransient(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	var (
		queryErr  *QueryError
		statusErr *StatusError
		respErr   *github.ErrorResponse
		rateErr   *github.RateLimitError
		abuseErr  *github.AbuseRateLimitError
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		urlErr    *url.Error
		netErr    net.Error
	)
	switch {
	case errors.As(err, &queryErr),
		errors.As(err, &statusErr),
		errors.As(err, &respErr),
		errors.As(err, &rateErr),
		errors.As(err, &abuseErr),
		errors.As(err, &syntaxErr),
		errors.As(err, &typeErr):
		return false
	case errors.As(err, &urlErr),
		errors.As(err, &netErr),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return true
	}
	return false
}
