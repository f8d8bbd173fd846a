// Package sonar talks to a SonarQube server: it runs the scanner against a
// checkout and reads back the resulting project measures.
package sonar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	measuresPath   = "api/measures/component"
	defaultTimeout = 60 * time.Second
)

// MetricKeys are the measures read for every snapshot, in output order.
var MetricKeys = []string{
	"code_smells",
	"sqale_debt_ratio",
	"complexity",
	"duplicated_lines_density",
	"sqale_rating",
	"sqale_index",
}

// ErrProjectNotFound is returned when the server has no such component.
var ErrProjectNotFound = errors.New("sonar project not found")

// Client reads measures from the SonarQube web API.
type Client struct {
	httpClient *http.Client
	hostURL    string
	token      string
	logger     *slog.Logger
}

// NewClient creates a client for hostURL authenticating with token.
func NewClient(hostURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		hostURL: strings.TrimRight(hostURL, "/"),
		token:   token,
		logger:  logger,
	}
}

// HostURL returns the server address without a trailing slash.
func (c *Client) HostURL() string {
	return c.hostURL
}

type measuresResponse struct {
	Component struct {
		Key      string `json:"key"`
		Measures []struct {
			Metric string `json:"metric"`
			Value  string `json:"value"`
		} `json:"measures"`
	} `json:"component"`
}

// Measures returns the MetricKeys values of a project. Metrics the server
// does not report are absent from the map.
func (c *Client) Measures(ctx context.Context, projectKey string) (map[string]string, error) {
	q := url.Values{}
	q.Set("component", projectKey)
	q.Set("metricKeys", strings.Join(MetricKeys, ","))
	endpoint := c.hostURL + "/" + measuresPath + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Tokens go in the user field with an empty password.
	req.SetBasicAuth(c.token, "")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request to %s: %w", c.hostURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, projectKey)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d for URL %s: %s", resp.StatusCode, endpoint, resp.Status)
	}

	var response measuresResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	out := make(map[string]string, len(response.Component.Measures))
	for _, m := range response.Component.Measures {
		out[m.Metric] = m.Value
	}

	c.logger.Debug("sonar measures", "project", projectKey, "metrics", len(out))
	return out, nil
}
