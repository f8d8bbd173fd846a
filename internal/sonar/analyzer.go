package sonar

import (
	"context"
	"fmt"
)

// Analyzer scans a checkout and then reads the measures the scan produced.
type Analyzer struct {
	Scanner *Scanner
	Client  *Client
}

// NewAnalyzer wires a scanner and a measures client to the same server.
func NewAnalyzer(client *Client, token string) *Analyzer {
	return &Analyzer{
		Scanner: &Scanner{HostURL: client.HostURL(), Token: token},
		Client:  client,
	}
}

// Measure runs the scanner in dir and returns the project's measures.
func (a *Analyzer) Measure(ctx context.Context, dir, projectKey string) (map[string]string, error) {
	if err := a.Scanner.Scan(ctx, dir, projectKey); err != nil {
		return nil, err
	}
	measures, err := a.Client.Measures(ctx, projectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read measures for %s: %w", projectKey, err)
	}
	return measures, nil
}
