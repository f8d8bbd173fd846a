package sonar

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// DefaultScanner is the scanner executable looked up on PATH.
const DefaultScanner = "sonar-scanner"

// Scanner runs the SonarQube scanner CLI in a working tree.
type Scanner struct {
	// Binary is the executable to run; DefaultScanner when empty.
	Binary  string
	HostURL string
	Token   string
}

// Args returns the scanner arguments for projectKey.
func (s *Scanner) Args(projectKey string) []string {
	return []string{
		"-Dsonar.projectKey=" + projectKey,
		"-Dsonar.sources=.",
		"-Dsonar.host.url=" + s.HostURL,
		"-Dsonar.login=" + s.Token,
	}
}

// Scan analyses the tree at dir under projectKey and blocks until the
// scanner exits.
func (s *Scanner) Scan(ctx context.Context, dir, projectKey string) error {
	binary := s.Binary
	if binary == "" {
		binary = DefaultScanner
	}

	cmd := exec.CommandContext(ctx, binary, s.Args(projectKey)...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed for %s: %w\nstdout:\n%s\nstderr:\n%s",
			binary, projectKey, err, strings.TrimSpace(stdout.String()), strings.TrimSpace(stderr.String()))
	}
	return nil
}
