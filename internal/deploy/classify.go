// Package deploy derives delivery proxies: CD workflow outcomes, release
// frequency and time from merge to release.
package deploy

import (
	"fmt"
	"regexp"
	"strings"
)

// Classifier flags workflow names that look like delivery pipelines. It is a
// name heuristic, not ground truth.
type Classifier struct {
	pattern *regexp.Regexp
}

// NewClassifier compiles the patterns into one case-insensitive alternation.
// With no patterns nothing is classified as CD.
func NewClassifier(patterns []string) (*Classifier, error) {
	if len(patterns) == 0 {
		return &Classifier{}, nil
	}

	groups := make([]string, len(patterns))
	for i, p := range patterns {
		groups[i] = "(?:" + p + ")"
	}

	re, err := regexp.Compile("(?i)" + strings.Join(groups, "|"))
	if err != nil {
		return nil, fmt.Errorf("invalid CD workflow patterns: %w", err)
	}
	return &Classifier{pattern: re}, nil
}

// IsCD reports whether name matches any pattern.
func (c *Classifier) IsCD(name string) bool {
	if c.pattern == nil || name == "" {
		return false
	}
	return c.pattern.MatchString(name)
}
