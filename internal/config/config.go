// Package config loads and validates the collector configuration from the
// process environment and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrMissingToken     = errors.New("GITHUB_TOKEN environment variable not set")
	ErrInvalidRepo      = errors.New("invalid repository, use 'owner/repo'")
	ErrNoRepos          = errors.New("no repositories configured")
	ErrInvalidDaysBack  = errors.New("lookback window must be positive")
	ErrInvalidChunkDays = errors.New("workflow window size must be positive")
	ErrInvalidMaxPages  = errors.New("release page limit must be positive")
	ErrInvalidPageSize  = errors.New("page size must be between 1 and 100")
	ErrInvalidFrequency = errors.New("snapshot frequency must be 'monthly' or 'quarterly'")
	ErrInvalidPattern   = errors.New("invalid CD workflow pattern")
	ErrInvalidRate      = errors.New("requests per second must be positive")
)

// Snapshot frequencies.
const (
	FrequencyMonthly   = "monthly"
	FrequencyQuarterly = "quarterly"
)

const maxPageSize = 100

// DefaultCDWorkflowPatterns are matched case-insensitively as substrings of
// workflow names.
var DefaultCDWorkflowPatterns = []string{"deploy", "release", "publish", "delivery", "cd"}

// Config holds all configuration for a collection run.
type Config struct {
	GitHub     GitHubConfig     `mapstructure:"github"`
	Collection CollectionConfig `mapstructure:"collection"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Sonar      SonarConfig      `mapstructure:"sonar"`
	Output     OutputConfig     `mapstructure:"output"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Repos      []string         `mapstructure:"repos"`

	// Repositories is Repos parsed into owner/name pairs.
	Repositories []Repository `mapstructure:"-"`
}

// GitHubConfig holds API endpoints and credentials.
type GitHubConfig struct {
	Token             string  `mapstructure:"token"`
	GraphQLURL        string  `mapstructure:"graphql_url"`
	RESTURL           string  `mapstructure:"rest_url"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// CollectionConfig bounds what the collectors fetch.
type CollectionConfig struct {
	DaysBack        int `mapstructure:"days_back"`
	ChunkDays       int `mapstructure:"chunk_days"`
	PRPageSize      int `mapstructure:"pr_page_size"`
	ReviewPageSize  int `mapstructure:"review_page_size"`
	ReleaseMaxPages int `mapstructure:"release_max_pages"`
}

// MetricsConfig holds the data-cleaning and classification policies.
type MetricsConfig struct {
	CDWorkflowPatterns []string `mapstructure:"cd_workflow_patterns"`
	// CI runs longer than this are almost always missing-timestamp artifacts
	// rather than real builds. Zero disables the cap.
	MaxCIDurationMinutes float64 `mapstructure:"max_ci_duration_minutes"`
}

// SonarConfig configures the optional static-analysis snapshots.
type SonarConfig struct {
	HostURL          string `mapstructure:"host_url"`
	Token            string `mapstructure:"token"`
	Frequency        string `mapstructure:"frequency"`
	ProjectKeyPrefix string `mapstructure:"project_key_prefix"`
	RepoCacheDir     string `mapstructure:"repo_cache_dir"`
}

// OutputConfig holds where tables are written.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Repository is an (owner, name) pair.
type Repository struct {
	Owner string
	Name  string
}

// FullName returns owner/name.
func (r Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

// ParseRepository parses "owner/repo".
func ParseRepository(s string) (Repository, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Repository{}, fmt.Errorf("%w: %q", ErrInvalidRepo, s)
	}
	return Repository{Owner: parts[0], Name: parts[1]}, nil
}

// envBindings maps config keys to the environment variables that set them.
var envBindings = map[string]string{
	"github.token":                    "GITHUB_TOKEN",
	"github.graphql_url":              "GITHUB_GRAPHQL_URL",
	"github.rest_url":                 "GITHUB_REST_URL",
	"github.requests_per_second":      "GITHUB_REQUESTS_PER_SECOND",
	"collection.days_back":            "DAYS_BACK",
	"collection.chunk_days":           "CHUNK_DAYS",
	"collection.pr_page_size":         "PR_PAGE_SIZE",
	"collection.review_page_size":     "REVIEW_PAGE_SIZE",
	"collection.release_max_pages":    "RELEASE_MAX_PAGES",
	"repos":                           "REPOS",
	"metrics.cd_workflow_patterns":    "CD_WORKFLOW_PATTERNS",
	"metrics.max_ci_duration_minutes": "MAX_CI_MINUTES",
	"sonar.host_url":                  "SONAR_HOST_URL",
	"sonar.token":                     "SONAR_TOKEN",
	"sonar.frequency":                 "SONAR_FREQUENCY",
	"sonar.project_key_prefix":        "SONAR_PROJECT_KEY_PREFIX",
	"sonar.repo_cache_dir":            "SONAR_REPO_CACHE_DIR",
	"output.dir":                      "OUTPUT_DIR",
	"logging.level":                   "LOG_LEVEL",
	"logging.format":                  "LOG_FORMAT",
}

// LoadConfig loads configuration from an optional file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	for key, env := range envBindings {
		if err := viperCfg.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
		if err := viperCfg.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config

	if err := viperCfg.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("github.graphql_url", "https://api.github.com/graphql")
	viperCfg.SetDefault("github.rest_url", "https://api.github.com/")
	viperCfg.SetDefault("github.requests_per_second", 5)

	viperCfg.SetDefault("collection.days_back", 750)
	viperCfg.SetDefault("collection.chunk_days", 14)
	viperCfg.SetDefault("collection.pr_page_size", 50)
	viperCfg.SetDefault("collection.review_page_size", 100)
	viperCfg.SetDefault("collection.release_max_pages", 20)

	viperCfg.SetDefault("repos", []string{"prometheus/prometheus", "docker/cli"})

	viperCfg.SetDefault("metrics.cd_workflow_patterns", DefaultCDWorkflowPatterns)
	viperCfg.SetDefault("metrics.max_ci_duration_minutes", 360)

	viperCfg.SetDefault("sonar.frequency", FrequencyMonthly)
	viperCfg.SetDefault("sonar.project_key_prefix", "mscthesis")

	viperCfg.SetDefault("output.dir", "data")

	viperCfg.SetDefault("logging.level", "info")
	viperCfg.SetDefault("logging.format", "text")
}

// validateConfig validates the configuration and fills derived fields.
func validateConfig(config *Config) error {
	if config.Collection.DaysBack <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidDaysBack, config.Collection.DaysBack)
	}

	if config.Collection.ChunkDays <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidChunkDays, config.Collection.ChunkDays)
	}

	if config.Collection.ReleaseMaxPages <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxPages, config.Collection.ReleaseMaxPages)
	}

	for _, size := range []int{config.Collection.PRPageSize, config.Collection.ReviewPageSize} {
		if size <= 0 || size > maxPageSize {
			return fmt.Errorf("%w: %d", ErrInvalidPageSize, size)
		}
	}

	if config.GitHub.RequestsPerSecond <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidRate, config.GitHub.RequestsPerSecond)
	}

	config.Sonar.Frequency = strings.ToLower(config.Sonar.Frequency)
	if config.Sonar.Frequency != FrequencyMonthly && config.Sonar.Frequency != FrequencyQuarterly {
		return fmt.Errorf("%w: %q", ErrInvalidFrequency, config.Sonar.Frequency)
	}

	for _, p := range config.Metrics.CDWorkflowPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("%w %q: %v", ErrInvalidPattern, p, err)
		}
	}

	config.Repositories = config.Repositories[:0]
	for _, s := range config.Repos {
		if strings.TrimSpace(s) == "" {
			continue
		}
		repo, err := ParseRepository(s)
		if err != nil {
			return err
		}
		config.Repositories = append(config.Repositories, repo)
	}
	if len(config.Repositories) == 0 {
		return ErrNoRepos
	}

	if config.Sonar.RepoCacheDir == "" {
		config.Sonar.RepoCacheDir = config.Output.Dir + "/repos"
	}

	return nil
}

// RequireToken fails when no GitHub credential is configured. Collection
// calls it before any network activity.
func (c *Config) RequireToken() error {
	if strings.TrimSpace(c.GitHub.Token) == "" {
		return ErrMissingToken
	}
	return nil
}

// Since returns the lookback horizon relative to now.
func (c *Config) Since(now time.Time) time.Time {
	return now.UTC().Add(-time.Duration(c.Collection.DaysBack) * 24 * time.Hour)
}

// MaxCIDuration returns the CI duration cap, or zero when disabled.
func (c *Config) MaxCIDuration() time.Duration {
	return time.Duration(c.Metrics.MaxCIDurationMinutes * float64(time.Minute))
}

// SonarEnabled reports whether the snapshot stage has a host and a token.
func (c *Config) SonarEnabled() bool {
	return c.Sonar.HostURL != "" && c.Sonar.Token != ""
}
