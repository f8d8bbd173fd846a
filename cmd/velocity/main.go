// Command velocity collects repository telemetry from GitHub and derives
// weekly and monthly velocity and technical-debt tables as CSV files.
//
// Configuration comes from the environment and, optionally, the YAML file
// named by VELOCITY_CONFIG.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/reillywatson/velocitystats/internal/config"
	"github.com/reillywatson/velocitystats/internal/github"
	"github.com/reillywatson/velocitystats/internal/logging"
	"github.com/reillywatson/velocitystats/internal/pipeline"
	"github.com/reillywatson/velocitystats/internal/runstats"
	"github.com/reillywatson/velocitystats/internal/snapshot"
	"github.com/reillywatson/velocitystats/internal/sonar"
	"github.com/reillywatson/velocitystats/internal/store"
)

const configEnv = "VELOCITY_CONFIG"

func main() {
	rootCmd := &cobra.Command{
		Use:   "velocity",
		Short: "Collect GitHub telemetry and derive velocity metrics",
		Long: `velocity collects pull requests, workflow runs and releases for the
configured repositories and writes raw and derived CSV tables.

Commands:
  collect   fetch everything and write raw and derived tables
  derive    rebuild derived tables from the raw tables on disk`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(collectCmd(), deriveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func collectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collect",
		Short: "Collect all repositories and write raw and derived tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if err := cfg.RequireToken(); err != nil {
				return err
			}

			stats := runstats.New()

			client, err := github.NewClient(cfg.GitHub.Token,
				github.WithGraphQLURL(cfg.GitHub.GraphQLURL),
				github.WithRESTURL(cfg.GitHub.RESTURL),
				github.WithRequestsPerSecond(cfg.GitHub.RequestsPerSecond),
				github.WithLogger(logger),
				github.WithRecorder(stats),
			)
			if err != nil {
				return err
			}

			st, err := store.NewFileStore(cfg.Output.Dir)
			if err != nil {
				return err
			}
			defer st.Close()

			opts := []pipeline.Option{pipeline.WithLogger(logger), pipeline.WithRecorder(stats)}
			if cfg.SonarEnabled() {
				analyzer := sonar.NewAnalyzer(sonar.NewClient(cfg.Sonar.HostURL, cfg.Sonar.Token, logger), cfg.Sonar.Token)
				runner := snapshot.NewRunner(snapshot.GitOpener(cfg.Sonar.RepoCacheDir, logger), analyzer, cfg.Sonar, logger)
				opts = append(opts, pipeline.WithSnapshots(runner))
			}

			p, err := pipeline.New(cfg, client, st, opts...)
			if err != nil {
				return err
			}

			manifest, err := p.Collect(commandContext(cmd))
			if err != nil {
				return err
			}

			pipeline.PrintSummary(cmd.OutOrStdout(), manifest)
			return nil
		},
	}
}

func deriveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "derive",
		Short: "Rebuild derived tables from the combined raw tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}

			st, err := store.NewFileStore(cfg.Output.Dir)
			if err != nil {
				return err
			}
			defer st.Close()

			// No API is needed, derive never touches the network.
			p, err := pipeline.New(cfg, nil, st, pipeline.WithLogger(logger))
			if err != nil {
				return err
			}

			names, err := p.Derive(commandContext(cmd))
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Rebuilt %d derived tables in %s\n", len(names), st.Path("derived"))
			return nil
		},
	}
}

func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig(os.Getenv(configEnv))
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)

	return cfg, logger, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
