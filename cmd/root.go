// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bonial-oss/vuln-risk/internal/config"
	"github.com/bonial-oss/vuln-risk/internal/logging"
)

// Version is set at build time via ldflags.
var Version = "dev"

// ExitError signals a non-zero exit code with an optional message.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string { return e.Message }

// errPolicyViolation is returned when --fail-on-* flags match a finding.
var errPolicyViolation = &ExitError{Code: 1, Message: "policy violation detected"}

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	ConfigPath string
	LogLevel   string
	CacheDir   string

	cfg config.Config
}

// NewRootCommand creates the root cobra command with all subcommands.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:     "vuln-risk",
		Short:   "Prioritize container vulnerabilities with EPSS scores, KEV status, and risk ratings",
		Version: Version,
		Long: `vuln-risk aggregates Trivy vulnerability reports per team and workload and
enriches each finding with EPSS probability scores, CISA Known Exploited
Vulnerabilities (KEV) status, and a composite risk score.

Usage:
  vuln-risk report --inventory inventory.yaml --user alice
  trivy image -f json alpine:latest | vuln-risk enrich --format table
  vuln-risk serve --inventory inventory.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.ConfigPath, "config", "", "Path to a YAML config file")
	flags.StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&opts.CacheDir, "cache-dir", "", "Override cache directory")

	cmd.AddCommand(
		newReportCommand(opts),
		newEnrichCommand(opts),
		newScoreCommand(opts),
		newServeCommand(opts),
		newEPSSCommand(opts),
		newCacheCommand(opts),
	)
	return cmd
}

// load builds the configuration and installs the logger. Flags win over
// the config file and the environment.
func (o *globalOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return &ExitError{Code: 2, Message: err.Error()}
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.CacheDir != "" {
		// A sqlite database derived from the old cache dir follows it.
		if cfg.Database.Driver == "sqlite" && cfg.Database.DSN == filepath.Join(cfg.CacheDir, "vuln-risk.db") {
			cfg.Database.DSN = filepath.Join(o.CacheDir, "vuln-risk.db")
		}
		cfg.CacheDir = o.CacheDir
	}
	if err := config.Validate(cfg); err != nil {
		return &ExitError{Code: 2, Message: err.Error()}
	}

	logging.Init(cmd.ErrOrStderr(), cfg.Log.Level)
	o.cfg = cfg
	return nil
}
