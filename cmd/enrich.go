// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bonial-oss/vuln-risk/internal/aggregator"
	"github.com/bonial-oss/vuln-risk/internal/input"
	"github.com/bonial-oss/vuln-risk/internal/inventory"
)

func newEnrichCommand(g *globalOptions) *cobra.Command {
	var (
		opts        reportOptions
		noEPSS      bool
		noKEV       bool
		team        string
		workload    string
		environment string
		ingress     []string
		buildDate   string
	)

	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Enrich a single Trivy JSON report read from stdin",
		Long: `enrich reads a Trivy JSON report from stdin and scores it as one workload.

Usage:
  trivy image -f json alpine:latest | vuln-risk enrich
  trivy image -f json app:1.2 | vuln-risk enrich --ingress EXTERNAL --environment prod-eu --format table`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			built, err := inventory.ParseBuildDate(buildDate)
			if err != nil {
				return &ExitError{Code: 2, Message: err.Error()}
			}

			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			if len(data) == 0 {
				return &ExitError{Code: 2, Message: "no input provided on stdin"}
			}
			report, err := input.Parse(data)
			if errors.Is(err, input.ErrSARIF) {
				return &ExitError{Code: 3, Message: err.Error()}
			}
			if err != nil {
				return fmt.Errorf("parsing input: %w", err)
			}

			if workload == "" {
				workload = report.ArtifactName
			}
			source := inventory.Static{{
				Team:         team,
				Name:         workload,
				Environment:  environment,
				BuildDate:    built,
				IngressTypes: ingress,
				Records:      input.Records(report),
			}}

			svc, err := openServices(g.cfg, opts.SkipDBUpdate)
			if err != nil {
				return err
			}
			defer svc.Close()

			// Nil providers disable the enrichment, typed nils would not.
			var kevProvider aggregator.CatalogProvider
			if !noKEV {
				kevProvider = svc.kev
			}
			var epssProvider aggregator.ScoreProvider
			if !noEPSS {
				epssProvider = svc.epss
			}

			agg := aggregator.New(source, kevProvider, epssProvider, svc.engine, opts.aggregatorOptions()...)
			resp, err := agg.Aggregate(cmd.Context(), aggregator.Scope{}, opts.filter())
			if err != nil {
				return fmt.Errorf("enriching report: %w", err)
			}
			return opts.write(cmd, resp, !noEPSS, !noKEV)
		},
	}

	opts.addFlags(cmd)
	flags := cmd.Flags()
	flags.BoolVar(&noEPSS, "no-epss", false, "Disable EPSS enrichment")
	flags.BoolVar(&noKEV, "no-kev", false, "Disable KEV enrichment")
	flags.StringVar(&team, "team", "default", "Team the report is attributed to")
	flags.StringVar(&workload, "workload", "", "Workload name (defaults to the report's artifact name)")
	flags.StringVar(&environment, "environment", "", "Deployment environment, e.g. prod-eu")
	flags.StringSliceVar(&ingress, "ingress", nil, "Ingress types: EXTERNAL, AUTHENTICATED, INTERNAL")
	flags.StringVar(&buildDate, "build-date", "", "Image build date (2006-01-02 or RFC 3339)")
	return cmd
}
