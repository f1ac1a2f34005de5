// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bonial-oss/vuln-risk/internal/inventory"
	"github.com/bonial-oss/vuln-risk/internal/output"
	"github.com/bonial-oss/vuln-risk/internal/risk"
)

func newScoreCommand(g *globalOptions) *cobra.Command {
	var (
		rc        risk.Context
		buildDate string
		format    string
	)

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a single vulnerability context and explain the result",
		Example: `  vuln-risk score --severity CRITICAL --ingress EXTERNAL --kev --epss 0.97
  vuln-risk score --severity HIGH --environment prod-eu --build-date 2025-01-01 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			built, err := inventory.ParseBuildDate(buildDate)
			if err != nil {
				return &ExitError{Code: 2, Message: err.Error()}
			}
			rc.BuildDate = built

			result := risk.NewEngine(g.cfg.Risk).CalculateRiskScoreWithBreakdown(rc)
			w := cmd.OutOrStdout()
			switch format {
			case "json":
				return output.WriteJSON(w, result)
			case "table":
				return output.WriteBreakdown(w, result, output.IsOutputToTerminal(w))
			default:
				return &ExitError{Code: 2, Message: fmt.Sprintf("unsupported output format: %s", format)}
			}
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&rc.Severity, "severity", "", "Vulnerability severity")
	flags.StringSliceVar(&rc.IngressTypes, "ingress", nil, "Ingress types: EXTERNAL, AUTHENTICATED, INTERNAL")
	flags.BoolVar(&rc.InKEV, "kev", false, "The CVE is listed in KEV")
	flags.StringVar(&rc.EPSSScore, "epss", "", "EPSS probability, e.g. 0.42")
	flags.BoolVar(&rc.Suppressed, "suppressed", false, "The finding is suppressed")
	flags.StringVar(&rc.Environment, "environment", "", "Deployment environment, e.g. prod-eu")
	flags.StringVar(&buildDate, "build-date", "", "Image build date (2006-01-02 or RFC 3339)")
	flags.BoolVar(&rc.HasExploitReference, "exploit-reference", false, "A public exploit is referenced")
	flags.BoolVar(&rc.PatchAvailable, "patch-available", false, "A fixed version exists")
	flags.StringVar(&format, "format", "table", "Output format: table, json")
	_ = cmd.MarkFlagRequired("severity")
	return cmd
}
