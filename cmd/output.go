// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bonial-oss/vuln-risk/internal/aggregator"
	"github.com/bonial-oss/vuln-risk/internal/output"
	"github.com/bonial-oss/vuln-risk/internal/types"
)

// reportOptions are the filter, policy and rendering flags shared by
// report and enrich.
type reportOptions struct {
	Format              string
	Output              string
	EPSSThreshold       float64
	KEVOnly             bool
	MinSeverity         string
	FailOnKEV           bool
	FailOnEPSSThreshold float64
	SortBy              string
	HideSuppressed      bool
	Breakdown           bool
	SkipDBUpdate        bool
}

func (o *reportOptions) addFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&o.Format, "format", "json", "Output format: json, table, summary")
	flags.StringVarP(&o.Output, "output", "o", "", "Write to file instead of stdout")
	flags.Float64Var(&o.EPSSThreshold, "epss-threshold", 0, "Only show vulns with EPSS score >= value")
	flags.BoolVar(&o.KEVOnly, "kev-only", false, "Only show vulns present in KEV")
	flags.StringVar(&o.MinSeverity, "min-severity", "", "Only show vulns at or above severity")
	flags.BoolVar(&o.FailOnKEV, "fail-on-kev", false, "Exit code 1 if any KEV vuln found")
	flags.Float64Var(&o.FailOnEPSSThreshold, "fail-on-epss-threshold", 0, "Exit code 1 if any vuln has EPSS >= value")
	flags.StringVar(&o.SortBy, "sort-by", "risk", "Sort table by: risk, epss, severity, cve")
	flags.BoolVar(&o.HideSuppressed, "hide-suppressed", false, "Omit the suppressed section of the table")
	flags.BoolVar(&o.Breakdown, "breakdown", false, "Include the per-factor risk breakdown in JSON output")
	flags.BoolVar(&o.SkipDBUpdate, "skip-db-update", false, "Use cached data without update check")
}

func (o *reportOptions) validate() error {
	switch o.Format {
	case "json", "table", "summary":
	default:
		return &ExitError{Code: 2, Message: fmt.Sprintf("unsupported output format: %s", o.Format)}
	}
	if o.EPSSThreshold < 0 || o.EPSSThreshold > 1 {
		return &ExitError{Code: 2, Message: "--epss-threshold must be between 0 and 1"}
	}
	if o.FailOnEPSSThreshold < 0 || o.FailOnEPSSThreshold > 1 {
		return &ExitError{Code: 2, Message: "--fail-on-epss-threshold must be between 0 and 1"}
	}
	if o.MinSeverity != "" && types.SeverityRank(o.MinSeverity) == 0 {
		return &ExitError{Code: 2, Message: fmt.Sprintf("unknown severity: %s", o.MinSeverity)}
	}
	return nil
}

func (o *reportOptions) filter() aggregator.Filter {
	return aggregator.Filter{
		EPSSThreshold: o.EPSSThreshold,
		KEVOnly:       o.KEVOnly,
		MinSeverity:   strings.ToUpper(o.MinSeverity),
	}
}

func (o *reportOptions) policy() aggregator.Policy {
	return aggregator.Policy{
		FailOnKEV:           o.FailOnKEV,
		FailOnEPSSThreshold: o.FailOnEPSSThreshold,
	}
}

func (o *reportOptions) aggregatorOptions() []aggregator.Option {
	if o.Breakdown {
		return []aggregator.Option{aggregator.WithBreakdown()}
	}
	return nil
}

// write renders resp in the selected format and evaluates the policy.
func (o *reportOptions) write(cmd *cobra.Command, resp *types.AggregationResponse, showEPSS, showKEV bool) error {
	var w io.Writer
	if o.Output != "" && o.Output != "-" {
		f, err := os.Create(o.Output)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		w = f
	} else {
		w = cmd.OutOrStdout()
	}

	switch o.Format {
	case "json":
		if err := output.WriteJSON(w, resp); err != nil {
			return err
		}
	case "table":
		tableCfg := output.TableConfig{
			ShowEPSS:       showEPSS,
			ShowKEV:        showKEV,
			SortBy:         o.SortBy,
			HideSuppressed: o.HideSuppressed,
			IsTerminal:     output.IsOutputToTerminal(w),
		}
		if err := output.WriteTable(w, resp, tableCfg); err != nil {
			return err
		}
	case "summary":
		if err := output.WriteSummaryTable(w, aggregator.Summarize(resp), output.IsOutputToTerminal(w)); err != nil {
			return err
		}
	}

	if o.policy().Violated(resp) {
		return errPolicyViolation
	}
	return nil
}
