// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"unicode/utf8"

	aqtable "github.com/aquasecurity/table"
	"github.com/aquasecurity/tml"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/bonial-oss/vuln-risk/internal/aggregator"
	"github.com/bonial-oss/vuln-risk/internal/risk"
	"github.com/bonial-oss/vuln-risk/internal/types"
)

const maxTitleWords = 12

// TableConfig controls which columns are displayed and how rows are sorted.
type TableConfig struct {
	ShowEPSS       bool
	ShowKEV        bool
	SortBy         string // "risk", "epss", "severity", "cve", "" (preserve order)
	HideSuppressed bool   // exclude suppressed vulnerabilities section
	IsTerminal     bool   // true when output goes to a terminal (enables ANSI styling)
}

// IsOutputToTerminal returns true if the writer is stdout connected to a
// character device (TTY). Matching Trivy's behavior, returns false on Windows.
func IsOutputToTerminal(output io.Writer) bool {
	return output == os.Stdout && term.IsTerminal(int(os.Stdout.Fd()))
}

// vulnRow holds a reference to a vulnerability for table rendering.
type vulnRow struct {
	vuln  *types.EnrichedVulnerability
	index int // original index for stable sort
}

// WriteTable writes an aggregation response as one table per workload,
// grouped by team.
func WriteTable(w io.Writer, resp *types.AggregationResponse, cfg TableConfig) error {
	first := true
	for ti := range resp.Teams {
		team := &resp.Teams[ti]
		for wi := range team.Workloads {
			wl := &team.Workloads[wi]

			var open, suppressed []vulnRow
			for j := range wl.Vulnerabilities {
				row := vulnRow{vuln: &wl.Vulnerabilities[j], index: j}
				if row.vuln.Suppressed {
					suppressed = append(suppressed, row)
				} else {
					open = append(open, row)
				}
			}
			if cfg.HideSuppressed {
				suppressed = nil
			}
			if len(open) == 0 && len(suppressed) == 0 {
				continue
			}

			if !first {
				fmt.Fprintln(w)
			}
			first = false

			writeWorkloadHeader(w, team.Team, wl, open, cfg.IsTerminal)

			if len(open) > 0 {
				sortRows(open, cfg.SortBy)
				writeVulnTable(w, open, cfg)
			}
			if len(suppressed) > 0 {
				sortRows(suppressed, cfg.SortBy)
				writeSuppressedSection(w, suppressed, cfg)
			}
		}
	}

	if first {
		writeVulnTable(w, nil, cfg)
	}

	return nil
}

// writeWorkloadHeader writes "team/workload (environment)" with the exposure
// and a severity summary of the open findings.
func writeWorkloadHeader(w io.Writer, team string, wl *types.WorkloadVulnerabilities, open []vulnRow, isTerminal bool) {
	target := team + "/" + wl.Workload
	if wl.Environment != "" {
		target = fmt.Sprintf("%s (%s)", target, wl.Environment)
	}
	if isTerminal {
		_ = tml.Fprintf(w, "<underline><bold>%s</bold></underline>\n", target)
	} else {
		fmt.Fprintln(w, target)
		fmt.Fprintln(w, strings.Repeat("=", utf8.RuneCountInString(target)))
	}
	exposure := "none"
	if len(wl.ExposureTypes) > 0 {
		exposure = strings.Join(wl.ExposureTypes, ", ")
	}
	fmt.Fprintf(w, "Exposure: %s\n", exposure)
	fmt.Fprintln(w, severitySummary(open))
	fmt.Fprintln(w)
}

// newTableWriter creates a table writer with the standard configuration
// matching Trivy's output format: borders, auto-merge, and row separators.
// When isTerminal is true, header and line styles use ANSI formatting.
func newTableWriter(w io.Writer, isTerminal bool) *aqtable.Table {
	tw := aqtable.New(w)
	if isTerminal {
		tw.SetHeaderStyle(aqtable.StyleBold)
		tw.SetLineStyle(aqtable.StyleDim)
	}
	tw.SetBorders(true)
	tw.SetAutoMerge(true)
	tw.SetRowLines(true)
	return tw
}

// writeVulnTable renders a vulnerability table using aquasecurity/table.
func writeVulnTable(w io.Writer, rows []vulnRow, cfg TableConfig) {
	tw := newTableWriter(w, cfg.IsTerminal)
	tw.SetHeaders(headerNames(cfg)...)
	for _, row := range rows {
		tw.AddRow(rowCells(row.vuln, cfg)...)
	}
	tw.Render()
}

// writeSuppressedSection renders the suppressed vulnerabilities header and table.
func writeSuppressedSection(w io.Writer, rows []vulnRow, cfg TableConfig) {
	title := fmt.Sprintf("Suppressed Vulnerabilities (Total: %d)", len(rows))
	if cfg.IsTerminal {
		_ = tml.Fprintf(w, "\n<underline>%s</underline>\n\n", title)
	} else {
		fmt.Fprintf(w, "\n%s\n", title)
		fmt.Fprintf(w, "%s\n", strings.Repeat("=", utf8.RuneCountInString(title)))
	}
	writeVulnTable(w, rows, cfg)
}

// headerNames returns column header names based on config.
func headerNames(cfg TableConfig) []string {
	cols := []string{"Library", "Vulnerability", "Severity", "Installed Version", "Fixed Version", "Title", "Risk"}
	if cfg.ShowEPSS {
		cols = append(cols, "EPSS", "EPSS %ile")
	}
	if cfg.ShowKEV {
		cols = append(cols, "KEV")
	}
	return cols
}

// rowCells returns the cell values for a single vulnerability row.
func rowCells(v *types.EnrichedVulnerability, cfg TableConfig) []string {
	severity := v.Severity
	if cfg.IsTerminal {
		severity = colorizeSeverity(severity)
	}
	cols := []string{
		v.PkgName,
		v.ID,
		severity,
		v.InstalledVersion,
		v.FixedVersion,
		titleWithURL(v, cfg.IsTerminal),
		formatRisk(v),
	}
	if cfg.ShowEPSS {
		cols = append(cols, formatEPSSScore(v), formatEPSSPercentile(v))
	}
	if cfg.ShowKEV {
		cols = append(cols, formatKEV(v))
	}
	return cols
}

// severitySummary returns a line like:
// Total: 5 (UNKNOWN: 0, LOW: 2, MEDIUM: 1, HIGH: 1, CRITICAL: 1)
func severitySummary(rows []vulnRow) string {
	counts := map[string]int{
		"UNKNOWN":  0,
		"LOW":      0,
		"MEDIUM":   0,
		"HIGH":     0,
		"CRITICAL": 0,
	}
	for _, r := range rows {
		sev := strings.ToUpper(r.vuln.Severity)
		if _, ok := counts[sev]; ok {
			counts[sev]++
		} else {
			counts["UNKNOWN"]++
		}
	}
	return fmt.Sprintf("Total: %d (UNKNOWN: %d, LOW: %d, MEDIUM: %d, HIGH: %d, CRITICAL: %d)",
		len(rows), counts["UNKNOWN"], counts["LOW"], counts["MEDIUM"], counts["HIGH"], counts["CRITICAL"])
}

// severityColors maps severity names to color functions matching Trivy's palette.
var severityColors = map[string]func(a ...any) string{
	"UNKNOWN":  color.New(color.FgCyan).SprintFunc(),
	"LOW":      color.New(color.FgBlue).SprintFunc(),
	"MEDIUM":   color.New(color.FgYellow).SprintFunc(),
	"HIGH":     color.New(color.FgHiRed).SprintFunc(),
	"CRITICAL": color.New(color.FgRed).SprintFunc(),
}

// colorizeSeverity returns the severity string wrapped in ANSI color codes.
func colorizeSeverity(severity string) string {
	if fn, ok := severityColors[strings.ToUpper(severity)]; ok {
		return fn(severity)
	}
	return severity
}

// sortRows sorts the vulnerability rows based on the given sort key.
func sortRows(rows []vulnRow, sortBy string) {
	switch sortBy {
	case "risk":
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].vuln.RiskScore() > rows[j].vuln.RiskScore()
		})
	case "epss":
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].vuln.EPSSScore() > rows[j].vuln.EPSSScore()
		})
	case "severity":
		sort.SliceStable(rows, func(i, j int) bool {
			return types.SeverityRank(rows[i].vuln.Severity) > types.SeverityRank(rows[j].vuln.Severity)
		})
	case "cve":
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].vuln.ID < rows[j].vuln.ID
		})
	default:
		// preserve original order
	}
}

// titleWithURL builds the Title cell content: truncates the title to
// maxTitleWords words (matching Trivy) and appends PrimaryURL on a new line.
// When isTerminal is true, the URL is colored blue.
func titleWithURL(v *types.EnrichedVulnerability, isTerminal bool) string {
	title := truncateWords(v.Title, maxTitleWords)
	url := v.PrimaryURL
	if url != "" {
		if isTerminal {
			url = tml.Sprintf("<blue>%s</blue>", url)
		}
		if title != "" {
			return title + "\n" + url
		}
		return url
	}
	return title
}

// truncateWords limits text to maxWords words, appending "..." if truncated.
func truncateWords(text string, maxWords int) string {
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return text
	}
	return strings.Join(words[:maxWords], " ") + "..."
}

// formatRisk formats the risk score or returns "-" if unscored.
func formatRisk(v *types.EnrichedVulnerability) string {
	if v.VulnPrio.Risk != nil {
		return fmt.Sprintf("%.1f", v.VulnPrio.Risk.Score)
	}
	return "-"
}

// formatEPSSScore formats the EPSS score or returns "-" if nil.
func formatEPSSScore(v *types.EnrichedVulnerability) string {
	if v.VulnPrio.EPSS != nil && v.VulnPrio.EPSS.Score != nil {
		return fmt.Sprintf("%.2f", *v.VulnPrio.EPSS.Score)
	}
	return "-"
}

// formatEPSSPercentile formats the EPSS percentile (0-1 scaled to 0-100) or returns "-" if nil.
func formatEPSSPercentile(v *types.EnrichedVulnerability) string {
	if v.VulnPrio.EPSS != nil && v.VulnPrio.EPSS.Percentile != nil {
		return fmt.Sprintf("%.1f", *v.VulnPrio.EPSS.Percentile*100)
	}
	return "-"
}

// formatKEV returns "YES" if the vulnerability is in the KEV catalog, "NO" otherwise.
func formatKEV(v *types.EnrichedVulnerability) string {
	if v.InKEV() {
		return "YES"
	}
	return "NO"
}

// WriteSummaryTable renders a summary as two tables: the counters and the
// top risks.
func WriteSummaryTable(w io.Writer, s aggregator.Summary, isTerminal bool) error {
	tw := newTableWriter(w, isTerminal)
	tw.SetAutoMerge(false)
	tw.SetHeaders("Metric", "Value")
	tw.AddRow("KEV catalog", s.KEVCatalogVersion)
	tw.AddRow("Teams", fmt.Sprint(s.Teams))
	tw.AddRow("Workloads", fmt.Sprint(s.Workloads))
	tw.AddRow("Vulnerabilities", fmt.Sprint(s.Vulnerabilities))
	for _, sev := range []string{"CRITICAL", "HIGH", "MEDIUM", "LOW"} {
		tw.AddRow("  "+sev, fmt.Sprint(s.BySeverity[sev]))
	}
	tw.AddRow("KEV listed", fmt.Sprint(s.KEVListed))
	tw.AddRow("EPSS >= 0.1", fmt.Sprint(s.HighEPSS))
	tw.AddRow("Suppressed", fmt.Sprint(s.Suppressed))
	tw.Render()

	if len(s.TopRisks) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw = newTableWriter(w, isTerminal)
	tw.SetAutoMerge(false)
	tw.SetHeaders("Team", "Workload", "Vulnerability", "Severity", "Risk")
	for _, r := range s.TopRisks {
		severity := r.Severity
		if isTerminal {
			severity = colorizeSeverity(severity)
		}
		tw.AddRow(r.Team, r.Workload, r.ID, severity, fmt.Sprintf("%.1f", r.Score))
	}
	tw.Render()
	return nil
}

// WriteBreakdown renders a scored result with one row per applied factor.
func WriteBreakdown(w io.Writer, r risk.Result, isTerminal bool) error {
	if r.Breakdown == nil {
		fmt.Fprintf(w, "Risk score: %.1f\n", r.Score)
		return nil
	}
	tw := newTableWriter(w, isTerminal)
	tw.SetAutoMerge(false)
	tw.SetHeaders("Factor", "Multiplier", "Contribution", "Impact", "Description")
	for _, e := range r.Breakdown.Explanations {
		tw.AddRow(e.Factor, fmt.Sprintf("%.2f", e.Multiplier), fmt.Sprintf("%+.1f", e.Contribution), string(e.Impact), e.Description)
	}
	tw.Render()
	fmt.Fprintf(w, "Risk score: %.1f\n", r.Breakdown.TotalScore)
	return nil
}
