// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

// Package inventory reads the workload inventory: which team owns which
// workload, who belongs to which team, how each workload is exposed and
// where its latest Trivy report lives.
package inventory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/bonial-oss/vuln-risk/internal/aggregator"
	"github.com/bonial-oss/vuln-risk/internal/input"
	"github.com/bonial-oss/vuln-risk/internal/types"
)

// reportWorkers bounds concurrent report reads.
const reportWorkers = 8

// Inventory is the decoded inventory file.
type Inventory struct {
	Teams []Team `yaml:"teams" validate:"dive"`
	// dir resolves relative report paths.
	dir string
}

type Team struct {
	Name      string     `yaml:"name" validate:"required"`
	Members   []string   `yaml:"members"`
	Workloads []Workload `yaml:"workloads" validate:"dive"`
}

type Workload struct {
	Name        string `yaml:"name" validate:"required"`
	Environment string `yaml:"environment"`
	// BuildDate is a date (2006-01-02) or an RFC 3339 timestamp.
	BuildDate string   `yaml:"buildDate"`
	Ingress   []string `yaml:"ingress" validate:"dive,oneof=EXTERNAL AUTHENTICATED INTERNAL"`
	// Report is the path of the workload's Trivy JSON report, relative to
	// the inventory file. Workloads without a report have no findings.
	Report string `yaml:"report"`
}

var validate = validator.New()

// Load reads and validates the inventory at path.
func Load(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading inventory: %w", err)
	}
	inv, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	inv.dir = filepath.Dir(path)
	return inv, nil
}

// Parse decodes and validates inventory YAML. Relative report paths
// resolve against the working directory.
func Parse(data []byte) (*Inventory, error) {
	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("decoding inventory: %w", err)
	}
	if err := validate.Struct(inv); err != nil {
		return nil, fmt.Errorf("invalid inventory: %w", err)
	}

	seenTeams := map[string]bool{}
	for _, team := range inv.Teams {
		if seenTeams[team.Name] {
			return nil, fmt.Errorf("invalid inventory: duplicate team %q", team.Name)
		}
		seenTeams[team.Name] = true

		seen := map[string]bool{}
		for _, w := range team.Workloads {
			if seen[w.Name] {
				return nil, fmt.Errorf("invalid inventory: duplicate workload %q in team %q", w.Name, team.Name)
			}
			seen[w.Name] = true
			if _, err := ParseBuildDate(w.BuildDate); err != nil {
				return nil, fmt.Errorf("invalid inventory: workload %s/%s: %w", team.Name, w.Name, err)
			}
		}
	}
	return &inv, nil
}

// TeamsOf returns the names of the teams user is a member of, sorted.
func (inv *Inventory) TeamsOf(user string) []string {
	var out []string
	for _, team := range inv.Teams {
		if slices.Contains(team.Members, user) {
			out = append(out, team.Name)
		}
	}
	slices.Sort(out)
	return out
}

// inScope returns the teams selected by scope.
func (inv *Inventory) inScope(scope aggregator.Scope) []Team {
	teams := inv.Teams
	if scope.User != "" {
		mine := inv.TeamsOf(scope.User)
		teams = lo.Filter(teams, func(t Team, _ int) bool { return slices.Contains(mine, t.Name) })
	}
	if len(scope.Teams) > 0 {
		teams = lo.Filter(teams, func(t Team, _ int) bool { return slices.Contains(scope.Teams, t.Name) })
	}
	return teams
}

// Workloads loads the reports of every workload in scope. Reports are read
// concurrently; any unreadable report fails the call.
func (inv *Inventory) Workloads(ctx context.Context, scope aggregator.Scope) ([]types.Workload, error) {
	var refs []workloadRef
	for _, team := range inv.inScope(scope) {
		for _, w := range team.Workloads {
			refs = append(refs, workloadRef{team: team.Name, w: w})
		}
	}

	out := make([]types.Workload, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reportWorkers)
	for i, ref := range refs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			w, err := inv.load(ref)
			if err != nil {
				return err
			}
			out[i] = w
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Exposure returns the declared ingress types of every workload in scope.
func (inv *Inventory) Exposure(_ context.Context, scope aggregator.Scope) (map[string][]string, error) {
	out := map[string][]string{}
	for _, team := range inv.inScope(scope) {
		for _, w := range team.Workloads {
			key := types.Workload{Team: team.Name, Name: w.Name}.Key()
			out[key] = lo.Ternary(w.Ingress == nil, []string{}, w.Ingress)
		}
	}
	return out, nil
}

type workloadRef struct {
	team string
	w    Workload
}

func (inv *Inventory) load(ref workloadRef) (types.Workload, error) {
	// Parse already validated the date.
	buildDate, _ := ParseBuildDate(ref.w.BuildDate)
	w := types.Workload{
		Team:         ref.team,
		Name:         ref.w.Name,
		Environment:  ref.w.Environment,
		BuildDate:    buildDate,
		IngressTypes: ref.w.Ingress,
	}
	if ref.w.Report == "" {
		return w, nil
	}

	path := ref.w.Report
	if !filepath.IsAbs(path) {
		path = filepath.Join(inv.dir, path)
	}
	report, err := input.ReadFile(path)
	if err != nil {
		return types.Workload{}, fmt.Errorf("workload %s: %w", w.Key(), err)
	}
	w.Records = input.Records(report)
	return w, nil
}

// ParseBuildDate accepts a date (2006-01-02) or an RFC 3339 timestamp. An
// empty string yields nil.
func ParseBuildDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("buildDate %q is neither a date nor an RFC 3339 timestamp", s)
}

// Static serves a fixed set of workloads, e.g. one report read from stdin.
// Scope is ignored.
type Static []types.Workload

func (s Static) Workloads(context.Context, aggregator.Scope) ([]types.Workload, error) {
	return slices.Clone(s), nil
}

func (s Static) Exposure(context.Context, aggregator.Scope) (map[string][]string, error) {
	return map[string][]string{}, nil
}
