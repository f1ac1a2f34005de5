// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bonial-oss/vuln-risk/internal/aggregator"
	"github.com/bonial-oss/vuln-risk/internal/inventory"
)

func newReportCommand(g *globalOptions) *cobra.Command {
	var (
		opts          reportOptions
		inventoryPath string
		user          string
		teams         []string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Aggregate the findings of every inventoried workload",
		Long: `report loads the workload inventory, reads each workload's Trivy report and
prints the enriched findings grouped by team and workload. --user limits the
report to the user's teams, --team narrows it further.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			inv, err := loadInventory(g, inventoryPath)
			if err != nil {
				return err
			}

			svc, err := openServices(g.cfg, opts.SkipDBUpdate)
			if err != nil {
				return err
			}
			defer svc.Close()

			agg := aggregator.New(inv, svc.kev, svc.epss, svc.engine, opts.aggregatorOptions()...)
			resp, err := agg.Aggregate(cmd.Context(), aggregator.Scope{User: user, Teams: teams}, opts.filter())
			if err != nil {
				return fmt.Errorf("aggregating findings: %w", err)
			}
			return opts.write(cmd, resp, true, true)
		},
	}

	opts.addFlags(cmd)
	flags := cmd.Flags()
	flags.StringVar(&inventoryPath, "inventory", "", "Workload inventory file (overrides config)")
	flags.StringVar(&user, "user", "", "Only report the teams this user belongs to")
	flags.StringSliceVar(&teams, "team", nil, "Only report the named teams")
	return cmd
}

// loadInventory reads the inventory named by the flag or the config.
func loadInventory(g *globalOptions, path string) (*inventory.Inventory, error) {
	if path == "" {
		path = g.cfg.Inventory
	}
	if path == "" {
		return nil, &ExitError{Code: 2, Message: "no inventory configured, pass --inventory or set inventory in the config"}
	}
	inv, err := inventory.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading inventory: %w", err)
	}
	return inv, nil
}
