// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bonial-oss/vuln-risk/internal/aggregator"
	"github.com/bonial-oss/vuln-risk/internal/server"
)

func newServeCommand(g *globalOptions) *cobra.Command {
	var (
		inventoryPath string
		addr          string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve aggregation, enrichment lookups and scoring over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			inv, err := loadInventory(g, inventoryPath)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = g.cfg.Server.Addr
			}

			svc, err := openServices(g.cfg, false)
			if err != nil {
				return err
			}
			defer svc.Close()

			agg := aggregator.New(inv, svc.kev, svc.epss, svc.engine, aggregator.WithMetrics(svc.metrics))
			srv := server.New(server.Deps{
				Aggregator: agg,
				Summary:    aggregator.NewSummaryCache(agg, g.cfg.CacheTTL()),
				KEV:        svc.kev,
				EPSS:       svc.epss,
				Engine:     svc.engine,
				Metrics:    svc.metrics,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx, addr)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&inventoryPath, "inventory", "", "Workload inventory file (overrides config)")
	flags.StringVar(&addr, "addr", "", "Listen address (overrides config)")
	return cmd
}
