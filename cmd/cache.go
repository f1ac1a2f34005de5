// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bonial-oss/vuln-risk/internal/cache"
	"github.com/bonial-oss/vuln-risk/internal/datasource/epss"
)

func newCacheCommand(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and clear the key/value cache",
	}
	cmd.AddCommand(newCacheClearCommand(g), newCachePurgeCommand(g))
	return cmd
}

func newCacheClearCommand(g *globalOptions) *cobra.Command {
	var prefixes []string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove cached entries by key prefix",
		Long: `clear removes every entry under the given prefixes. Without --prefix the
EPSS batch and individual caches are cleared. Use --prefix circuit to reset
the persisted circuit breakers.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(prefixes) == 0 {
				prefixes = []string{epss.BatchPrefix, epss.IndividualPrefix}
			}
			return withCache(g, func(kv cache.Store) error {
				for _, prefix := range prefixes {
					n, err := kv.ClearPrefix(cmd.Context(), prefix)
					if err != nil {
						return fmt.Errorf("clearing %s: %w", prefix, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %d entries removed\n", prefix, n)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&prefixes, "prefix", nil, "Key prefixes to clear")
	return cmd
}

func newCachePurgeCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Remove expired entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCache(g, func(kv cache.Store) error {
				p, ok := kv.(cache.Purger)
				if !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%s store expires entries on its own\n", g.cfg.Database.Driver)
					return nil
				}
				n, err := p.Purge(cmd.Context())
				if err != nil {
					return fmt.Errorf("purging cache: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d expired entries removed\n", n)
				return nil
			})
		},
	}
}

func withCache(g *globalOptions, fn func(cache.Store) error) error {
	kv, repo, closeDB, err := openStorage(g.cfg)
	if err != nil {
		return fmt.Errorf("opening %s storage: %w", g.cfg.Database.Driver, err)
	}
	defer closeDB()
	defer repo.Close()
	defer kv.Close()
	return fn(kv)
}
