// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bonial-oss/vuln-risk/internal/datasource/epss"
)

func newEPSSCommand(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "epss",
		Short: "Manage stored EPSS data",
	}
	cmd.AddCommand(newEPSSImportCommand(g))
	return cmd
}

func newEPSSImportCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import [file]",
		Short: "Seed the record store from the daily EPSS CSV",
		Long: `import downloads the daily EPSS CSV (falling back to the previous day) and
upserts every score into the record store. With a file argument the CSV,
gzip-compressed or not, is read from disk instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kv, repo, closeDB, err := openStorage(g.cfg)
			if err != nil {
				return fmt.Errorf("opening %s storage: %w", g.cfg.Database.Driver, err)
			}
			defer closeDB()
			defer kv.Close()
			defer repo.Close()

			im := epss.NewImporter(g.cfg.EPSS.BulkURL, repo)
			var snap epss.Snapshot
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("opening EPSS file: %w", err)
				}
				defer f.Close()
				snap, err = im.ImportFile(cmd.Context(), f)
				if err != nil {
					return err
				}
			} else {
				snap, err = im.Import(cmd.Context())
				if err != nil {
					return err
				}
			}

			slog.Info("EPSS scores imported", "count", len(snap.Scores), "date", snap.ScoreDate, "model", snap.ModelVersion)
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d EPSS scores (%s)\n", len(snap.Scores), snap.ScoreDate)
			return nil
		},
	}
}
