package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/cairnstore/cairn/pkg/catalog"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Describe a snapshot catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := catalog.Open(flags.catalog)
		if err != nil {
			return err
		}
		defer cat.Close()

		ctx := context.Background()
		desc, err := cat.Descriptor(ctx)
		if err != nil {
			return err
		}
		stats, err := cat.Stats(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "catalog:     %s\n", desc.ID)
		if desc.Name != "" {
			fmt.Fprintf(out, "name:        %s\n", desc.Name)
		}
		fmt.Fprintf(out, "machine:     %s\n", desc.MachineID)
		fmt.Fprintf(out, "tree hash:   %s\n", desc.TreeHash)
		fmt.Fprintf(out, "created:     %s\n", desc.Timestamp.Format(time.RFC3339))
		if desc.SourcePath != "" {
			fmt.Fprintf(out, "source:      %s\n", desc.SourcePath)
		}
		printStats(cmd, stats)
		return nil
	},
}

func init() {
	infoCmd.Flags().StringVar(&flags.catalog, "catalog", "catalog.db", "catalog database to describe")
	rootCmd.AddCommand(infoCmd)
}
