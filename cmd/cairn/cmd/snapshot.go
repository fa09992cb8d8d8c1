package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cairnstore/cairn/pkg/build"
	"github.com/cairnstore/cairn/pkg/catalog"

	"github.com/docker/go-units"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <source-dir>",
	Short: "Build a snapshot catalog from a directory tree",
	Long: `Build a snapshot catalog from a directory tree.

Every regular file is chunked into content-addressed extents and the
resulting file set is written to a catalog database. Nothing is uploaded;
see the upload command for that.
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := mustLogger()
		defer func() { _ = log.Sync() }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		opts := []build.Option{
			build.WithLogger(log),
			build.WithName(flags.name),
			build.WithFsType(flags.fsType),
		}
		if flags.machine != "" {
			opts = append(opts, build.WithMachineID(flags.machine))
		}
		builder := build.NewBuilder(afero.NewOsFs(), args[0], opts...)

		res, err := builder.Build(ctx, flags.catalog)
		if err != nil {
			return err
		}
		printStats(cmd, res.Stats)
		fmt.Fprintf(cmd.OutOrStdout(), "catalog:     %s (%s)\n", res.CatalogPath, res.CatalogID)
		fmt.Fprintf(cmd.OutOrStdout(), "tree hash:   %s\n", res.TreeHash)
		return nil
	},
}

func printStats(cmd *cobra.Command, s catalog.Stats) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "files:       %d\n", s.FileCount)
	fmt.Fprintf(out, "extents:     %d (%d unique)\n", s.TotalExtents, s.UniqueExtents)
	fmt.Fprintf(out, "bytes:       %s (%s unique, %s sparse)\n",
		units.HumanSize(float64(s.TotalBytes)),
		units.HumanSize(float64(s.UniqueBytes)),
		units.HumanSize(float64(s.SparseBytes)))
	if saved := s.SpaceSaved(); saved > 0 {
		fmt.Fprintf(out, "dedup:       %.2fx, %s saved (%.1f%%)\n",
			s.DedupRatio(), units.HumanSize(float64(saved)), s.SpaceSavedPct())
	}
}

func init() {
	snapshotCmd.Flags().StringVar(&flags.catalog, "catalog", "catalog.db", "catalog database to write")
	snapshotCmd.Flags().StringVar(&flags.name, "name", "", "snapshot name")
	snapshotCmd.Flags().StringVar(&flags.machine, "machine-id", "", "override the host machine id")
	snapshotCmd.Flags().StringVar(&flags.fsType, "fs-type", "", "source filesystem type hint")
	rootCmd.AddCommand(snapshotCmd)
}
