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

var uploadCmd = &cobra.Command{
	Use:   "upload <source-dir>",
	Short: "Upload a built snapshot to a remote store",
	Long: `Upload a built snapshot to a remote store.

Only extents the store does not already hold are transferred. The source
tree must not have changed since the snapshot was built, since extent
content is re-read from it.
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := mustLogger()
		defer func() { _ = log.Sync() }()

		if flags.remote == "" {
			return fmt.Errorf("a remote store URL is required (--remote)")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cat, err := catalog.Open(flags.catalog)
		if err != nil {
			return err
		}
		defer cat.Close()

		up := build.NewUploader(flags.remote, afero.NewOsFs(), args[0],
			build.WithUploadLogger(log))
		stats, err := up.Upload(ctx, cat, flags.catalog)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if stats.Skipped {
			fmt.Fprintln(out, "identical snapshot already stored, nothing to do")
			return nil
		}
		fmt.Fprintf(out, "extents:     %d checked, %d uploaded\n",
			stats.ExtentsChecked, stats.ExtentsUploaded)
		fmt.Fprintf(out, "transferred: %s\n", units.HumanSize(float64(stats.BytesUploaded)))
		if !stats.CatalogCreated {
			fmt.Fprintln(out, "catalog was already stored")
		}
		return nil
	},
}

func init() {
	uploadCmd.Flags().StringVar(&flags.catalog, "catalog", "catalog.db", "catalog database to upload")
	uploadCmd.Flags().StringVar(&flags.remote, "remote", "", "remote store base URL")
	rootCmd.AddCommand(uploadCmd)
}
