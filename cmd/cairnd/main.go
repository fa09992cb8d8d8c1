// Command cairnd serves a cairn object store over HTTP.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cairnstore/cairn/pkg/catalog"
	"github.com/cairnstore/cairn/pkg/dlogger"
	"github.com/cairnstore/cairn/pkg/storage/localfs"
	"github.com/cairnstore/cairn/pkg/web"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var flags = struct {
	listen     string
	storageDir string
	indexPath  string
	logLevel   string
}{}

var rootCmd = &cobra.Command{
	Use:   "cairnd",
	Short: "Serve a cairn object store over HTTP",
	Long: `Serve a cairn object store over HTTP.

Extents, blob layouts and catalogs are stored content-addressed under the
storage directory. With an index database configured, uploaded catalogs
are tracked so clients can skip snapshots the store already holds.
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		resolveConfig()
		log, err := dlogger.GetLogger(flags.logLevel)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()
		return serve(log)
	},
}

func serve(log *zap.Logger) error {
	if err := os.MkdirAll(flags.storageDir, 0o755); err != nil {
		return err
	}
	store := localfs.New(afero.NewBasePathFs(afero.NewOsFs(), flags.storageDir))

	opts := []web.ServerOption{web.WithLogger(log)}
	if flags.indexPath != "" {
		ix, err := catalog.OpenIndex(flags.indexPath, log)
		if err != nil {
			return err
		}
		defer ix.Close()
		if err = ix.Rebuild(context.Background(), store); err != nil {
			log.Warn("catalog index rebuild failed", zap.Error(err))
		}
		opts = append(opts, web.WithIndex(ix))
	}

	srv := &http.Server{
		Addr:        flags.listen,
		Handler:     web.InitRouter(web.NewServer(store, opts...)),
		ReadTimeout: 5 * time.Minute,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("serving",
			zap.String("listen", flags.listen),
			zap.String("storage", flags.storageDir),
		)
		errc <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errc:
		return err
	case sig := <-stop:
		log.Info("shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.Flags().StringVar(&flags.listen, "listen", ":8400", "address to listen on")
	rootCmd.Flags().StringVar(&flags.storageDir, "storage-dir", ".cairn/objects", "object storage directory")
	rootCmd.Flags().StringVar(&flags.indexPath, "index", "", "catalog index database (optional)")
	rootCmd.Flags().StringVar(&flags.logLevel, "log-level", dlogger.LogLevelInfo, "log level (debug, info, none)")
}

// initConfig binds the flag set to viper so CAIRND_* environment
// variables override unset flags
func initConfig() {
	viper.SetEnvPrefix("cairnd")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlags(rootCmd.Flags())
}

// resolveConfig reads the effective values back out of viper: explicit
// flags win, then environment, then flag defaults
func resolveConfig() {
	flags.listen = viper.GetString("listen")
	flags.storageDir = viper.GetString("storage-dir")
	flags.indexPath = viper.GetString("index")
	flags.logLevel = viper.GetString("log-level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
