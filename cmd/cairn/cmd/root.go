// Package cmd implements the cairn command line tool
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/cairnstore/cairn/pkg/dlogger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var flags = struct {
	logLevel string
	catalog  string
	name     string
	machine  string
	fsType   string
	remote   string
}{}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cairn",
	Short: "Cairn snapshots directory trees into content-addressed catalogs",
	Long: `Cairn snapshots directory trees into content-addressed catalogs.

A snapshot chunks every file into extents keyed by their content hash,
records the file set in a relational catalog and labels the whole tree
with a single hash. Identical content is stored once, locally and on the
remote store.
`,
}

// Execute runs the root command. It is called once, by main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return applyConfig(cmd)
	}
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", dlogger.LogLevelInfo,
		"log level (debug, info, none)")
}

// initConfig reads in config file and environment variables if set
func initConfig() {
	viper.SetEnvPrefix("cairn")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.cairn")
	viper.SetConfigName("cairn")
	_ = viper.ReadInConfig()
}

// applyConfig binds the running command's flag set to viper and resolves
// the effective values: explicit flags win, then environment, then config
// file, then flag defaults. Keys unbound on this command resolve empty,
// which only touches fields the command does not use.
func applyConfig(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return err
	}
	flags.logLevel = viper.GetString("log-level")
	flags.catalog = viper.GetString("catalog")
	flags.name = viper.GetString("name")
	flags.machine = viper.GetString("machine-id")
	flags.fsType = viper.GetString("fs-type")
	flags.remote = viper.GetString("remote")
	return nil
}

func mustLogger() *zap.Logger {
	return dlogger.MustGetLogger(flags.logLevel)
}
