package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tokligence/streamguard/internal/bootstrap"
	"github.com/tokligence/streamguard/internal/version"
)

var (
	configRoot string
	initOpts   bootstrap.InitOptions
)

var rootCmd = &cobra.Command{
	Use:   "streamguardd",
	Short: "Streaming HTTP daemon that survives client disconnects",
	Long: `streamguardd serves files, proxied upstream streams and ledger exports
through a disconnect guard: a client hanging up mid-response ends the stream
quietly and releases its source, while genuine upstream failures are reported.

Running without a subcommand is the same as "streamguardd serve".`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP daemon until SIGINT or SIGTERM",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.FullInfo())
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write starter config files under --root",
	RunE: func(cmd *cobra.Command, args []string) error {
		initOpts.Root = configRoot
		if err := bootstrap.Init(initOpts); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote config for environment %q under %s\n", firstNonEmpty(initOpts.Environment, "dev"), configRoot)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configRoot, "root", ".", "directory containing config/setting.ini")

	f := initCmd.Flags()
	f.StringVar(&initOpts.Environment, "env", "dev", "environment name")
	f.StringVar(&initOpts.HTTPAddress, "http-address", ":8090", "listen address")
	f.StringVar(&initOpts.FilesRoot, "files-root", "", "directory served under /files/")
	f.StringVar(&initOpts.LedgerPath, "ledger", "", "sqlite ledger path (default ~/.streamguard/ledger.db)")
	f.IntVar(&initOpts.ChunkSize, "chunk-size", 8192, "read size for file and proxy streams")
	f.BoolVar(&initOpts.Routes, "routes", false, "also write a sample routes.yaml")
	f.BoolVar(&initOpts.Force, "force", false, "overwrite existing files")

	rootCmd.AddCommand(serveCmd, versionCmd, initCmd)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
