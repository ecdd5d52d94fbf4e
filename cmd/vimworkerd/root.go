package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
	gitCommit = "unknown"
)

var (
	cfgFile   string
	adminAddr string
)

// rootCmd is vimworkerd's entrypoint. Invoked bare, it runs the daemon
// (every configured tenant worker plus the admin HTTP surface); its
// subcommands are thin clients against that same admin surface for
// operators who'd rather not curl it by hand.
var rootCmd = &cobra.Command{
	Use:     "vimworkerd",
	Short:   "Per-tenant VIM/WIM action worker daemon",
	Version: fmt.Sprintf("%s (build %s, commit %s)", version, buildTime, gitCommit),
	Run: func(cmd *cobra.Command, args []string) {
		runDaemon()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to config.yaml (overrides the default search locations)")
	rootCmd.PersistentFlags().StringVar(&adminAddr, "admin-addr", "http://127.0.0.1:8090", "admin HTTP address used by reload/status subcommands")

	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
