// Command sandboxctl is a minimal host driver for the luasandbox
// package: it loads a Lua script, runs it through the sandbox
// lifecycle, and reports drained output and quota usage. It exists to
// exercise create/init/invoke/terminate end to end, the way a real
// embedding host (a log processor, a stream filter) would.
package main

import (
	"fmt"
	"os"

	"github.com/birdsong-labs/luasandbox/internal/hostconfig"
	"github.com/birdsong-labs/luasandbox/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	verbose     bool
	configPath  string
	modulesPath string
	logger      *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "sandboxctl",
	Short: "Run Lua scripts inside a quota-enforced sandbox",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !verbose && configPath != "" {
			if file, err := hostconfig.Load(configPath); err == nil {
				verbose = file.Verbose
			}
		}
		var err error
		logger, err = logging.New(verbose)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a sandboxctl YAML config file")
	rootCmd.PersistentFlags().StringVar(&modulesPath, "modules", "", "module root for require() (overrides config)")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
