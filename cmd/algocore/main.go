// algocore is the turn loop of a tower-defense algo: it reads the engine's
// JSON lines on stdin, keeps the game statistics and writes the build
// commands on stdout.
//
// Usage:
//
//	algocore                     - Play one game over stdin/stdout
//	algocore run                 - Same as above
//	algocore replay <file>       - Feed a captured protocol log through the loop
//	algocore version             - Print version information
//
// Global flags:
//
//	--config-dir <dir>   - Directory holding algocore.cfg.json (default: .)
//	--log-level <level>  - Override the configured log level
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/skunkworks/algocore/internal/config"
)

// Version and BuildDate can be set at build time via ldflags
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

const appName = "algocore"

var (
	// Global flags
	flagConfigDir string
	flagLogLevel  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Algo core - turn loop for the tower-defense engine",
	Long: `algocore speaks the engine's line-delimited JSON protocol.

Stdout carries only commands for the engine; all diagnostics go to stderr
and, when configured, to a log file and Graylog.

Available commands:
  run      - Play one game over stdin/stdout (default)
  replay   - Feed a captured protocol log through the loop
  version  - Print version information`,
	SilenceUsage: true,
	RunE:         runRun,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", ".", "Directory holding "+config.FileName)
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(versionCmd)
}
