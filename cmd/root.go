package cmd

import (
	"fmt"

	"github.com/common-nighthawk/go-figure"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	logger "github.com/wogdump/wogdump/internal/logging"
)

var (
	verbose    bool
	debug      bool
	baseDir    string
	configPath string
	threads    int
	Logger     logger.Logger
	runID      string

	RootCmd = &cobra.Command{
		Use:   "wogdump",
		Short: "Wogdump - A CLI for mirroring and decrypting World of Guns asset bundles",
		Long: `Wogdump keeps a local mirror of the World of Guns: Gun Disassembly
asset bundles. It fetches the weapon catalog, asks the key service for
per-asset decryption keys, downloads stale bundles in parallel, and
decrypts them into plain Unity bundles.

Features:
  - Incremental downloads driven by a crash-safe local cache
  - Parallel fetching with retries and resumable batches
  - Streaming decryption of downloaded bundles

Usage:
  wogdump <command> [flags]

Run 'wogdump help <command>' for more details on a specific command.
`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			Logger = logger.Logger{
				Verbose: verbose,
				Debug:   debug,
			}
			runID = uuid.NewString()
			Logger.Debugf("Initializing wogdump with verbose=%t, debug=%t, run=%s", verbose, debug, runID)
		},
		Run: func(cmd *cobra.Command, args []string) {
			myFigure := figure.NewColorFigure("wogdump", "alligator2", "green", true)
			myFigure.Print()
			fmt.Println()
			fmt.Println("Run 'wogdump --help' to see available commands.")
		},
	}
)

func init() {
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	RootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug output")
	RootCmd.PersistentFlags().StringVar(&baseDir, "base-dir", "", "directory holding game data (default \"wog-data\")")
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a wogdump.toml file")
	RootCmd.PersistentFlags().IntVarP(&threads, "threads", "t", 0, "number of parallel workers (overrides config)")

	RootCmd.AddCommand(initCmd)
	RootCmd.AddCommand(downloadWeaponsCmd)
	RootCmd.AddCommand(updateKeysCmd)
	RootCmd.AddCommand(downloadAssetsCmd)
	RootCmd.AddCommand(decryptAssetsCmd)
	RootCmd.AddCommand(pipelineCmd)
	RootCmd.AddCommand(statusCmd)
	RootCmd.AddCommand(migrateCmd)
}

// Helper functions for testing

// GetRootCmd returns the RootCmd for testing.
func GetRootCmd() *cobra.Command {
	return RootCmd
}

// ResetGlobalState resets all global variables to their default values for testing.
func ResetGlobalState() {
	verbose = false
	debug = false
	baseDir = ""
	configPath = ""
	threads = 0
	runID = ""
	resetInitCommandState()
	resetDownloadWeaponsState()
	resetUpdateKeysState()
	resetDownloadAssetsState()
	resetDecryptAssetsState()
	resetPipelineState()
	resetStatusState()
	resetMigrateState()
}

// SetVerbose sets the verbose flag for testing.
func SetVerbose(v bool) {
	verbose = v
}

// SetDebug sets the debug flag for testing.
func SetDebug(d bool) {
	debug = d
}

// SetLogger sets the logger for testing.
func SetLogger(l logger.Logger) {
	Logger = l
}
