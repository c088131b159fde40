package cmd

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wogdump/wogdump/internal/config"
)

var initForce bool

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing wogdump.toml")
}

// resetInitCommandState resets the init command's global state for testing.
func resetInitCommandState() {
	initForce = false
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the data directories and a default config file",
	Long: `Creates the base directory layout (assets, decrypted, runtime) and
writes a wogdump.toml with the default settings so they can be edited.

Examples:
  wogdump init                          # Set up ./wog-data
  wogdump init --base-dir /srv/wog      # Set up a custom location`,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting init command")
		spinner, cleanup := startSpinner("Initializing wogdump...", verbose)
		defer cleanup()

		cfg := config.Default()
		if baseDir != "" {
			cfg.BaseDir = baseDir
		}
		if threads > 0 {
			cfg.Workers = threads
		}
		if err := cfg.Validate(); err != nil {
			return Logger.ErrorfAndReturn("failed to validate configuration: %v", err)
		}

		if _, err := os.Stat(cfg.ConfigFile()); err == nil && !initForce {
			finalMessage := color.RedString("✗") + " " + color.YellowString(cfg.ConfigFile()) + " already exists\n" +
				color.CyanString("→") + " Use " + color.YellowString("--force") + " to overwrite it"
			spinner.FinalMSG = finalMessage
			return nil
		}

		for _, dir := range []string{cfg.AssetsDir(), cfg.DecryptedDir(), cfg.RuntimeDir()} {
			Logger.Debugf("Creating directory: %s", dir)
			if err := os.MkdirAll(dir, 0700); err != nil {
				return Logger.ErrorfAndReturn("failed to create %s: %v", dir, err)
			}
		}

		if err := config.SaveTOML(cfg.ConfigFile(), cfg); err != nil {
			return Logger.ErrorfAndReturn("failed to write config file: %v", err)
		}
		Logger.Infof("Init command completed successfully at %s", cfg.BaseDir)

		finalMessage := color.GreenString("✓") + " Wogdump initialized at " + color.YellowString(cfg.BaseDir) + "\n" +
			color.CyanString("→") + " Edit " + color.YellowString(cfg.ConfigFile()) + " to taste, then run " +
			color.YellowString("wogdump pipeline")
		spinner.FinalMSG = finalMessage
		return nil
	},
}
