package cmd

import (
	"errors"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	werrors "github.com/wogdump/wogdump/internal/errors"
	"github.com/wogdump/wogdump/internal/ui"
)

var (
	migrateWeaponsPath string
	migrateKeysPath    string
)

func init() {
	migrateCmd.Flags().StringVar(&migrateWeaponsPath, "weapons", "", "path to the legacy weapons list (default <base-dir>/weapons.txt)")
	migrateCmd.Flags().StringVar(&migrateKeysPath, "keys", "", "path to the legacy key table (default <base-dir>/keys.txt)")
}

// resetMigrateState resets the migrate command's global state for testing.
func resetMigrateState() {
	migrateWeaponsPath = ""
	migrateKeysPath = ""
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Import the legacy weapons.txt and keys.txt files",
	Long: `Imports the legacy two-file layout, a newline-separated weapon list and
a name=key table, into the cache document. The legacy files are left in
place; running the command again just rebuilds the same document.

Examples:
  wogdump migrate                              # Import from the base directory
  wogdump migrate --weapons old/weapons.txt    # Explicit file locations`,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting migrate command")
		start := time.Now()
		spinner, cleanup := startSpinner("Migrating legacy files...", verbose)
		defer cleanup()

		cfg, err := buildConfig()
		if err != nil {
			return Logger.ErrorfAndReturn("failed to load configuration: %v", err)
		}
		st, err := openStore(cfg)
		if err != nil {
			return Logger.ErrorfAndReturn("failed to open cache store: %v", err)
		}

		weaponsPath := cfg.LegacyWeaponsFile()
		if migrateWeaponsPath != "" {
			weaponsPath = migrateWeaponsPath
		}
		keysPath := cfg.LegacyKeysFile()
		if migrateKeysPath != "" {
			keysPath = migrateKeysPath
		}
		Logger.Debugf("Legacy weapons path: %s, keys path: %s", weaponsPath, keysPath)

		report, err := st.MigrateLegacy(weaponsPath, keysPath)
		if err != nil {
			if errors.Is(err, werrors.ErrLegacyNotFound) {
				finalMessage := color.RedString("✗") + " No legacy files found\n" +
					color.CyanString("→") + " Expected " + color.YellowString(weaponsPath) + " or " + color.YellowString(keysPath)
				spinner.FinalMSG = finalMessage
				return nil
			}
			return Logger.ErrorfAndReturn("failed to migrate legacy files: %v", err)
		}

		migrated := report.WeaponsMigrated + report.KeysMigrated
		recordRun(cfg, "migrate", start, migrated, migrated, 0, report.Skipped, "")
		Logger.Infof("Migrate command completed successfully. %d weapons, %d keys", report.WeaponsMigrated, report.KeysMigrated)

		finalMessage := color.GreenString("✓") + " Legacy files imported!\n" +
			"Weapons: " + color.YellowString("%d", report.WeaponsMigrated) + ", keys: " + color.YellowString("%d", report.KeysMigrated)
		if report.Skipped > 0 {
			finalMessage += "\n" + color.YellowString("!") + " Skipped " + color.YellowString("%d", report.Skipped) +
				" malformed key lines:" + ui.FormatNames(report.SkippedLines)
		}
		spinner.FinalMSG = finalMessage
		return nil
	},
}
