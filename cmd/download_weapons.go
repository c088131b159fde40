package cmd

import (
	"context"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wogdump/wogdump/internal/catalog"
)

var downloadWeaponsForce bool

func init() {
	downloadWeaponsCmd.Flags().BoolVarP(&downloadWeaponsForce, "force", "f", false, "refetch the listing even if the cached catalog is fresh")
}

// resetDownloadWeaponsState resets the download-weapons command's global state for testing.
func resetDownloadWeaponsState() {
	downloadWeaponsForce = false
}

var downloadWeaponsCmd = &cobra.Command{
	Use:   "download-weapons",
	Short: "Fetch the weapon catalog from the data server",
	Long: `Downloads the listing asset, extracts the weapon catalog from it, and
stores the filtered catalog in the local cache.

The listing is only refetched when the cached copy looks stale. Use
--force to refetch unconditionally.

Examples:
  wogdump download-weapons             # Refresh the catalog if stale
  wogdump download-weapons --force     # Refetch no matter what`,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting download-weapons command")
		start := time.Now()
		spinner, cleanup := startSpinner("Fetching weapon catalog...", verbose)
		defer cleanup()

		cfg, err := buildConfig()
		if err != nil {
			return Logger.ErrorfAndReturn("failed to load configuration: %v", err)
		}
		st, err := openStore(cfg)
		if err != nil {
			return Logger.ErrorfAndReturn("failed to open cache store: %v", err)
		}

		refresher := catalog.NewRefresher(cfg, st, newFetcher(cfg), Logger)
		cat, err := refresher.Refresh(context.Background(), downloadWeaponsForce)
		if err != nil {
			Logger.Errorf("Failed to refresh catalog: %v", err)
			finalMessage := color.RedString("✗") + " Failed to fetch the weapon catalog\n" +
				color.RedString("Error: ") + err.Error()
			spinner.FinalMSG = finalMessage
			recordRun(cfg, "download-weapons", start, 0, 0, 1, 0, err.Error())
			return nil
		}

		recordRun(cfg, "download-weapons", start, len(cat.Names), len(cat.Names), 0, 0, "")
		Logger.Infof("Download-weapons command completed successfully with %d weapons", len(cat.Names))

		finalMessage := color.GreenString("✓") + " Catalog updated: " + color.YellowString("%d", len(cat.Names)) + " weapons\n" +
			color.CyanString("→") + " Run " + color.YellowString("wogdump download-assets") + " to mirror their bundles"
		spinner.FinalMSG = finalMessage
		return nil
	},
}
