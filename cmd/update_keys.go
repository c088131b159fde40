package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wogdump/wogdump/internal/fetch"
	"github.com/wogdump/wogdump/internal/keys"
)

var (
	updateKeysForce bool
	updateKeysOnly  []string
)

func init() {
	updateKeysCmd.Flags().BoolVarP(&updateKeysForce, "force", "f", false, "refetch keys for assets that already have one")
	registerSelectionFlags(updateKeysCmd.Flags(), &updateKeysOnly)
}

// resetUpdateKeysState resets the update-keys command's global state for testing.
func resetUpdateKeysState() {
	updateKeysForce = false
	updateKeysOnly = nil
}

var updateKeysCmd = &cobra.Command{
	Use:   "update-keys",
	Short: "Fetch decryption keys from the key service",
	Long: `Asks the key service for the decryption key of every cataloged asset
that does not have one yet, and stores the answers in the local cache.

Keys rarely change, so existing entries are kept unless --force is set.

Examples:
  wogdump update-keys                  # Fill in missing keys
  wogdump update-keys --force          # Refetch every key
  wogdump update-keys --only 'ak_*'    # Only assets matching a pattern`,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting update-keys command")
		start := time.Now()
		spinner, cleanup := startSpinner("Updating decryption keys...", verbose)
		defer cleanup()

		cfg, err := buildConfig()
		if err != nil {
			return Logger.ErrorfAndReturn("failed to load configuration: %v", err)
		}
		st, err := openStore(cfg)
		if err != nil {
			return Logger.ErrorfAndReturn("failed to open cache store: %v", err)
		}

		doc, err := st.Load()
		if err != nil {
			return Logger.ErrorfAndReturn("failed to load cache document: %v", err)
		}
		if len(doc.Catalog.Names) == 0 {
			finalMessage := color.RedString("✗") + " No weapon catalog in the cache\n" +
				color.CyanString("→") + " Run " + color.YellowString("wogdump download-weapons") + " first"
			spinner.FinalMSG = finalMessage
			return nil
		}

		names, err := selectNames(doc.Catalog.Names, updateKeysOnly)
		if err != nil {
			return Logger.ErrorfAndReturn("failed to apply --only filter: %v", err)
		}
		if len(names) == 0 {
			spinner.FinalMSG = color.YellowString("!") + " No catalog entries match the given patterns"
			return nil
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc := keys.NewServiceClient(cfg, fetch.NewRetryClient(cfg, Logger), Logger)
		manager := keys.NewManager(cfg, st, svc, Logger)
		res, err := manager.Refresh(ctx, names, updateKeysForce)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				recordRun(cfg, "update-keys", start, len(names), len(res.Updated), len(res.Failed), res.Skipped, "interrupted")
				spinner.FinalMSG = color.YellowString("!") + " Interrupted. " +
					color.YellowString("%d", len(res.Updated)) + " keys fetched so far were saved."
				return nil
			}
			return Logger.ErrorfAndReturn("failed to refresh keys: %v", err)
		}

		recordRun(cfg, "update-keys", start, len(names), len(res.Updated), len(res.Failed), res.Skipped, "")

		if len(res.Failed) > 0 {
			Logger.Warnf("Key refresh finished with %d failures", len(res.Failed))
			finalMessage := color.YellowString("!") + " Updated " + color.YellowString("%d", len(res.Updated)) + " keys, " +
				color.RedString("%d", len(res.Failed)) + " failed:" + formatFailures(res.Failed)
			spinner.FinalMSG = finalMessage
			return nil
		}

		Logger.Infof("Update-keys command completed successfully. Updated %d keys", len(res.Updated))
		finalMessage := color.GreenString("✓") + " Decryption keys are up to date!\n" +
			"Updated: " + color.YellowString("%d", len(res.Updated)) + ", already present: " + color.YellowString("%d", res.Skipped)
		spinner.FinalMSG = finalMessage
		return nil
	},
}
