package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wogdump/wogdump/internal/crypt"
	"github.com/wogdump/wogdump/internal/fetch"
	"github.com/wogdump/wogdump/internal/keys"
)

var (
	decryptAssetsForce bool
	decryptAssetsOnly  []string
)

func init() {
	decryptAssetsCmd.Flags().BoolVarP(&decryptAssetsForce, "force", "f", false, "decrypt even assets whose output already exists")
	registerSelectionFlags(decryptAssetsCmd.Flags(), &decryptAssetsOnly)
}

// resetDecryptAssetsState resets the decrypt-assets command's global state for testing.
func resetDecryptAssetsState() {
	decryptAssetsForce = false
	decryptAssetsOnly = nil
}

var decryptAssetsCmd = &cobra.Command{
	Use:   "decrypt-assets",
	Short: "Decrypt downloaded asset bundles",
	Long: `Decrypts every downloaded bundle into the decrypted directory using the
per-asset keys from the cache. Missing keys are fetched from the key
service first. Bundles that are already decrypted are skipped unless
--force is set.

Examples:
  wogdump decrypt-assets                  # Decrypt all downloaded bundles
  wogdump decrypt-assets --force          # Redo even existing outputs
  wogdump decrypt-assets --only 'm4a1*'   # Restrict to matching assets`,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting decrypt-assets command")
		start := time.Now()
		spinner, cleanup := startSpinner("Decrypting assets...", verbose)
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

		selected, err := selectNames(doc.Catalog.Names, decryptAssetsOnly)
		if err != nil {
			return Logger.ErrorfAndReturn("failed to apply --only filter: %v", err)
		}
		if len(selected) == 0 {
			spinner.FinalMSG = color.YellowString("!") + " No catalog entries match the given patterns"
			return nil
		}

		// Only bundles that are actually on disk can be decrypted.
		var names []string
		missing := 0
		for _, name := range selected {
			if _, err := os.Stat(cfg.AssetPath(name)); err != nil {
				missing++
				continue
			}
			names = append(names, name)
		}
		Logger.Debugf("%d of %d selected assets have a downloaded bundle", len(names), len(selected))
		if len(names) == 0 {
			finalMessage := color.RedString("✗") + " None of the selected assets have been downloaded\n" +
				color.CyanString("→") + " Run " + color.YellowString("wogdump download-assets") + " first"
			spinner.FinalMSG = finalMessage
			return nil
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Fill in missing keys first so the decrypt pass doesn't trip
		// over them one by one.
		var missingKeys []string
		for _, name := range names {
			if _, err := doc.Keys.Get(name); err != nil {
				missingKeys = append(missingKeys, name)
			}
		}
		if len(missingKeys) > 0 {
			Logger.Infof("Fetching %d missing keys before decrypting", len(missingKeys))
			svc := keys.NewServiceClient(cfg, fetch.NewRetryClient(cfg, Logger), Logger)
			manager := keys.NewManager(cfg, st, svc, Logger)
			if _, err := manager.Refresh(ctx, missingKeys, false); err != nil {
				if errors.Is(err, context.Canceled) {
					spinner.FinalMSG = color.YellowString("!") + " Interrupted while fetching keys"
					return nil
				}
				return Logger.ErrorfAndReturn("failed to refresh keys: %v", err)
			}
			doc, err = st.Load()
			if err != nil {
				return Logger.ErrorfAndReturn("failed to reload cache document: %v", err)
			}
		}

		decryptor := crypt.NewDecryptor(cfg.ChunkSize, Logger)
		res, err := decryptor.DecryptAssets(ctx, names, doc.Keys, cfg.AssetsDir(), cfg.DecryptedDir(), decryptAssetsForce)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				recordRun(cfg, "decrypt-assets", start, len(names), len(res.Decrypted), len(res.Failed), res.Skipped, "interrupted")
				finalMessage := color.YellowString("!") + " Interrupted. " + color.YellowString("%d", len(res.Decrypted)) +
					" assets decrypted so far\n" +
					color.CyanString("→") + " Run " + color.YellowString("wogdump decrypt-assets") + " again to resume"
				spinner.FinalMSG = finalMessage
				return nil
			}
			return Logger.ErrorfAndReturn("failed to decrypt assets: %v", err)
		}

		note := ""
		if missing > 0 {
			note = fmt.Sprintf("%d not downloaded", missing)
		}
		recordRun(cfg, "decrypt-assets", start, len(names), len(res.Decrypted), len(res.Failed), res.Skipped, note)

		if len(res.Failed) > 0 {
			Logger.Warnf("Decrypt finished with %d failures", len(res.Failed))
			finalMessage := color.YellowString("!") + " Decrypted " + color.YellowString("%d", len(res.Decrypted)) + " assets, " +
				color.RedString("%d", len(res.Failed)) + " failed:" + formatFailures(res.Failed)
			spinner.FinalMSG = finalMessage
			return nil
		}

		Logger.Infof("Decrypt-assets command completed successfully. Decrypted %d assets", len(res.Decrypted))
		finalMessage := color.GreenString("✓") + " Decrypted bundles are up to date!\n" +
			"Decrypted: " + color.YellowString("%d", len(res.Decrypted)) + ", already done: " + color.YellowString("%d", res.Skipped)
		if missing > 0 {
			finalMessage += "\n" + color.YellowString("!") + " " + color.YellowString("%d", missing) +
				" selected assets have no downloaded bundle yet"
		}
		spinner.FinalMSG = finalMessage
		return nil
	},
}
