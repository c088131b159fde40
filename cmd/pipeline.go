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

	"github.com/wogdump/wogdump/internal/catalog"
	"github.com/wogdump/wogdump/internal/crypt"
	"github.com/wogdump/wogdump/internal/download"
	"github.com/wogdump/wogdump/internal/fetch"
	"github.com/wogdump/wogdump/internal/keys"
)

var pipelineForce bool

func init() {
	pipelineCmd.Flags().BoolVarP(&pipelineForce, "force", "f", false, "redownload and re-decrypt everything")
}

// resetPipelineState resets the pipeline command's global state for testing.
func resetPipelineState() {
	pipelineForce = false
}

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run the full catalog, keys, download, decrypt flow",
	Long: `Runs every stage in order: refresh the weapon catalog, fetch missing
decryption keys, download stale bundles, and decrypt them. Equivalent to
running download-weapons, update-keys, download-assets, and
decrypt-assets back to back.

Per-asset failures in one stage never stop the next; the summary at the
end reports everything that went wrong.

Examples:
  wogdump pipeline             # Bring the whole mirror up to date
  wogdump pipeline --force     # Rebuild everything from scratch`,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting pipeline command")
		start := time.Now()
		spinner, cleanup := startSpinner("Refreshing weapon catalog...", verbose)
		defer cleanup()

		cfg, err := buildConfig()
		if err != nil {
			return Logger.ErrorfAndReturn("failed to load configuration: %v", err)
		}
		st, err := openStore(cfg)
		if err != nil {
			return Logger.ErrorfAndReturn("failed to open cache store: %v", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		stage := func(message string) {
			Logger.Infof("%s", message)
			if !verbose && !debug {
				spinner.Suffix = " " + message
			}
		}
		interrupted := func(what string) string {
			return color.YellowString("!") + " Interrupted while " + what + ". Finished work was saved\n" +
				color.CyanString("→") + " Run " + color.YellowString("wogdump pipeline") + " again to resume"
		}

		fetcher := newFetcher(cfg)

		// Stage 1: the weapon catalog.
		cat, err := catalog.NewRefresher(cfg, st, fetcher, Logger).Refresh(ctx, pipelineForce)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				spinner.FinalMSG = interrupted("fetching the catalog")
				return nil
			}
			Logger.Errorf("Failed to refresh catalog: %v", err)
			finalMessage := color.RedString("✗") + " Failed to fetch the weapon catalog\n" +
				color.RedString("Error: ") + err.Error()
			spinner.FinalMSG = finalMessage
			recordRun(cfg, "pipeline", start, 0, 0, 1, 0, "catalog: "+err.Error())
			return nil
		}

		// Stage 2: decryption keys.
		stage("Fetching decryption keys...")
		svc := keys.NewServiceClient(cfg, fetch.NewRetryClient(cfg, Logger), Logger)
		keyRes, err := keys.NewManager(cfg, st, svc, Logger).Refresh(ctx, cat.Names, false)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				spinner.FinalMSG = interrupted("fetching keys")
				return nil
			}
			return Logger.ErrorfAndReturn("failed to refresh keys: %v", err)
		}

		// Stage 3: stale bundles.
		stage("Downloading assets...")
		coordinator := download.NewCoordinator(cfg, st, fetcher, Logger)
		dlRes, err := coordinator.DownloadAssetsBatched(ctx, cat.Names, pipelineForce, func(p download.Progress) {
			Logger.Infof("Batch %d/%d done: %d/%d assets processed", p.Batch, p.Batches, p.Completed, p.Total)
			if !verbose && !debug {
				spinner.Suffix = fmt.Sprintf(" Downloading assets... %d/%d (batch %d/%d)", p.Completed, p.Total, p.Batch, p.Batches)
			}
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				spinner.FinalMSG = interrupted("downloading assets")
				return nil
			}
			return Logger.ErrorfAndReturn("failed to download assets: %v", err)
		}

		// Stage 4: decryption, for whatever made it to disk.
		stage("Decrypting assets...")
		doc, err := st.Load()
		if err != nil {
			return Logger.ErrorfAndReturn("failed to reload cache document: %v", err)
		}
		var present []string
		for _, name := range cat.Names {
			if _, err := os.Stat(cfg.AssetPath(name)); err == nil {
				present = append(present, name)
			}
		}
		decRes, err := crypt.NewDecryptor(cfg.ChunkSize, Logger).DecryptAssets(ctx, present, doc.Keys, cfg.AssetsDir(), cfg.DecryptedDir(), pipelineForce)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				spinner.FinalMSG = interrupted("decrypting assets")
				return nil
			}
			return Logger.ErrorfAndReturn("failed to decrypt assets: %v", err)
		}

		failures := len(keyRes.Failed) + len(dlRes.Failed) + len(decRes.Failed)
		recordRun(cfg, "pipeline", start, len(cat.Names), len(decRes.Decrypted), failures, decRes.Skipped, "")
		Logger.Infof("Pipeline command completed with %d failures", failures)

		mark := color.GreenString("✓")
		if failures > 0 {
			mark = color.YellowString("!")
		}
		summary := mark + " Pipeline finished in " + color.YellowString("%s", time.Since(start).Round(time.Second)) + "\n" +
			"  Catalog: " + color.YellowString("%d", len(cat.Names)) + " weapons\n" +
			"  Keys updated: " + color.YellowString("%d", len(keyRes.Updated)) + ", failed: " + color.YellowString("%d", len(keyRes.Failed)) + "\n" +
			"  Downloaded: " + color.YellowString("%d", len(dlRes.Succeeded)) + ", failed: " + color.YellowString("%d", len(dlRes.Failed)) + "\n" +
			"  Decrypted: " + color.YellowString("%d", len(decRes.Decrypted)) + ", skipped: " + color.YellowString("%d", decRes.Skipped) +
			", failed: " + color.YellowString("%d", len(decRes.Failed))
		if failures > 0 {
			summary += "\n" + color.CyanString("→") + " Run " + color.YellowString("wogdump pipeline") + " again to retry the failures"
		}
		spinner.FinalMSG = summary
		return nil
	},
}
