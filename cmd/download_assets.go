package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wogdump/wogdump/internal/download"
	"github.com/wogdump/wogdump/internal/ui"
)

var (
	downloadAssetsForce     bool
	downloadAssetsCheckOnly bool
	downloadAssetsOnly      []string
)

func init() {
	downloadAssetsCmd.Flags().BoolVarP(&downloadAssetsForce, "force", "f", false, "download every selected asset even if the cache says it is current")
	downloadAssetsCmd.Flags().BoolVar(&downloadAssetsCheckOnly, "check-only", false, "probe for updates without downloading anything")
	registerSelectionFlags(downloadAssetsCmd.Flags(), &downloadAssetsOnly)
}

// resetDownloadAssetsState resets the download-assets command's global state for testing.
func resetDownloadAssetsState() {
	downloadAssetsForce = false
	downloadAssetsCheckOnly = false
	downloadAssetsOnly = nil
}

var downloadAssetsCmd = &cobra.Command{
	Use:   "download-assets",
	Short: "Download stale asset bundles from the data server",
	Long: `Probes the data server for every cataloged asset and downloads the ones
whose local copy is missing or out of date. Downloads run in parallel
and are committed to the cache one by one, so an interrupted run
resumes where it left off.

Examples:
  wogdump download-assets                   # Download whatever is stale
  wogdump download-assets --check-only      # Just report what is stale
  wogdump download-assets --force           # Redownload everything
  wogdump download-assets --only 'colt_*'   # Restrict to matching assets`,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting download-assets command")
		start := time.Now()
		spinner, cleanup := startSpinner("Downloading assets...", verbose)
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

		names, err := selectNames(doc.Catalog.Names, downloadAssetsOnly)
		if err != nil {
			return Logger.ErrorfAndReturn("failed to apply --only filter: %v", err)
		}
		if len(names) == 0 {
			spinner.FinalMSG = color.YellowString("!") + " No catalog entries match the given patterns"
			return nil
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		coordinator := download.NewCoordinator(cfg, st, newFetcher(cfg), Logger)

		if downloadAssetsCheckOnly {
			stale, err := coordinator.CheckForUpdates(ctx, names)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					spinner.FinalMSG = color.YellowString("!") + " Interrupted while probing for updates"
					return nil
				}
				return Logger.ErrorfAndReturn("failed to check for updates: %v", err)
			}

			var staleNames []string
			for name, isStale := range stale {
				if isStale {
					staleNames = append(staleNames, name)
				}
			}
			sort.Strings(staleNames)
			recordRun(cfg, "check-updates", start, len(names), 0, 0, len(names)-len(staleNames), fmt.Sprintf("%d stale", len(staleNames)))

			if len(staleNames) == 0 {
				spinner.FinalMSG = color.GreenString("✓") + " All " + color.YellowString("%d", len(names)) + " assets are up to date"
				return nil
			}
			finalMessage := color.YellowString("!") + " " + color.YellowString("%d", len(staleNames)) + " of " +
				color.YellowString("%d", len(names)) + " assets are stale:" + ui.FormatNames(staleNames) +
				color.CyanString("→") + " Run " + color.YellowString("wogdump download-assets") + " to update them"
			spinner.FinalMSG = finalMessage
			return nil
		}

		res, err := coordinator.DownloadAssetsBatched(ctx, names, downloadAssetsForce, func(p download.Progress) {
			Logger.Infof("Batch %d/%d done: %d/%d assets processed", p.Batch, p.Batches, p.Completed, p.Total)
			if !verbose && !debug {
				spinner.Suffix = fmt.Sprintf(" Downloading assets... %d/%d (batch %d/%d)", p.Completed, p.Total, p.Batch, p.Batches)
			}
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				recordRun(cfg, "download-assets", start, len(names), len(res.Succeeded), len(res.Failed), 0, "interrupted")
				finalMessage := color.YellowString("!") + " Interrupted. " + color.YellowString("%d", len(res.Succeeded)) +
					" downloads were committed\n" +
					color.CyanString("→") + " Run " + color.YellowString("wogdump download-assets") + " again to resume"
				spinner.FinalMSG = finalMessage
				return nil
			}
			return Logger.ErrorfAndReturn("failed to download assets: %v", err)
		}

		current := res.Checked - len(res.Succeeded) - len(res.Failed)
		recordRun(cfg, "download-assets", start, len(names), len(res.Succeeded), len(res.Failed), current, "")

		if len(res.Failed) > 0 {
			Logger.Warnf("Download finished with %d failures", len(res.Failed))
			finalMessage := color.YellowString("!") + " Downloaded " + color.YellowString("%d", len(res.Succeeded)) + " assets, " +
				color.RedString("%d", len(res.Failed)) + " failed:" + formatFailures(res.Failed) +
				color.CyanString("→") + " Run the command again to retry the failures"
			spinner.FinalMSG = finalMessage
			return nil
		}

		Logger.Infof("Download-assets command completed successfully. Downloaded %d assets", len(res.Succeeded))
		finalMessage := color.GreenString("✓") + " Asset mirror is up to date!\n" +
			"Downloaded: " + color.YellowString("%d", len(res.Succeeded)) + ", already current: " + color.YellowString("%d", current)
		spinner.FinalMSG = finalMessage
		return nil
	},
}
