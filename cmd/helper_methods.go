package cmd

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/briandowns/spinner"
	"github.com/spf13/pflag"

	"github.com/wogdump/wogdump/internal/config"
	"github.com/wogdump/wogdump/internal/fetch"
	"github.com/wogdump/wogdump/internal/journal"
	"github.com/wogdump/wogdump/internal/store"
	"github.com/wogdump/wogdump/internal/ui"
)

// startSpinner creates and starts a spinner with the given message when not in verbose or debug mode.
// Returns the spinner and a function that should be deferred to clean up.
//
// IMPORTANT: spinner.FinalMSG values do NOT need trailing newlines. The cleanup function
// automatically calls ui.EnsureNewline() on the final message before printing it.
// This ensures consistent output formatting across all commands.
func startSpinner(message string, verbose bool) (*spinner.Spinner, func()) {
	Logger.Debugf("Starting spinner with message: %s", message)
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message

	err := s.Color("cyan")
	if err != nil {
		// If we can't set spinner color, just continue without it.
		Logger.Warnf("Failed to set spinner color: %v", err)
	}

	if !verbose && !debug {
		Logger.Debugf("Starting spinner in non-verbose mode")
		s.Start()
		// Ensure log output is discarded unless in verbose mode.
		log.SetOutput(io.Discard)
	} else {
		Logger.Infof("Running in verbose or debug mode: %s", message)
	}

	cleanup := func() {
		// Restore log output first.
		if !verbose && !debug {
			Logger.Debugf("Restoring log output")
			log.SetOutput(os.Stdout)
		}

		// Ensure final message ends with a newline.
		finalMsg := ""
		if s.FinalMSG != "" {
			finalMsg = ui.EnsureNewline(s.FinalMSG)
			// Clear FinalMSG so s.Stop() doesn't print it.
			s.FinalMSG = ""
		}

		// Stop the spinner first to clear the spinner line.
		if !verbose && !debug {
			Logger.Debugf("Stopping spinner")
			s.Stop()
		}

		// Print final message to stdout (for tests to capture).
		if finalMsg != "" {
			fmt.Print(finalMsg)
		}
	}

	return s, cleanup
}

// buildConfig assembles the effective configuration: defaults first, then
// the TOML file, then command-line overrides, validated last. When no
// --config flag is given, a wogdump.toml inside the base directory is
// picked up automatically.
func buildConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		probe := config.Default()
		if baseDir != "" {
			probe.BaseDir = baseDir
		}
		if _, err := os.Stat(probe.ConfigFile()); err == nil {
			Logger.Debugf("Using config file at %s", probe.ConfigFile())
			path = probe.ConfigFile()
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if baseDir != "" {
		cfg.BaseDir = baseDir
	}
	if threads > 0 {
		cfg.Workers = threads
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// openStore opens the cache document store for cfg.
func openStore(cfg config.Config) (*store.Store, error) {
	return store.Open(cfg, Logger)
}

// newFetcher builds the retrying HTTP fetcher for cfg.
func newFetcher(cfg config.Config) *fetch.Fetcher {
	return fetch.NewFetcher(cfg, Logger)
}

// registerSelectionFlags adds the asset selection flag shared by the
// download and decrypt commands.
func registerSelectionFlags(fs *pflag.FlagSet, only *[]string) {
	fs.StringSliceVar(only, "only", nil, "restrict to assets matching these glob patterns (e.g. 'ak_*')")
}

// selectNames filters names down to those matching any of the glob
// patterns. No patterns means every name is selected.
func selectNames(names, patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		return names, nil
	}

	var selected []string
	for _, name := range names {
		for _, pattern := range patterns {
			ok, err := doublestar.Match(pattern, name)
			if err != nil {
				return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
			}
			if ok {
				selected = append(selected, name)
				break
			}
		}
	}
	return selected, nil
}

// recordRun appends a journal entry for a finished operation. Journal
// writes are best-effort and never fail the command.
func recordRun(cfg config.Config, op string, start time.Time, total, succeeded, failed, skipped int, note string) {
	journal.Append(cfg.JournalFile(), journal.Entry{
		RunID:     runID,
		Operation: op,
		Total:     total,
		Succeeded: succeeded,
		Failed:    failed,
		Skipped:   skipped,
		Duration:  time.Since(start).Milliseconds(),
		Note:      note,
	})
}

// formatFailures renders a failure map as an indented list, sorted by
// asset name.
func formatFailures(failed map[string]error) string {
	names := make([]string, 0, len(failed))
	for name := range failed {
		names = append(names, name)
	}
	sort.Strings(names)

	result := "\n"
	for _, name := range names {
		result += "    " + ui.Error.Sprint("✗") + " " + ui.Highlight.Sprint(name) + ": " + failed[name].Error() + "\n"
	}
	return result
}
