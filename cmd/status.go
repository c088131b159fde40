package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wogdump/wogdump/internal/config"
	"github.com/wogdump/wogdump/internal/journal"
)

var statusJSON bool

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output in JSON format")
}

// resetStatusState resets the status command's global state for testing.
func resetStatusState() {
	statusJSON = false
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the local mirror",
	Long: `Display what the local cache knows: catalog size, key coverage,
download and decryption progress, and the most recent runs.

Everything is read from the cache document; nothing touches the
network.

Examples:
  wogdump status           # Human-readable overview
  wogdump status --json    # Machine-readable output`,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting status command")
		spinner, cleanup := startSpinner("Gathering mirror status...", verbose)
		defer cleanup()

		cfg, err := buildConfig()
		if err != nil {
			return Logger.ErrorfAndReturn("failed to load configuration: %v", err)
		}

		status, err := gatherMirrorStatus(cfg)
		if err != nil {
			return Logger.ErrorfAndReturn("Failed to gather status: %v", err)
		}

		if statusJSON {
			spinner.FinalMSG = ""
			data, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal status to JSON: %w", err)
			}
			fmt.Println(string(data))
			return nil
		}

		spinner.FinalMSG = formatMirrorStatus(status)
		return nil
	},
}

// MirrorStatus holds everything the status command reports.
type MirrorStatus struct {
	BaseDir       string `json:"base_dir"`
	HasDocument   bool   `json:"has_document"`
	SchemaVersion int    `json:"schema_version,omitempty"`
	UpdatedAt     string `json:"updated_at,omitempty"`

	CatalogCount    int    `json:"catalog_count"`
	CatalogSource   string `json:"catalog_source,omitempty"`
	CatalogFiltered bool   `json:"catalog_filtered"`

	KeysPresent int `json:"keys_present"`
	KeysMissing int `json:"keys_missing"`

	Downloaded   int `json:"downloaded"`
	NeverFetched int `json:"never_fetched"`
	SizeStale    int `json:"size_stale"`
	CheckDue     int `json:"check_due"`

	Decrypted int `json:"decrypted"`

	HasLegacyFiles bool `json:"has_legacy_files"`

	LastRuns []journal.Entry `json:"last_runs,omitempty"`
}

// gatherMirrorStatus collects the mirror state from the cache document
// and the data directories.
func gatherMirrorStatus(cfg config.Config) (*MirrorStatus, error) {
	status := &MirrorStatus{BaseDir: cfg.BaseDir}

	if _, err := os.Stat(cfg.StateFile()); err == nil {
		status.HasDocument = true
	}

	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	doc, err := st.Load()
	if err != nil {
		return nil, err
	}

	status.SchemaVersion = doc.SchemaVersion
	if !doc.UpdatedAt.IsZero() {
		status.UpdatedAt = doc.UpdatedAt.Format(time.RFC3339)
	}
	status.CatalogCount = len(doc.Catalog.Names)
	status.CatalogSource = doc.Catalog.Source
	status.CatalogFiltered = doc.Catalog.Filtered

	now := time.Now().UTC()
	for _, name := range doc.Catalog.Names {
		if _, err := doc.Keys.Get(name); err == nil {
			status.KeysPresent++
		} else {
			status.KeysMissing++
		}

		rec, ok := doc.Assets[name]
		if !ok || rec.LastDownloadedAt.IsZero() {
			status.NeverFetched++
		} else {
			status.Downloaded++
			if rec.RemoteSize >= 0 && rec.RemoteSize != rec.LocalSize {
				status.SizeStale++
			}
		}
		if !ok || now.Sub(rec.LastCheckedAt) > cfg.CacheTTL.Duration {
			status.CheckDue++
		}

		if _, err := os.Stat(cfg.DecryptedPath(name)); err == nil {
			status.Decrypted++
		}
	}

	if _, err := os.Stat(cfg.LegacyWeaponsFile()); err == nil {
		status.HasLegacyFiles = true
	}
	if _, err := os.Stat(cfg.LegacyKeysFile()); err == nil {
		status.HasLegacyFiles = true
	}

	if entries, err := journal.Tail(cfg.JournalFile(), 5); err == nil {
		status.LastRuns = entries
	} else {
		Logger.Debugf("Failed to read journal: %v", err)
	}

	return status, nil
}

// formatMirrorStatus renders the status for humans.
func formatMirrorStatus(status *MirrorStatus) string {
	var output strings.Builder

	output.WriteString(color.CyanString("═══ Wogdump Mirror Status ═══\n\n"))

	output.WriteString(color.YellowString("Cache\n"))
	output.WriteString(fmt.Sprintf("   %s Base directory: %s\n", color.CyanString("→"), color.WhiteString(status.BaseDir)))
	if status.HasDocument {
		output.WriteString(fmt.Sprintf("   %s Cache document (schema v%d, updated %s)\n", color.GreenString("✓"), status.SchemaVersion, status.UpdatedAt))
	} else {
		output.WriteString(fmt.Sprintf("   %s No cache document yet\n", color.YellowString("!")))
	}
	if status.HasLegacyFiles {
		output.WriteString(fmt.Sprintf("   %s Legacy weapons.txt/keys.txt found, run %s to import them\n",
			color.YellowString("!"), color.YellowString("wogdump migrate")))
	}

	output.WriteString(fmt.Sprintf("\n%s\n", color.YellowString("Catalog")))
	if status.CatalogCount > 0 {
		output.WriteString(fmt.Sprintf("   %s %d weapons (source: %s)\n", color.GreenString("✓"), status.CatalogCount, status.CatalogSource))
		if status.CatalogFiltered {
			output.WriteString(fmt.Sprintf("   %s Blacklist filter applied\n", color.CyanString("→")))
		}
	} else {
		output.WriteString(fmt.Sprintf("   %s No catalog, run %s first\n", color.RedString("✗"), color.YellowString("wogdump download-weapons")))
		return output.String()
	}

	output.WriteString(fmt.Sprintf("\n%s\n", color.YellowString("Decryption Keys")))
	if status.KeysMissing == 0 {
		output.WriteString(fmt.Sprintf("   %s All %d keys present\n", color.GreenString("✓"), status.KeysPresent))
	} else {
		output.WriteString(fmt.Sprintf("   %s %d present, %d missing, run %s\n",
			color.YellowString("!"), status.KeysPresent, status.KeysMissing, color.YellowString("wogdump update-keys")))
	}

	output.WriteString(fmt.Sprintf("\n%s\n", color.YellowString("Assets")))
	output.WriteString(fmt.Sprintf("   %s Downloaded: %d, never fetched: %d\n", color.CyanString("→"), status.Downloaded, status.NeverFetched))
	if status.SizeStale > 0 {
		output.WriteString(fmt.Sprintf("   %s %d bundles differ from the server copy\n", color.YellowString("!"), status.SizeStale))
	}
	if status.CheckDue > 0 {
		output.WriteString(fmt.Sprintf("   %s %d assets have not been checked recently\n", color.YellowString("!"), status.CheckDue))
	}
	output.WriteString(fmt.Sprintf("   %s Decrypted: %d\n", color.CyanString("→"), status.Decrypted))

	if len(status.LastRuns) > 0 {
		output.WriteString(fmt.Sprintf("\n%s\n", color.YellowString("Recent Runs")))
		for _, e := range status.LastRuns {
			output.WriteString(fmt.Sprintf("   %-19s  %-16s  %s\n", formatRunTime(e.Timestamp), e.Operation, formatRunDetails(e)))
		}
	}

	return output.String()
}

// formatRunTime shortens a journal timestamp for display.
func formatRunTime(ts string) string {
	parsed, err := time.Parse("2006-01-02T15:04:05.000000Z", ts)
	if err != nil {
		return ts
	}
	return parsed.Format("2006-01-02 15:04:05")
}

// formatRunDetails renders the counters of one journal entry.
func formatRunDetails(e journal.Entry) string {
	parts := []string{fmt.Sprintf("total=%d ok=%d failed=%d skipped=%d", e.Total, e.Succeeded, e.Failed, e.Skipped)}
	if e.Duration > 0 {
		parts = append(parts, fmt.Sprintf("in %s", (time.Duration(e.Duration)*time.Millisecond).Round(time.Millisecond)))
	}
	if e.Note != "" {
		parts = append(parts, "("+e.Note+")")
	}
	return strings.Join(parts, " ")
}
