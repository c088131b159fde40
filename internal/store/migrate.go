package store

import (
	"fmt"
	"os"
	"strings"
	"time"

	werrors "github.com/wogdump/wogdump/internal/errors"
)

// MigrationReport summarizes a legacy migration run.
type MigrationReport struct {
	WeaponsMigrated int
	KeysMigrated    int
	Skipped         int
	SkippedLines    []string
}

// MigrateLegacy imports the legacy two-file layout, a newline-separated
// weapon list and a name=key table, into a fresh cache document and
// commits it atomically. The legacy files are only read, never modified
// or removed, so the migration can be rerun; the same inputs produce the
// same document apart from timestamps. Malformed key lines are skipped
// and counted, never fatal. Returns werrors.ErrLegacyNotFound when
// neither file exists.
func (s *Store) MigrateLegacy(weaponsPath, keysPath string) (*MigrationReport, error) {
	report := &MigrationReport{}

	weapons, foundWeapons, err := readLegacyWeapons(weaponsPath, report)
	if err != nil {
		return nil, fmt.Errorf("failed to read legacy weapon list: %w", err)
	}
	keys, foundKeys, err := s.readLegacyKeys(keysPath, report)
	if err != nil {
		return nil, fmt.Errorf("failed to read legacy key table: %w", err)
	}
	if !foundWeapons && !foundKeys {
		return nil, fmt.Errorf("%w: looked for %s and %s", werrors.ErrLegacyNotFound, weaponsPath, keysPath)
	}

	doc := NewDocument(time.Now().UTC())
	doc.Keys = keys
	if foundWeapons {
		doc.Catalog = Catalog{Names: weapons, Source: "legacy"}
	}

	if err := s.Replace(doc); err != nil {
		return nil, fmt.Errorf("failed to commit migrated document: %w", err)
	}
	s.log.Infof("migrated %d weapons and %d keys, skipped %d entries",
		report.WeaponsMigrated, report.KeysMigrated, report.Skipped)
	return report, nil
}

func readLegacyWeapons(path string, report *MigrationReport) ([]string, bool, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var names []string
	for _, line := range splitLines(raw) {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	report.WeaponsMigrated = len(names)
	return names, true, nil
}

func (s *Store) readLegacyKeys(path string, report *MigrationReport) (KeyTable, bool, error) {
	keys := KeyTable{}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return keys, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	for i, line := range splitLines(raw) {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, key, ok := strings.Cut(line, "=")
		name = strings.TrimSpace(name)
		key = strings.TrimSpace(key)
		if !ok || name == "" || key == "" {
			s.log.Warnf("skipping malformed key entry at %s:%d", path, i+1)
			report.Skipped++
			report.SkippedLines = append(report.SkippedLines, fmt.Sprintf("%s:%d: %s", path, i+1, line))
			continue
		}
		keys[name] = key
	}
	report.KeysMigrated = len(keys)
	return keys, true, nil
}

// splitLines normalizes CRLF input and trims each line.
func splitLines(raw []byte) []string {
	text := strings.ReplaceAll(string(raw), "\r", "")
	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return lines
}
