package journal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Entry represents a single journal line.
type Entry struct {
	Timestamp string `json:"ts"`     // RFC3339 with microseconds.
	RunID     string `json:"run_id"` // Shared by all entries of one invocation.
	Operation string `json:"op"`     // Operation name.

	// Optional fields depending on operation.
	Total     int    `json:"total,omitempty"`       // Assets considered.
	Succeeded int    `json:"succeeded,omitempty"`   // Assets that completed.
	Failed    int    `json:"failed,omitempty"`      // Assets that errored.
	Skipped   int    `json:"skipped,omitempty"`     // Assets already current.
	Duration  int64  `json:"duration_ms,omitempty"` // Wall time of the operation.
	Note      string `json:"note,omitempty"`        // Free-form detail.
}

// Append appends an entry to the journal at path.
// If writing fails, it returns silently. Operations should not fail
// just because the journal could not be written.
func Append(path string, entry Entry) {
	if path == "" {
		return
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format("2006-01-02T15:04:05.000000Z")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return
	}

	// #nosec G306 -- the journal is a plain run log, not a secret.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	_, _ = f.Write(append(data, '\n'))
}

// ReadEntries reads all entries from the journal at path.
// Returns an empty slice if the journal doesn't exist.
func ReadEntries(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return ParseEntries(data)
}

// ParseEntries parses JSON Lines data into journal entries.
// Malformed lines are silently skipped.
func ParseEntries(data []byte) ([]Entry, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var entries []Entry
	start := 0

	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			line := data[start:i]
			start = i + 1

			if len(line) == 0 {
				continue
			}

			var entry Entry
			if err := json.Unmarshal(line, &entry); err != nil {
				// Skip malformed entries.
				continue
			}
			entries = append(entries, entry)
		}
	}

	return entries, nil
}

// Tail returns the last n entries of the journal at path.
func Tail(path string, n int) ([]Entry, error) {
	entries, err := ReadEntries(path)
	if err != nil {
		return nil, err
	}
	if n <= 0 || len(entries) <= n {
		return entries, nil
	}
	return entries[len(entries)-n:], nil
}
