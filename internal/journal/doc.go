// Package journal records a run history for wogdump operations.
//
// Every significant operation (catalog refresh, key refresh, downloads,
// decryption, migration) appends one line summarizing what happened.
// The history makes `wogdump status` useful and helps diagnose runs
// that were interrupted halfway.
//
// # Log Format
//
// The journal is stored as JSON Lines (one JSON object per line) at:
//
//	runtime/journal.jsonl
//
// Each entry contains:
//   - Timestamp (RFC3339 with microseconds, UTC)
//   - Run ID shared by every entry of one invocation
//   - Operation name
//   - Operation-specific counters (total, succeeded, failed, skipped)
//
// # Failure Handling
//
// Journal writes are best-effort. If a write fails (permissions, disk
// full, etc.), the operation continues without error. Operations should
// never fail just because the journal could not be written.
//
// # Reading Logs
//
// Use Tail() or ReadEntries() to parse the journal for display.
// Malformed entries are silently skipped to handle partial writes.
package journal
