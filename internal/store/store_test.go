package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wogdump/wogdump/internal/config"
	werrors "github.com/wogdump/wogdump/internal/errors"
	logger "github.com/wogdump/wogdump/internal/logging"
)

func newTestStore(t *testing.T, backups int) (*Store, config.Config) {
	t.Helper()

	cfg := config.Default()
	cfg.BaseDir = t.TempDir()
	cfg.BackupCount = backups

	st, err := Open(cfg, logger.Logger{})
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	return st, cfg
}

func TestLoad_MissingFileReturnsFresh(t *testing.T) {
	st, cfg := newTestStore(t, 3)

	doc, err := st.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if doc.SchemaVersion != SchemaVersion {
		t.Errorf("Expected schema version %d, got %d", SchemaVersion, doc.SchemaVersion)
	}
	if doc.Keys == nil || doc.Assets == nil {
		t.Errorf("Fresh document should have usable maps")
	}

	// Loading alone must not create the file.
	if _, err := os.Stat(cfg.StateFile()); !os.IsNotExist(err) {
		t.Errorf("Load should not create the state file")
	}
}

func TestMutate_PersistsDocument(t *testing.T) {
	st, cfg := newTestStore(t, 3)

	err := st.Mutate(func(d *Document) {
		d.Catalog = Catalog{Names: []string{"ak_47", "m4a1"}, Source: "test"}
		d.Keys["ak_47"] = "abc123"
	})
	if err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}

	// A brand new store must see the committed state.
	st2, err := Open(cfg, logger.Logger{})
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	doc, err := st2.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(doc.Catalog.Names) != 2 {
		t.Errorf("Expected 2 catalog names, got %d", len(doc.Catalog.Names))
	}
	key, err := doc.Keys.Get("ak_47")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if key != "abc123" {
		t.Errorf("Expected key abc123, got %s", key)
	}
	if doc.Checksum == "" {
		t.Errorf("Committed document should carry a checksum")
	}
	if doc.CreatedAt.IsZero() || doc.UpdatedAt.IsZero() {
		t.Errorf("Committed document should carry timestamps")
	}
}

func TestMutate_LeavesNoTempFiles(t *testing.T) {
	st, cfg := newTestStore(t, 3)

	for i := 0; i < 3; i++ {
		if err := st.Mutate(func(d *Document) { d.Keys["k"] = "v" }); err != nil {
			t.Fatalf("Mutate failed: %v", err)
		}
	}

	matches, err := filepath.Glob(filepath.Join(cfg.RuntimeDir(), ".data.json.tmp-*"))
	if err != nil {
		t.Fatalf("Glob failed: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("Expected no temp files after commits, found %v", matches)
	}
}

func TestOpen_SweepsStaleTemps(t *testing.T) {
	cfg := config.Default()
	cfg.BaseDir = t.TempDir()
	if err := os.MkdirAll(cfg.RuntimeDir(), 0700); err != nil {
		t.Fatalf("Failed to create runtime dir: %v", err)
	}

	// Simulate a write that died before the rename.
	stale := filepath.Join(cfg.RuntimeDir(), ".data.json.tmp-12345")
	if err := os.WriteFile(stale, []byte("half written"), 0600); err != nil {
		t.Fatalf("Failed to plant stale temp: %v", err)
	}

	if _, err := Open(cfg, logger.Logger{}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("Stale temp file should have been swept on open")
	}
}

func TestMutate_RotatesBackups(t *testing.T) {
	st, cfg := newTestStore(t, 2)

	for _, name := range []string{"first", "second", "third"} {
		err := st.Mutate(func(d *Document) {
			d.Catalog = Catalog{Names: []string{name}}
		})
		if err != nil {
			t.Fatalf("Mutate %s failed: %v", name, err)
		}
	}

	// Newest backup holds the state before the last commit.
	bak1, err := os.ReadFile(cfg.StateFile() + ".bak.1")
	if err != nil {
		t.Fatalf("Failed to read bak.1: %v", err)
	}
	if !strings.Contains(string(bak1), "second") {
		t.Errorf("bak.1 should hold the second commit")
	}

	bak2, err := os.ReadFile(cfg.StateFile() + ".bak.2")
	if err != nil {
		t.Fatalf("Failed to read bak.2: %v", err)
	}
	if !strings.Contains(string(bak2), "first") {
		t.Errorf("bak.2 should hold the first commit")
	}

	if _, err := os.Stat(cfg.StateFile() + ".bak.3"); !os.IsNotExist(err) {
		t.Errorf("Backup chain should stop at the configured depth")
	}
}

func TestLoad_CorruptFallsBackToBackup(t *testing.T) {
	st, cfg := newTestStore(t, 3)

	if err := st.Mutate(func(d *Document) {
		d.Catalog = Catalog{Names: []string{"ak_47"}}
	}); err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	if err := st.Mutate(func(d *Document) {
		d.Catalog = Catalog{Names: []string{"ak_47", "m4a1"}}
	}); err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}

	// Smash the main document.
	if err := os.WriteFile(cfg.StateFile(), []byte("{ not json"), 0600); err != nil {
		t.Fatalf("Failed to corrupt state file: %v", err)
	}

	doc, err := st.Load()
	if err != nil {
		t.Fatalf("Load should have recovered from backup: %v", err)
	}
	if len(doc.Catalog.Names) != 1 || doc.Catalog.Names[0] != "ak_47" {
		t.Errorf("Expected the backed up state, got %v", doc.Catalog.Names)
	}
}

func TestLoad_ChecksumMismatchRejected(t *testing.T) {
	st, cfg := newTestStore(t, 0)

	if err := st.Mutate(func(d *Document) {
		d.Catalog = Catalog{Names: []string{"ak_47"}}
	}); err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}

	// Change the payload while keeping the JSON valid.
	raw, err := os.ReadFile(cfg.StateFile())
	if err != nil {
		t.Fatalf("Failed to read state file: %v", err)
	}
	tampered := strings.Replace(string(raw), "ak_47", "ak_48", 1)
	if tampered == string(raw) {
		t.Fatalf("Test payload did not contain the expected name")
	}
	if err := os.WriteFile(cfg.StateFile(), []byte(tampered), 0600); err != nil {
		t.Fatalf("Failed to write tampered file: %v", err)
	}

	if _, err := st.Load(); !errors.Is(err, werrors.ErrStorageCorrupt) {
		t.Errorf("Expected ErrStorageCorrupt, got %v", err)
	}
}

func TestLoad_SchemaTooNewRejected(t *testing.T) {
	st, cfg := newTestStore(t, 0)

	payload, err := json.Marshal(map[string]int{"schema_version": SchemaVersion + 1})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if err := os.WriteFile(cfg.StateFile(), payload, 0600); err != nil {
		t.Fatalf("Failed to write state file: %v", err)
	}

	if _, err := st.Load(); !errors.Is(err, werrors.ErrSchemaTooNew) {
		t.Errorf("Expected ErrSchemaTooNew, got %v", err)
	}
}

func TestLoad_AllBackupsCorrupt(t *testing.T) {
	st, cfg := newTestStore(t, 2)

	if err := st.Mutate(func(d *Document) { d.Keys["a"] = "1" }); err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	if err := st.Mutate(func(d *Document) { d.Keys["b"] = "2" }); err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}

	for _, path := range []string{cfg.StateFile(), cfg.StateFile() + ".bak.1", cfg.StateFile() + ".bak.2"} {
		if err := os.WriteFile(path, []byte("garbage"), 0600); err != nil {
			t.Fatalf("Failed to corrupt %s: %v", path, err)
		}
	}

	if _, err := st.Load(); !errors.Is(err, werrors.ErrStorageCorrupt) {
		t.Errorf("Expected ErrStorageCorrupt when nothing validates, got %v", err)
	}
}

func TestReplace_OverwritesCorruptDocument(t *testing.T) {
	st, cfg := newTestStore(t, 1)

	if err := os.WriteFile(cfg.StateFile(), []byte("garbage"), 0600); err != nil {
		t.Fatalf("Failed to plant corrupt file: %v", err)
	}

	fresh := NewDocument(time.Now().UTC())
	fresh.Catalog = Catalog{Names: []string{"imported"}, Source: "legacy"}
	if err := st.Replace(fresh); err != nil {
		t.Fatalf("Replace should not care about the corrupt document: %v", err)
	}

	doc, err := st.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if doc.Catalog.Source != "legacy" {
		t.Errorf("Expected the replaced document, got source %q", doc.Catalog.Source)
	}

	// The corrupt file survives as evidence in the backups.
	bak, err := os.ReadFile(cfg.StateFile() + ".bak.1")
	if err != nil {
		t.Fatalf("Failed to read bak.1: %v", err)
	}
	if string(bak) != "garbage" {
		t.Errorf("Expected the corrupt document in bak.1, got %q", bak)
	}
}

func TestMutate_ConcurrentWriters(t *testing.T) {
	st, _ := newTestStore(t, 0)

	names := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := st.Mutate(func(d *Document) { d.Keys[name] = "key-" + name }); err != nil {
				t.Errorf("Mutate failed: %v", err)
			}
		}()
	}
	wg.Wait()

	doc, err := st.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(doc.Keys) != len(names) {
		t.Errorf("Expected %d keys, got %d", len(names), len(doc.Keys))
	}
}
