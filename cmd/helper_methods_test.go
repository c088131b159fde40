package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	werrors "github.com/wogdump/wogdump/internal/errors"
)

func TestSelectNames_Patterns(t *testing.T) {
	names := []string{"ak_47", "ak_74", "m4a1", "mosin"}

	tests := []struct {
		name     string
		patterns []string
		want     []string
	}{
		{"no patterns selects everything", nil, []string{"ak_47", "ak_74", "m4a1", "mosin"}},
		{"single glob", []string{"ak_*"}, []string{"ak_47", "ak_74"}},
		{"multiple patterns keep input order", []string{"m4*", "ak_47"}, []string{"ak_47", "m4a1"}},
		{"no matches", []string{"famas"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := selectNames(names, tt.patterns)
			if err != nil {
				t.Fatalf("selectNames failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSelectNames_InvalidPattern(t *testing.T) {
	_, err := selectNames([]string{"ak_47"}, []string{"["})
	if err == nil {
		t.Fatal("Expected an error for a malformed glob")
	}
	if !strings.Contains(err.Error(), "invalid pattern") {
		t.Errorf("Expected an invalid-pattern error, got: %v", err)
	}
}

func TestBuildConfig_Defaults(t *testing.T) {
	setupTestEnvironment(t, t.TempDir())

	cfg, err := buildConfig()
	if err != nil {
		t.Fatalf("buildConfig failed: %v", err)
	}
	if cfg.BaseDir != baseDir {
		t.Errorf("Expected base dir %q, got %q", baseDir, cfg.BaseDir)
	}
	if cfg.Workers != 4 {
		t.Errorf("Expected default worker count, got %d", cfg.Workers)
	}
}

func TestBuildConfig_AutoloadsBaseDirConfig(t *testing.T) {
	setupTestEnvironment(t, t.TempDir())

	// A wogdump.toml inside the base directory is picked up without --config.
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		t.Fatalf("Failed to create base dir: %v", err)
	}
	content := "workers = 2\ncache_ttl = \"1h\"\n"
	if err := os.WriteFile(filepath.Join(baseDir, "wogdump.toml"), []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	threads = 9

	cfg, err := buildConfig()
	if err != nil {
		t.Fatalf("buildConfig failed: %v", err)
	}
	if cfg.Workers != 9 {
		t.Errorf("Expected the --threads flag to win, got %d workers", cfg.Workers)
	}
	if cfg.CacheTTL.Duration != time.Hour {
		t.Errorf("Expected cache TTL from the file, got %v", cfg.CacheTTL.Duration)
	}
	if cfg.BaseDir != baseDir {
		t.Errorf("Expected base dir %q, got %q", baseDir, cfg.BaseDir)
	}
}

func TestBuildConfig_ExplicitConfigFlag(t *testing.T) {
	tempDir := t.TempDir()
	setupTestEnvironment(t, tempDir)

	custom := filepath.Join(tempDir, "custom.toml")
	if err := os.WriteFile(custom, []byte("workers = 3\n"), 0600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	configPath = custom

	cfg, err := buildConfig()
	if err != nil {
		t.Fatalf("buildConfig failed: %v", err)
	}
	if cfg.Workers != 3 {
		t.Errorf("Expected workers from the config file, got %d", cfg.Workers)
	}
}

func TestBuildConfig_RejectsInvalidOverride(t *testing.T) {
	setupTestEnvironment(t, t.TempDir())
	threads = 99

	_, err := buildConfig()
	if !errors.Is(err, werrors.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got: %v", err)
	}
}

func TestFormatFailures_SortsByName(t *testing.T) {
	failed := map[string]error{
		"mosin": errors.New("timeout"),
		"ak_47": errors.New("no key"),
	}

	result := formatFailures(failed)
	first := strings.Index(result, "ak_47")
	second := strings.Index(result, "mosin")
	if first == -1 || second == -1 || first > second {
		t.Errorf("Expected failures sorted by name, got: %s", result)
	}
	if !strings.Contains(result, "no key") || !strings.Contains(result, "timeout") {
		t.Errorf("Expected the failure reasons, got: %s", result)
	}
}
