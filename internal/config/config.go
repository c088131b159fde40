package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	werrors "github.com/wogdump/wogdump/internal/errors"
)

// Bounds enforced by Validate.
const (
	MaxWorkers   = 16
	MinChunkSize = 1 << 10
	MaxChunkSize = 1 << 20
	MaxRetries   = 10
	MaxBackups   = 10
)

// Duration wraps time.Duration so TOML config files can use values like "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler for TOML encoding.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config holds every tunable of the tool. One value is built at CLI startup
// and passed to each component; components never reach for globals.
type Config struct {
	BaseDir string `toml:"base_dir"`

	DataBaseURL   string `toml:"data_base_url"`
	ListingAsset  string `toml:"listing_asset"`
	KeyServiceURL string `toml:"key_service_url"`

	AppVersion   string `toml:"app_version"`
	UnityVersion string `toml:"unity_version"`
	GameMode     string `toml:"game_mode"`
	DeviceID     string `toml:"device_id"`
	AuthSession  int    `toml:"auth_session"`
	AuthID       int    `toml:"auth_id"`

	Workers        int      `toml:"workers"`
	ChunkSize      int      `toml:"chunk_size"`
	BatchSize      int      `toml:"batch_size"`
	RetryMax       int      `toml:"retry_max"`
	RetryWaitMin   Duration `toml:"retry_wait_min"`
	RetryWaitMax   Duration `toml:"retry_wait_max"`
	RequestTimeout Duration `toml:"request_timeout"`
	ProbeTimeout   Duration `toml:"probe_timeout"`
	CacheTTL       Duration `toml:"cache_ttl"`
	BackupCount    int      `toml:"backup_count"`

	Blacklist []string `toml:"blacklist"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		BaseDir:        "wog-data",
		DataBaseURL:    "https://data1eu.ultimate-disassembly.com/uni2018",
		ListingAsset:   "spider/spider_gen",
		KeyServiceURL:  "https://eu1.ultimate-disassembly.com/v/query2018.php?soc=steam",
		AppVersion:     "2.2.1z5",
		UnityVersion:   "2019.2.18f1",
		GameMode:       "FIELD_STRIP",
		DeviceID:       "e35c060a502dd9fdee3bfa107ab0cc24477f6a1a",
		AuthSession:    37,
		AuthID:         5390315,
		Workers:        4,
		ChunkSize:      8192,
		BatchSize:      50,
		RetryMax:       3,
		RetryWaitMin:   Duration{1 * time.Second},
		RetryWaitMax:   Duration{30 * time.Second},
		RequestTimeout: Duration{30 * time.Second},
		ProbeTimeout:   Duration{10 * time.Second},
		CacheTTL:       Duration{24 * time.Hour},
		BackupCount:    3,
		Blacklist: []string{
			"hk_g28", "drag_racing", "tac_50", "zis_tmp",
			"groza_1", "glock_19x", "cat_349f",
		},
	}
}

// Load returns the default configuration, overlaid with the TOML file at
// path when one is given. The result is not validated; callers apply flag
// overrides first and then call Validate.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if err := LoadTOML(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every bound the tool relies on. The returned error wraps
// werrors.ErrInvalidConfig and names the first offending field.
func (c Config) Validate() error {
	if c.BaseDir == "" {
		return invalidf("base_dir must not be empty")
	}
	if c.DataBaseURL == "" {
		return invalidf("data_base_url must not be empty")
	}
	if c.ListingAsset == "" {
		return invalidf("listing_asset must not be empty")
	}
	if c.KeyServiceURL == "" {
		return invalidf("key_service_url must not be empty")
	}
	if c.Workers < 1 || c.Workers > MaxWorkers {
		return invalidf("workers must be between 1 and %d, got %d", MaxWorkers, c.Workers)
	}
	if c.ChunkSize < MinChunkSize || c.ChunkSize > MaxChunkSize {
		return invalidf("chunk_size must be between %d and %d, got %d", MinChunkSize, MaxChunkSize, c.ChunkSize)
	}
	if c.BatchSize < 1 {
		return invalidf("batch_size must be at least 1, got %d", c.BatchSize)
	}
	if c.RetryMax < 0 || c.RetryMax > MaxRetries {
		return invalidf("retry_max must be between 0 and %d, got %d", MaxRetries, c.RetryMax)
	}
	if c.RetryWaitMin.Duration <= 0 {
		return invalidf("retry_wait_min must be positive, got %s", c.RetryWaitMin)
	}
	if c.RetryWaitMax.Duration < c.RetryWaitMin.Duration {
		return invalidf("retry_wait_max must not be below retry_wait_min")
	}
	if c.RequestTimeout.Duration <= 0 {
		return invalidf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.ProbeTimeout.Duration <= 0 {
		return invalidf("probe_timeout must be positive, got %s", c.ProbeTimeout)
	}
	if c.CacheTTL.Duration <= 0 {
		return invalidf("cache_ttl must be positive, got %s", c.CacheTTL)
	}
	if c.BackupCount < 0 || c.BackupCount > MaxBackups {
		return invalidf("backup_count must be between 0 and %d, got %d", MaxBackups, c.BackupCount)
	}
	return nil
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", werrors.ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// AssetsDir returns the directory holding downloaded encrypted bundles.
func (c Config) AssetsDir() string { return filepath.Join(c.BaseDir, "assets") }

// DecryptedDir returns the directory holding decrypted bundles.
func (c Config) DecryptedDir() string { return filepath.Join(c.BaseDir, "decrypted") }

// RuntimeDir returns the directory holding the cache document and journal.
func (c Config) RuntimeDir() string { return filepath.Join(c.BaseDir, "runtime") }

// StateFile returns the path of the cache document.
func (c Config) StateFile() string { return filepath.Join(c.RuntimeDir(), "data.json") }

// JournalFile returns the path of the operation journal.
func (c Config) JournalFile() string { return filepath.Join(c.RuntimeDir(), "journal.jsonl") }

// LegacyWeaponsFile returns the pre-rewrite weapon list location.
func (c Config) LegacyWeaponsFile() string { return filepath.Join(c.BaseDir, "weapons.txt") }

// LegacyKeysFile returns the pre-rewrite key table location.
func (c Config) LegacyKeysFile() string { return filepath.Join(c.BaseDir, "keys.txt") }

// ConfigFile returns the default TOML config location under BaseDir.
func (c Config) ConfigFile() string { return filepath.Join(c.BaseDir, "wogdump.toml") }

// AssetURL returns the download URL for a named asset.
func (c Config) AssetURL(name string) string {
	return c.DataBaseURL + "/" + name + ".unity3d"
}

// ListingURL returns the URL of the asset that carries the weapon catalog.
func (c Config) ListingURL() string { return c.AssetURL(c.ListingAsset) }

// AssetPath returns the local path of a downloaded asset.
func (c Config) AssetPath(name string) string {
	return filepath.Join(c.AssetsDir(), filepath.FromSlash(name)+".unity3d")
}

// DecryptedPath returns the local path of a decrypted asset.
func (c Config) DecryptedPath(name string) string {
	return filepath.Join(c.DecryptedDir(), filepath.FromSlash(name)+".unity3d")
}

// UserAgent returns the client identity the data server expects.
func (c Config) UserAgent() string {
	return fmt.Sprintf("UnityPlayer/%s (UnityWebRequest/1.0, libcurl/7.52.0-DEV)", c.UnityVersion)
}

// SaveTOML saves a struct to a TOML file.
func SaveTOML(filePath string, data interface{}) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0700); err != nil {
		return err
	}

	file, err := os.Create(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	return toml.NewEncoder(file).Encode(data)
}

// LoadTOML loads a TOML file into a struct.
func LoadTOML(filePath string, data interface{}) error {
	_, err := toml.DecodeFile(filePath, data)
	return err
}
