package store

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	werrors "github.com/wogdump/wogdump/internal/errors"
)

// SchemaVersion is the document format this build reads and writes.
// It only ever increases; documents stamped with a higher version are
// refused rather than reinterpreted.
const SchemaVersion = 2

// Catalog is the ordered list of known weapon names. It is replaced
// wholesale on refresh, never partially updated.
type Catalog struct {
	Names    []string `json:"names"`
	Filtered bool     `json:"filtered"`
	Source   string   `json:"source,omitempty"`
}

// KeyTable maps an asset name to its opaque decryption key. Entries are
// added or overwritten, never silently dropped.
type KeyTable map[string]string

// Get returns the key stored for name. A missing or empty entry returns
// werrors.ErrKeyNotFound; an empty key is never a successful lookup.
func (t KeyTable) Get(name string) (string, error) {
	key, ok := t[name]
	if !ok || key == "" {
		return "", fmt.Errorf("%w: %s", werrors.ErrKeyNotFound, name)
	}
	return key, nil
}

// AssetRecord tracks what is known about one downloaded or probed asset.
// A record exists only for assets that have been downloaded or checked at
// least once.
type AssetRecord struct {
	RemoteSize       int64     `json:"remote_size"`
	LocalSize        int64     `json:"local_size"`
	LastCheckedAt    time.Time `json:"last_checked_at"`
	LastDownloadedAt time.Time `json:"last_downloaded_at"`
	VersionHint      string    `json:"version_hint,omitempty"`
}

// Stale reports whether the asset needs another download. remoteSize < 0
// means the server did not report a size; that counts as stale.
func (r AssetRecord) Stale(remoteSize int64, ttl time.Duration, now time.Time) bool {
	if remoteSize < 0 {
		return true
	}
	if remoteSize != r.LocalSize {
		return true
	}
	return now.Sub(r.LastCheckedAt) > ttl
}

// Document is the single JSON document holding all tool state.
type Document struct {
	SchemaVersion int                    `json:"schema_version"`
	Catalog       Catalog                `json:"catalog"`
	Keys          KeyTable               `json:"key_table"`
	Assets        map[string]AssetRecord `json:"cache_metadata"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	Checksum      string                 `json:"checksum,omitempty"`
}

// NewDocument returns an empty document at the current schema version.
func NewDocument(now time.Time) *Document {
	return &Document{
		SchemaVersion: SchemaVersion,
		Keys:          KeyTable{},
		Assets:        map[string]AssetRecord{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// normalize makes the maps usable after unmarshaling a document that
// omitted them.
func (d *Document) normalize() {
	if d.Keys == nil {
		d.Keys = KeyTable{}
	}
	if d.Assets == nil {
		d.Assets = map[string]AssetRecord{}
	}
}

// computeChecksum hashes the document payload with the checksum field
// cleared, so the stored value can be verified on load.
func (d *Document) computeChecksum() (string, error) {
	shadow := *d
	shadow.Checksum = ""
	payload, err := json.Marshal(&shadow)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// marshalDocument renders the document the way it is stored on disk.
// Indented output keeps the file diffable and hand-inspectable.
func marshalDocument(doc *Document) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

// parseDocument validates raw bytes into a usable document.
func parseDocument(raw []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", werrors.ErrStorageCorrupt, err)
	}
	if doc.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("%w: document is version %d, this build supports up to %d",
			werrors.ErrSchemaTooNew, doc.SchemaVersion, SchemaVersion)
	}
	if doc.SchemaVersion < 1 {
		return nil, fmt.Errorf("%w: missing schema version", werrors.ErrStorageCorrupt)
	}
	if doc.Checksum != "" {
		want := doc.Checksum
		got, err := doc.computeChecksum()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", werrors.ErrStorageCorrupt, err)
		}
		if got != want {
			return nil, fmt.Errorf("%w: checksum mismatch", werrors.ErrStorageCorrupt)
		}
	}
	doc.normalize()
	return &doc, nil
}
