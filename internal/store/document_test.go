package store

import (
	"errors"
	"fmt"
	"testing"
	"time"

	werrors "github.com/wogdump/wogdump/internal/errors"
)

func TestKeyTable_Get(t *testing.T) {
	table := KeyTable{"ak_47": "abc", "empty": ""}

	key, err := table.Get("ak_47")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if key != "abc" {
		t.Errorf("Expected abc, got %s", key)
	}

	if _, err := table.Get("missing"); !errors.Is(err, werrors.ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound for missing entry, got %v", err)
	}
	if _, err := table.Get("empty"); !errors.Is(err, werrors.ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound for empty entry, got %v", err)
	}
}

func TestAssetRecord_Stale(t *testing.T) {
	now := time.Now().UTC()
	ttl := 24 * time.Hour
	fresh := AssetRecord{
		RemoteSize:    100,
		LocalSize:     100,
		LastCheckedAt: now.Add(-1 * time.Hour),
	}

	tests := []struct {
		name       string
		rec        AssetRecord
		remoteSize int64
		want       bool
	}{
		{"sizes match and check recent", fresh, 100, false},
		{"remote size unknown", fresh, -1, true},
		{"size mismatch", fresh, 150, true},
		{"check older than ttl", AssetRecord{RemoteSize: 100, LocalSize: 100, LastCheckedAt: now.Add(-25 * time.Hour)}, 100, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.Stale(tt.remoteSize, ttl, now); got != tt.want {
				t.Errorf("Stale() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComputeChecksum_IgnoresStoredChecksum(t *testing.T) {
	doc := NewDocument(time.Unix(100, 0).UTC())
	doc.Catalog = Catalog{Names: []string{"ak_47"}}

	before, err := doc.computeChecksum()
	if err != nil {
		t.Fatalf("computeChecksum failed: %v", err)
	}

	doc.Checksum = before
	after, err := doc.computeChecksum()
	if err != nil {
		t.Fatalf("computeChecksum failed: %v", err)
	}
	if before != after {
		t.Errorf("Checksum should not depend on the stored checksum field")
	}

	doc.Catalog.Names = []string{"m4a1"}
	changed, err := doc.computeChecksum()
	if err != nil {
		t.Fatalf("computeChecksum failed: %v", err)
	}
	if changed == before {
		t.Errorf("Checksum should change when the payload changes")
	}
}

func TestParseDocument_RoundTrip(t *testing.T) {
	doc := NewDocument(time.Now().UTC())
	doc.Catalog = Catalog{Names: []string{"ak_47"}, Filtered: true, Source: "spider/spider_gen"}
	doc.Keys["ak_47"] = "basekey"
	doc.Assets["ak_47"] = AssetRecord{RemoteSize: 10, LocalSize: 10, LastCheckedAt: time.Now().UTC()}

	sum, err := doc.computeChecksum()
	if err != nil {
		t.Fatalf("computeChecksum failed: %v", err)
	}
	doc.Checksum = sum

	payload, err := marshalDocument(doc)
	if err != nil {
		t.Fatalf("marshalDocument failed: %v", err)
	}

	parsed, err := parseDocument(payload)
	if err != nil {
		t.Fatalf("parseDocument rejected a valid document: %v", err)
	}
	if len(parsed.Catalog.Names) != 1 || parsed.Catalog.Names[0] != "ak_47" {
		t.Errorf("Catalog did not survive the round trip: %v", parsed.Catalog.Names)
	}
	if parsed.Keys["ak_47"] != "basekey" {
		t.Errorf("Key table did not survive the round trip")
	}
	if parsed.Assets["ak_47"].RemoteSize != 10 {
		t.Errorf("Asset record did not survive the round trip")
	}
}

func TestParseDocument_Rejections(t *testing.T) {
	if _, err := parseDocument([]byte("not json")); !errors.Is(err, werrors.ErrStorageCorrupt) {
		t.Errorf("Expected ErrStorageCorrupt for garbage, got %v", err)
	}

	tooNew := fmt.Sprintf(`{"schema_version": %d}`, SchemaVersion+1)
	if _, err := parseDocument([]byte(tooNew)); !errors.Is(err, werrors.ErrSchemaTooNew) {
		t.Errorf("Expected ErrSchemaTooNew, got %v", err)
	}

	if _, err := parseDocument([]byte(`{"catalog": {"names": []}}`)); !errors.Is(err, werrors.ErrStorageCorrupt) {
		t.Errorf("Expected ErrStorageCorrupt for missing schema version, got %v", err)
	}
}
