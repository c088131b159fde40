package catalog

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/wogdump/wogdump/internal/config"
	werrors "github.com/wogdump/wogdump/internal/errors"
	"github.com/wogdump/wogdump/internal/fetch"
	logger "github.com/wogdump/wogdump/internal/logging"
	"github.com/wogdump/wogdump/internal/store"
)

// Fetcher is the slice of the HTTP client the refresher needs.
type Fetcher interface {
	HeadSize(ctx context.Context, url string) (fetch.HeadResult, error)
	FetchFile(ctx context.Context, url, dest string) (fetch.FetchResult, error)
}

// Parse reads the banner manifest: one entry per line, blank lines and
// # comments ignored, each entry truncated at its ".png" banner-image
// suffix. Returns werrors.ErrEmptyCatalog when nothing parses.
func Parse(r io.Reader) ([]string, error) {
	var names []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(strings.ReplaceAll(scanner.Text(), "\r", ""))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if idx := strings.Index(line, ".png"); idx >= 0 {
			line = line[:idx]
		}
		if line == "" {
			continue
		}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read asset listing: %w", err)
	}
	if len(names) == 0 {
		return nil, werrors.ErrEmptyCatalog
	}
	return names, nil
}

// Filter drops blacklisted names, preserving order, and reports how many
// were removed.
func Filter(names, blacklist []string) ([]string, int) {
	if len(blacklist) == 0 {
		return names, 0
	}
	blocked := make(map[string]struct{}, len(blacklist))
	for _, b := range blacklist {
		blocked[b] = struct{}{}
	}
	kept := make([]string, 0, len(names))
	removed := 0
	for _, name := range names {
		if _, ok := blocked[name]; ok {
			removed++
			continue
		}
		kept = append(kept, name)
	}
	return kept, removed
}

// Refresher keeps the weapon catalog in the cache document current.
type Refresher struct {
	cfg config.Config
	st  *store.Store
	fc  Fetcher
	log logger.Logger
}

// NewRefresher wires a refresher to the store and fetch client.
func NewRefresher(cfg config.Config, st *store.Store, fc Fetcher, log logger.Logger) *Refresher {
	return &Refresher{cfg: cfg, st: st, fc: fc, log: log}
}

// Refresh returns the current catalog, downloading the listing asset
// when it is stale. A cached catalog whose listing still matches the
// server size within the TTL is reused without a download; otherwise the
// catalog is replaced wholesale.
func (r *Refresher) Refresh(ctx context.Context, force bool) (store.Catalog, error) {
	doc, err := r.st.Load()
	if err != nil {
		return store.Catalog{}, err
	}

	name := r.cfg.ListingAsset
	now := time.Now().UTC()

	if !force && len(doc.Catalog.Names) > 0 {
		if rec, ok := doc.Assets[name]; ok {
			probeCtx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout.Duration)
			head, probeErr := r.fc.HeadSize(probeCtx, r.cfg.ListingURL())
			cancel()
			if probeErr == nil && !rec.Stale(head.Size, r.cfg.CacheTTL.Duration, now) {
				r.log.Infof("weapon catalog is current (%d names)", len(doc.Catalog.Names))
				err = r.st.Mutate(func(d *store.Document) {
					rec := d.Assets[name]
					rec.RemoteSize = head.Size
					rec.LastCheckedAt = now
					if head.VersionHint != "" {
						rec.VersionHint = head.VersionHint
					}
					d.Assets[name] = rec
				})
				if err != nil {
					return store.Catalog{}, err
				}
				return doc.Catalog, nil
			}
			if probeErr != nil {
				r.log.Debugf("listing probe failed, refreshing anyway: %v", probeErr)
			}
		}
	}

	dest := r.cfg.AssetPath(name)
	res, err := r.fc.FetchFile(ctx, r.cfg.ListingURL(), dest)
	if err != nil {
		return store.Catalog{}, fmt.Errorf("failed to download asset listing: %w", err)
	}

	file, err := os.Open(dest)
	if err != nil {
		return store.Catalog{}, fmt.Errorf("failed to open asset listing: %w", err)
	}
	names, parseErr := Parse(file)
	file.Close()
	if parseErr != nil {
		return store.Catalog{}, parseErr
	}

	kept, removed := Filter(names, r.cfg.Blacklist)
	if removed > 0 {
		r.log.Infof("filtered %d blacklisted weapons", removed)
	}

	result := store.Catalog{
		Names:    kept,
		Filtered: len(r.cfg.Blacklist) > 0,
		Source:   name,
	}
	err = r.st.Mutate(func(d *store.Document) {
		d.Catalog = result
		d.Assets[name] = store.AssetRecord{
			RemoteSize:       res.RemoteSize,
			LocalSize:        res.BytesWritten,
			LastCheckedAt:    now,
			LastDownloadedAt: now,
			VersionHint:      res.VersionHint,
		}
	})
	if err != nil {
		return store.Catalog{}, err
	}
	r.log.Infof("weapon catalog refreshed: %d names", len(kept))
	return result, nil
}
