package download

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wogdump/wogdump/internal/config"
	"github.com/wogdump/wogdump/internal/fetch"
	logger "github.com/wogdump/wogdump/internal/logging"
	"github.com/wogdump/wogdump/internal/store"
)

// Fetcher is the slice of the HTTP client the coordinator drives. The
// concrete implementation is fetch.Fetcher; tests substitute fakes.
type Fetcher interface {
	HeadSize(ctx context.Context, url string) (fetch.HeadResult, error)
	FetchFile(ctx context.Context, url, dest string) (fetch.FetchResult, error)
}

// BatchResult reports one download run. Failures are keyed by asset
// name; assets abandoned by cancellation appear in neither list.
type BatchResult struct {
	Succeeded []string
	Failed    map[string]error
	Checked   int
}

// Progress is emitted after each batch of a batched run.
type Progress struct {
	Batch     int
	Batches   int
	Completed int
	Total     int
	Succeeded int
	Failed    int
}

// Coordinator drives probes and downloads with a bounded worker pool.
// Workers only talk to the network; every cache mutation is applied by
// the coordinating goroutine, so the store sees a single writer.
type Coordinator struct {
	cfg config.Config
	st  *store.Store
	fc  Fetcher
	log logger.Logger
}

// NewCoordinator wires a coordinator to the store and fetch client.
func NewCoordinator(cfg config.Config, st *store.Store, fc Fetcher, log logger.Logger) *Coordinator {
	return &Coordinator{cfg: cfg, st: st, fc: fc, log: log}
}

// CheckForUpdates probes every named asset and reports which are stale.
// An asset with no metadata record is always stale, and so is one whose
// probe failed or timed out. After a live probe the decision is a size
// comparison; the TTL only ages offline decisions. Successful probes
// update the asset's remote size and check timestamp in one commit.
func (c *Coordinator) CheckForUpdates(ctx context.Context, names []string) (map[string]bool, error) {
	doc, err := c.st.Load()
	if err != nil {
		return nil, err
	}

	type probe struct {
		name string
		head fetch.HeadResult
		err  error
	}

	var mu sync.Mutex
	probes := make([]probe, 0, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)
	for _, name := range names {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(gctx, c.cfg.ProbeTimeout.Duration)
			head, probeErr := c.fc.HeadSize(probeCtx, c.cfg.AssetURL(name))
			cancel()
			mu.Lock()
			probes = append(probes, probe{name: name, head: head, err: probeErr})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	stale := make(map[string]bool, len(names))
	checked := make(map[string]fetch.HeadResult, len(probes))

	for _, p := range probes {
		if p.err != nil {
			c.log.Debugf("probe failed for %s, assuming stale: %v", p.name, p.err)
			stale[p.name] = true
			continue
		}
		rec, ok := doc.Assets[p.name]
		if !ok {
			stale[p.name] = true
		} else {
			stale[p.name] = p.head.Size < 0 || p.head.Size != rec.LocalSize
		}
		checked[p.name] = p.head
	}

	if len(checked) > 0 {
		err = c.st.Mutate(func(d *store.Document) {
			for name, head := range checked {
				rec := d.Assets[name]
				rec.RemoteSize = head.Size
				rec.LastCheckedAt = now
				if head.VersionHint != "" {
					rec.VersionHint = head.VersionHint
				}
				d.Assets[name] = rec
			}
		})
		if err != nil {
			return nil, err
		}
	}
	return stale, nil
}

// DownloadAssets downloads every stale named asset, or all of them when
// force is set. Fetches run in parallel up to the worker limit; results
// come back to this goroutine, which applies one store commit per
// success as they arrive. Per-asset failures land in the result, never
// abort the batch. A cancelled run stops dispatching, commits nothing
// for abandoned fetches, and returns the partial result with ctx's
// error.
func (c *Coordinator) DownloadAssets(ctx context.Context, names []string, force bool) (*BatchResult, error) {
	res := &BatchResult{Failed: map[string]error{}, Checked: len(names)}

	targets := names
	if !force {
		stale, err := c.CheckForUpdates(ctx, names)
		if err != nil {
			return res, err
		}
		targets = make([]string, 0, len(names))
		for _, name := range names {
			if stale[name] {
				targets = append(targets, name)
			}
		}
	}
	if len(targets) == 0 {
		c.log.Infof("all %d assets are current", len(names))
		return res, nil
	}
	c.log.Infof("downloading %d of %d assets", len(targets), len(names))

	type outcome struct {
		name string
		res  fetch.FetchResult
		err  error
	}
	results := make(chan outcome)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)
	go func() {
		for _, name := range targets {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				fr, fetchErr := c.fc.FetchFile(gctx, c.cfg.AssetURL(name), c.cfg.AssetPath(name))
				select {
				case results <- outcome{name: name, res: fr, err: fetchErr}:
				case <-gctx.Done():
				}
				return nil
			})
		}
		g.Wait()
		close(results)
	}()

	for out := range results {
		if out.err != nil {
			if errors.Is(out.err, context.Canceled) {
				continue
			}
			c.log.Warnf("download failed for %s: %v", out.name, out.err)
			res.Failed[out.name] = out.err
			continue
		}
		if ctx.Err() != nil {
			continue
		}

		now := time.Now().UTC()
		commitErr := c.st.Mutate(func(d *store.Document) {
			d.Assets[out.name] = store.AssetRecord{
				RemoteSize:       out.res.RemoteSize,
				LocalSize:        out.res.BytesWritten,
				LastCheckedAt:    now,
				LastDownloadedAt: now,
				VersionHint:      out.res.VersionHint,
			}
		})
		if commitErr != nil {
			res.Failed[out.name] = commitErr
			continue
		}
		res.Succeeded = append(res.Succeeded, out.name)
	}

	sort.Strings(res.Succeeded)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// DownloadAssetsBatched runs DownloadAssets in slices of the configured
// batch size, emitting a Progress callback after each batch. A nil
// callback is allowed.
func (c *Coordinator) DownloadAssetsBatched(ctx context.Context, names []string, force bool, onBatch func(Progress)) (*BatchResult, error) {
	total := &BatchResult{Failed: map[string]error{}}
	size := c.cfg.BatchSize
	batches := (len(names) + size - 1) / size

	for i := 0; i < len(names); i += size {
		end := i + size
		if end > len(names) {
			end = len(names)
		}
		part, err := c.DownloadAssets(ctx, names[i:end], force)
		total.Succeeded = append(total.Succeeded, part.Succeeded...)
		for name, ferr := range part.Failed {
			total.Failed[name] = ferr
		}
		total.Checked += part.Checked
		if onBatch != nil {
			onBatch(Progress{
				Batch:     i/size + 1,
				Batches:   batches,
				Completed: end,
				Total:     len(names),
				Succeeded: len(total.Succeeded),
				Failed:    len(total.Failed),
			})
		}
		if err != nil {
			return total, err
		}
	}
	sort.Strings(total.Succeeded)
	return total, nil
}
