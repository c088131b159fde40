package keys

import (
	"context"
	"errors"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/wogdump/wogdump/internal/config"
	logger "github.com/wogdump/wogdump/internal/logging"
	"github.com/wogdump/wogdump/internal/store"
)

// Service is the slice of the key service the manager depends on.
type Service interface {
	FetchKey(ctx context.Context, asset string) (string, error)
}

// Manager reads and refreshes the key table through the store.
type Manager struct {
	cfg config.Config
	st  *store.Store
	svc Service
	log logger.Logger
}

// NewManager wires a key manager to the store and service client.
func NewManager(cfg config.Config, st *store.Store, svc Service, log logger.Logger) *Manager {
	return &Manager{cfg: cfg, st: st, svc: svc, log: log}
}

// Get returns the stored base key for an asset.
// Returns werrors.ErrKeyNotFound when no key is stored.
func (m *Manager) Get(name string) (string, error) {
	doc, err := m.st.Load()
	if err != nil {
		return "", err
	}
	return doc.Keys.Get(name)
}

// RefreshResult reports a key refresh run.
type RefreshResult struct {
	Updated []string
	Skipped int
	Failed  map[string]error
}

// Refresh fetches keys for every named asset that has none, or for all
// of them when force is set. Lookups run with bounded parallelism;
// per-asset failures are collected, never fatal to the batch. All
// obtained keys are committed in one store mutation that only adds or
// overwrites entries.
func (m *Manager) Refresh(ctx context.Context, names []string, force bool) (*RefreshResult, error) {
	doc, err := m.st.Load()
	if err != nil {
		return nil, err
	}

	res := &RefreshResult{Failed: map[string]error{}}
	var targets []string
	for _, name := range names {
		if !force {
			if key, ok := doc.Keys[name]; ok && key != "" {
				res.Skipped++
				continue
			}
		}
		targets = append(targets, name)
	}
	if len(targets) == 0 {
		m.log.Infof("all %d keys already present", res.Skipped)
		return res, nil
	}

	var mu sync.Mutex
	got := map[string]string{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Workers)
	for _, name := range targets {
		g.Go(func() error {
			key, err := m.svc.FetchKey(gctx, name)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					m.log.Warnf("no key for %s: %v", name, err)
					res.Failed[name] = err
				}
				return nil
			}
			got[name] = key
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	// Keys already fetched are committed even when the run was
	// interrupted; only the remaining lookups are abandoned.
	if len(got) > 0 {
		err = m.st.Mutate(func(d *store.Document) {
			for name, key := range got {
				d.Keys[name] = key
			}
		})
		if err != nil {
			return res, err
		}
		for name := range got {
			res.Updated = append(res.Updated, name)
		}
		sort.Strings(res.Updated)
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}

	m.log.Infof("updated %d keys, %d failed, %d already present",
		len(res.Updated), len(res.Failed), res.Skipped)
	return res, nil
}
