package bonsaihg

import (
	"context"
	"sync"
	"time"

	"github.com/scmcore/corestore/internal/config"
)

// rendezvous batches concurrent lookups for a short window before
// issuing a single underlying query, per the Design Notes "Rendez-vous
// batching": "accumulate concurrent keys for up to a small delay, then
// issue one query". Bonsai-keyed and hg-keyed lookups get independent
// instances so a burst of one kind never delays the other.
type rendezvous struct {
	cfg   config.RendezVous
	fetch func(ctx context.Context, keys []string) (map[string]Entry, error)

	mu      sync.Mutex
	pending map[string][]chan rendezResult
	timer   *time.Timer
}

type rendezResult struct {
	entry Entry
	ok    bool
	err   error
}

func newRendezvous(cfg config.RendezVous, fetch func(ctx context.Context, keys []string) (map[string]Entry, error)) *rendezvous {
	return &rendezvous{cfg: cfg, fetch: fetch, pending: make(map[string][]chan rendezResult)}
}

// Get joins (or starts) the in-flight batch for key and blocks until it
// resolves, returning ok=false if key had no mapping.
func (r *rendezvous) Get(ctx context.Context, key string) (Entry, bool, error) {
	ch := make(chan rendezResult, 1)

	r.mu.Lock()
	r.pending[key] = append(r.pending[key], ch)
	if r.timer == nil {
		r.timer = time.AfterFunc(r.cfg.Window, r.flush)
	}
	atCap := r.cfg.MaxBatch > 0 && len(r.pending) >= r.cfg.MaxBatch
	if atCap && r.timer != nil {
		// Batch is full: flush immediately instead of waiting out the
		// window, so a hot key set doesn't pay the full delay on every
		// request once MaxBatch is reached.
		r.timer.Stop()
		r.timer = nil
	}
	r.mu.Unlock()

	if atCap {
		r.flush()
	}

	select {
	case res := <-ch:
		return res.entry, res.ok, res.err
	case <-ctx.Done():
		return Entry{}, false, ctx.Err()
	}
}

func (r *rendezvous) flush() {
	r.mu.Lock()
	batch := r.pending
	r.pending = make(map[string][]chan rendezResult)
	r.timer = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	keys := make([]string, 0, len(batch))
	for k := range batch {
		keys = append(keys, k)
	}

	found, err := r.fetch(context.Background(), keys)
	for k, chans := range batch {
		entry, ok := found[k]
		for _, ch := range chans {
			ch <- rendezResult{entry: entry, ok: ok, err: err}
		}
	}
}
