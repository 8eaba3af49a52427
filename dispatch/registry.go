package dispatch

import (
	"log/slog"
	"sync"

	"github.com/use-agent/apiary/models"
)

// Factory builds a pool for a configuration. Creation is seconds-scale (it
// launches a browser), so the registry guarantees it runs at most once per
// canonical key.
type Factory func(cfg ExecConfig) (*Pool, error)

// Registry lazily creates and caches one pool per distinct canonical
// execution configuration for the lifetime of the process.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
	factory Factory
}

type registryEntry struct {
	once sync.Once
	pool *Pool
	err  error
}

// NewRegistry creates a Registry backed by the given factory.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		entries: make(map[string]*registryEntry),
		factory: factory,
	}
}

// GetOrCreate returns the pool for the configuration, creating it on first
// use. Concurrent first-use calls for the same key observe exactly one
// creation; creation for one key never blocks lookups for another.
func (r *Registry) GetOrCreate(cfg ExecConfig) (*Pool, error) {
	key := cfg.Key()

	r.mu.Lock()
	entry, ok := r.entries[key]
	if !ok {
		entry = &registryEntry{}
		r.entries[key] = entry
	}
	r.mu.Unlock()

	entry.once.Do(func() {
		slog.Info("creating worker pool", "key", key)
		entry.pool, entry.err = r.factory(cfg)
		if entry.err != nil {
			slog.Error("worker pool creation failed", "key", key, "error", entry.err)
			// Drop the failed entry so a later request can retry creation.
			r.mu.Lock()
			delete(r.entries, key)
			r.mu.Unlock()
		} else {
			slog.Info("worker pool ready", "key", key)
		}
	})
	return entry.pool, entry.err
}

// Submit routes a job to the pool for the configuration, creating the pool
// if needed.
func (r *Registry) Submit(cfg ExecConfig, job *models.Job) error {
	pool, err := r.GetOrCreate(cfg)
	if err != nil {
		return err
	}
	job.Measures.Add(models.MeasureBeforeQueueAdd)
	return pool.Submit(job)
}

// Prewarm creates the pools for the given configurations up front so the
// first user request of each kind does not pay pool-creation latency.
func (r *Registry) Prewarm(cfgs ...ExecConfig) {
	for _, cfg := range cfgs {
		if _, err := r.GetOrCreate(cfg); err != nil {
			slog.Warn("prewarm failed", "key", cfg.Key(), "error", err)
		}
	}
}

// Size returns the number of pools created so far.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close shuts down every pool.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := make([]*registryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	for _, e := range entries {
		if e.pool != nil {
			e.pool.Close()
		}
	}
}
