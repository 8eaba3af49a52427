// Package dispatch routes normalized scrape jobs to configuration-keyed
// worker pools. A pool is expensive to create (it launches its own browser),
// keeps running for the process lifetime, and retries each job a bounded
// number of times before surfacing a distinguished failure.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/use-agent/apiary/models"
	"golang.org/x/time/rate"
)

// Proxy groups understood by the execution engines.
const (
	ProxyGroupDefault     = ""
	ProxyGroupResidential = "RESIDENTIAL"
	ProxyGroupGoogleSERP  = "GOOGLE_SERP"
)

// ExecConfig is the execution configuration that distinguishes one worker
// pool from another. Identical configurations must canonicalize to the same
// key so pools are reused.
type ExecConfig struct {
	ProxyGroup   string        `json:"proxyGroup"`
	CountryCode  string        `json:"countryCode"`
	ProxyURLs    []string      `json:"proxyUrls"`
	PaceInterval time.Duration `json:"paceInterval"`
}

// Key returns the canonical serialization of the configuration. Struct field
// order is fixed, so equal configs always yield equal keys.
func (c ExecConfig) Key() string {
	b, _ := json.Marshal(c)
	return string(b)
}

// RunFunc executes one job attempt end-to-end (fetch/render, scenario,
// extraction, delivery). A nil return means the job resolved successfully.
type RunFunc func(ctx context.Context, job *models.Job) error

// FailFunc is invoked exactly once per job whose attempts are exhausted.
type FailFunc func(job *models.Job, err error)

// PoolConfig tunes one worker pool.
type PoolConfig struct {
	Workers    int
	QueueSize  int
	MaxRetries int

	// Pace throttles job starts across the pool's workers. Zero disables
	// pacing.
	Pace time.Duration
}

// Pool is a fixed set of workers draining a shared job queue. Each worker
// handles one job end-to-end; retries happen inline on the same worker so a
// job is never executed concurrently with itself.
type Pool struct {
	cfg     PoolConfig
	run     RunFunc
	fail    FailFunc
	onClose func()

	jobs    chan *models.Job
	pacer   *rate.Limiter
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closing sync.Once

	// mu guards closed so Submit never sends on the closed jobs channel.
	mu     sync.RWMutex
	closed bool
}

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("dispatch: pool is closed")

// NewPool starts a pool with the given callbacks. onClose, if non-nil, runs
// after all workers have drained (used to tear down the pool's browser).
func NewPool(cfg PoolConfig, run RunFunc, fail FailFunc, onClose func()) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 256
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:     cfg,
		run:     run,
		fail:    fail,
		onClose: onClose,
		jobs:    make(chan *models.Job, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	if cfg.Pace > 0 {
		p.pacer = rate.NewLimiter(rate.Every(cfg.Pace), 1)
	}

	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}
	return p
}

// Submit enqueues a job. It returns once the job is accepted into the
// queue, not once it completes. Safe to call concurrently with Close.
func (p *Pool) Submit(job *models.Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case <-p.ctx.Done():
		return ErrPoolClosed
	case p.jobs <- job:
		return nil
	}
}

// Close stops the workers. Queued jobs that have not started are dropped;
// their callers are handled by the correlator's shutdown timeout.
func (p *Pool) Close() {
	p.closing.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.cancel()
		p.mu.Unlock()

		close(p.jobs)
		p.wg.Wait()
		if p.onClose != nil {
			p.onClose()
		}
	})
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		if p.pacer != nil {
			if err := p.pacer.Wait(p.ctx); err != nil {
				return
			}
		}
		job.Measures.Add(models.MeasurePoolTask)
		p.execute(job)
	}
}

// execute runs the bounded retry loop for one job. An armed caller timeout
// does not interrupt in-flight work; late results are discarded by the
// resolve-once contract downstream.
func (p *Pool) execute(job *models.Job) {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(p.ctx, job.Timeout)
		err := p.run(ctx, job)
		cancel()
		if err == nil {
			return
		}

		lastErr = err
		job.Measures.Add(models.MeasureError)
		job.Details.RequestErrors = append(job.Details.RequestErrors, models.AttemptError{
			Attempt: attempt,
			Message: err.Error(),
		})
		slog.Debug("job attempt failed",
			"token", job.Token, "url", job.TargetURL, "attempt", attempt, "error", err)

		// Transparent status passthrough wants the first upstream status,
		// so no retry.
		if job.TransparentStatus {
			break
		}
	}

	job.Measures.Add(models.MeasureFailedRequest)
	p.fail(job, lastErr)
}
