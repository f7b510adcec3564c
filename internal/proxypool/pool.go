package proxypool

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"rotaproxy/internal/shared/logger"
)

// ErrPoolEmpty is returned by Pick when no usable endpoint exists. Callers
// fall straight through to a direct connection; it is never fatal.
var ErrPoolEmpty = errors.New("proxypool: no endpoints available")

// Options configures a Pool. A nil Validator pools candidates unchecked.
type Options struct {
	MaxSize             int
	QuarantineThreshold int
	RefreshInterval     time.Duration
	SourceTimeout       time.Duration
	Validator           Validator
}

// Snapshot is a point-in-time view of the pool's health for the dashboard.
type Snapshot struct {
	Size        int       `json:"size"`
	Quarantined int       `json:"quarantined"`
	LastRefresh time.Time `json:"last_refresh,omitempty"`
}

// Pool holds the current set of upstream proxy candidates. A refresh is a
// full replace, not a merge, so stale endpoints never outlive two cycles.
type Pool struct {
	opts    Options
	sources []Source

	mu          sync.RWMutex
	entries     []*Endpoint
	lastRefresh time.Time

	refreshTicker *time.Ticker
	stopChan      chan struct{}
	wg            sync.WaitGroup
	stopOnce      sync.Once
}

// New creates a pool fed by the given sources. The pool is empty until the
// first Refresh.
func New(opts Options, sources ...Source) *Pool {
	if opts.MaxSize <= 0 {
		opts.MaxSize = 500
	}
	if opts.QuarantineThreshold <= 0 {
		opts.QuarantineThreshold = 3
	}
	if opts.SourceTimeout <= 0 {
		opts.SourceTimeout = 30 * time.Second
	}
	return &Pool{
		opts:     opts,
		sources:  sources,
		stopChan: make(chan struct{}),
	}
}

// Start runs an initial refresh and launches the periodic refresh scheduler.
func (p *Pool) Start() {
	l := logger.WithComponent("ProxyPool")

	if err := p.Refresh(context.Background()); err != nil {
		l.Warn().Err(err).Msg("Initial pool refresh failed. Starting with an empty pool.")
	}

	if p.opts.RefreshInterval <= 0 {
		return
	}
	p.refreshTicker = time.NewTicker(p.opts.RefreshInterval)
	l.Info().Dur("refresh_interval", p.opts.RefreshInterval).Msg("Pool refresh scheduler started.")

	p.wg.Add(1)
	go p.schedulerLoop()
}

func (p *Pool) schedulerLoop() {
	defer p.wg.Done()
	l := logger.WithComponent("ProxyPool")

	for {
		select {
		case <-p.refreshTicker.C:
			if err := p.Refresh(context.Background()); err != nil {
				l.Warn().Err(err).Msg("Scheduled pool refresh failed. Keeping previous pool.")
			}
		case <-p.stopChan:
			p.refreshTicker.Stop()
			return
		}
	}
}

// Stop terminates the refresh scheduler.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})
	p.wg.Wait()
}

// Refresh fetches candidates from every source, runs them through the
// validator when one is configured, and atomically replaces the pool's
// contents. If no source yields anything the previous contents are retained
// unchanged and an error is returned.
func (p *Pool) Refresh(ctx context.Context) error {
	l := logger.WithComponent("ProxyPool")

	fetchCtx, cancel := context.WithTimeout(ctx, p.opts.SourceTimeout)
	defer cancel()

	var wg sync.WaitGroup
	results := make(chan []Candidate, len(p.sources))
	failures := make(chan error, len(p.sources))

	for _, s := range p.sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			candidates, err := src.Fetch(fetchCtx)
			if err != nil {
				l.Warn().Err(err).Str("source", src.Name()).Msg("Source fetch failed.")
				failures <- err
				return
			}
			l.Info().Int("count", len(candidates)).Str("source", src.Name()).Msg("Source fetch finished.")
			results <- candidates
		}(s)
	}

	wg.Wait()
	close(results)
	close(failures)

	seen := make(map[string]struct{})
	var candidates []Candidate
	succeeded := false
	for batch := range results {
		succeeded = true
		for _, c := range batch {
			if _, dup := seen[c.Address]; dup {
				continue
			}
			seen[c.Address] = struct{}{}
			candidates = append(candidates, c)
		}
	}

	if !succeeded {
		var errs []error
		for err := range failures {
			errs = append(errs, err)
		}
		if len(errs) == 0 {
			errs = append(errs, errors.New("no sources configured"))
		}
		return errors.Join(errs...)
	}

	var verified time.Time
	if p.opts.Validator != nil {
		candidates = p.opts.Validator.Filter(ctx, candidates)
		verified = time.Now()
	}

	if len(candidates) > p.opts.MaxSize {
		candidates = candidates[:p.opts.MaxSize]
	}
	entries := make([]*Endpoint, 0, len(candidates))
	for _, c := range candidates {
		entries = append(entries, &Endpoint{
			Address:      c.Address,
			Protocol:     c.Protocol,
			Source:       c.Source,
			LastVerified: verified,
		})
	}

	p.mu.Lock()
	p.entries = entries
	p.lastRefresh = time.Now()
	p.mu.Unlock()

	l.Info().Int("count", len(entries)).Msg("Pool refreshed.")
	return nil
}

// Pick returns one endpoint chosen uniformly at random from the
// non-quarantined entries.
func (p *Pool) Pick() (*Endpoint, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	candidates := make([]*Endpoint, 0, len(p.entries))
	for _, e := range p.entries {
		if e.failures < p.opts.QuarantineThreshold {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrPoolEmpty
	}
	return candidates[rand.Intn(len(candidates))], nil
}

// ReportFailure increments the endpoint's failure counter. Once the counter
// reaches the quarantine threshold the endpoint is excluded from Pick until
// the next refresh replaces the pool.
func (p *Pool) ReportFailure(e *Endpoint) {
	if e == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	e.failures++
	if e.failures == p.opts.QuarantineThreshold {
		l := logger.WithComponent("ProxyPool")
		l.Info().
			Str("endpoint", e.String()).
			Int("failures", e.failures).
			Msg("Endpoint quarantined until next refresh.")
	}
}

// ReportSuccess marks the endpoint as recently verified.
func (p *Pool) ReportSuccess(e *Endpoint) {
	if e == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	e.failures = 0
	e.LastVerified = time.Now()
}

// Failures returns the endpoint's current failure count.
func (p *Pool) Failures(e *Endpoint) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return e.failures
}

// Snapshot returns a point-in-time view of the pool for the dashboard.
func (p *Pool) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	quarantined := 0
	for _, e := range p.entries {
		if e.failures >= p.opts.QuarantineThreshold {
			quarantined++
		}
	}
	return Snapshot{
		Size:        len(p.entries),
		Quarantined: quarantined,
		LastRefresh: p.lastRefresh,
	}
}
