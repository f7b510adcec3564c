package stats

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Collector accumulates passive counters keyed by outcome category.
// Updates are fire-and-forget from the forwarding path; reads serve the
// external dashboard as a point-in-time snapshot.
type Collector struct {
	proxySuccess   atomic.Uint64
	directSuccess  atomic.Uint64
	totalFailure   atomic.Uint64
	malformed      atomic.Uint64
	tunnelsOpened  atomic.Uint64
	proxyAttempts  atomic.Uint64
	directAttempts atomic.Uint64
	started        time.Time

	mu     sync.Mutex
	byHost map[string]uint64
}

// Snapshot is an instantaneous copy of all counters.
type Snapshot struct {
	ProxySuccess   uint64            `json:"proxy_success"`
	DirectSuccess  uint64            `json:"direct_fallback_success"`
	TotalFailure   uint64            `json:"total_failure"`
	Malformed      uint64            `json:"malformed_requests"`
	TunnelsOpened  uint64            `json:"tunnels_opened"`
	ProxyAttempts  uint64            `json:"proxy_attempts"`
	DirectAttempts uint64            `json:"direct_attempts"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	TopHosts       []HostCount       `json:"top_hosts,omitempty"`
}

// HostCount pairs a target host with its request count.
type HostCount struct {
	Host  string `json:"host"`
	Count uint64 `json:"count"`
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		started: time.Now(),
		byHost:  make(map[string]uint64),
	}
}

// RecordProxyAttempt counts one attempt routed through an upstream proxy.
func (c *Collector) RecordProxyAttempt() {
	c.proxyAttempts.Add(1)
}

// RecordDirectAttempt counts one attempt made over a direct connection.
func (c *Collector) RecordDirectAttempt() {
	c.directAttempts.Add(1)
}

// RecordProxySuccess counts a request satisfied through an upstream proxy.
func (c *Collector) RecordProxySuccess(host string) {
	c.proxySuccess.Add(1)
	c.recordHost(host)
}

// RecordDirectSuccess counts a request satisfied over a direct connection,
// whether first-choice or fallback.
func (c *Collector) RecordDirectSuccess(host string) {
	c.directSuccess.Add(1)
	c.recordHost(host)
}

// RecordFailure counts a request that failed on every attempted path.
func (c *Collector) RecordFailure(host string) {
	c.totalFailure.Add(1)
	c.recordHost(host)
}

// RecordMalformed counts a request rejected before any outbound attempt.
func (c *Collector) RecordMalformed() {
	c.malformed.Add(1)
}

// RecordTunnel counts an established CONNECT tunnel.
func (c *Collector) RecordTunnel(host string) {
	c.tunnelsOpened.Add(1)
	c.recordHost(host)
}

func (c *Collector) recordHost(host string) {
	if host == "" {
		return
	}
	c.mu.Lock()
	c.byHost[host]++
	c.mu.Unlock()
}

// maxTopHosts bounds the per-host list in snapshots.
const maxTopHosts = 20

// Snapshot returns a point-in-time copy of all counters.
func (c *Collector) Snapshot() Snapshot {
	s := Snapshot{
		ProxySuccess:   c.proxySuccess.Load(),
		DirectSuccess:  c.directSuccess.Load(),
		TotalFailure:   c.totalFailure.Load(),
		Malformed:      c.malformed.Load(),
		TunnelsOpened:  c.tunnelsOpened.Load(),
		ProxyAttempts:  c.proxyAttempts.Load(),
		DirectAttempts: c.directAttempts.Load(),
		UptimeSeconds:  int64(time.Since(c.started).Seconds()),
	}

	c.mu.Lock()
	hosts := make([]HostCount, 0, len(c.byHost))
	for h, n := range c.byHost {
		hosts = append(hosts, HostCount{Host: h, Count: n})
	}
	c.mu.Unlock()

	sort.Slice(hosts, func(i, j int) bool {
		if hosts[i].Count != hosts[j].Count {
			return hosts[i].Count > hosts[j].Count
		}
		return hosts[i].Host < hosts[j].Host
	})
	if len(hosts) > maxTopHosts {
		hosts = hosts[:maxTopHosts]
	}
	s.TopHosts = hosts
	return s
}
