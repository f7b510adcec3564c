package proxypool

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const sourceUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Candidate is an unverified proxy address produced by a Source.
type Candidate struct {
	Address  string // host:port
	Protocol string // "http" or "socks5"
	Source   string
}

// Source fetches candidate proxy addresses from one external provider.
// Implementations only fetch and parse; the pool handles dedup and bounds.
type Source interface {
	// Fetch returns the provider's current candidate list. Malformed
	// entries are skipped, not fatal.
	Fetch(ctx context.Context) ([]Candidate, error)

	// Name identifies the source in logs and endpoint metadata.
	Name() string
}

// ListSource reads a flat text list, one host:port per line, from a
// free-proxy-list API.
type ListSource struct {
	name     string
	url      string
	protocol string
	client   *http.Client
}

// NewListSource creates a source for a plain-text host:port list.
func NewListSource(name, rawURL, protocol string) *ListSource {
	if protocol == "" {
		protocol = ProtocolHTTP
	}
	return &ListSource{
		name:     name,
		url:      rawURL,
		protocol: protocol,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (s *ListSource) Name() string {
	return s.name
}

func (s *ListSource) Fetch(ctx context.Context) ([]Candidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", s.name, err)
	}
	req.Header.Set("User-Agent", sourceUserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch list from %s: %w", s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code (%d) from %s", resp.StatusCode, s.name)
	}

	var candidates []Candidate
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		addr, ok := parseCandidateAddress(scanner.Text())
		if !ok {
			continue
		}
		candidates = append(candidates, Candidate{
			Address:  addr,
			Protocol: s.protocol,
			Source:   s.name,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read list body from %s: %w", s.name, err)
	}
	return candidates, nil
}

// parseCandidateAddress validates one "host:port" line. Invalid lines are
// reported as not ok so callers can skip them.
func parseCandidateAddress(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", false
	}
	host, portStr, err := net.SplitHostPort(line)
	if err != nil || host == "" {
		return "", false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", false
	}
	return net.JoinHostPort(host, portStr), true
}
