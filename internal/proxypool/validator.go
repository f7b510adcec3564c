package proxypool

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	xproxy "golang.org/x/net/proxy"

	"rotaproxy/internal/shared/logger"
)

// Validator filters freshly fetched candidates down to the ones that
// actually route traffic. Free listings are mostly dead at any moment, so
// pooling unchecked entries wastes the client's first attempt on them.
type Validator interface {
	Filter(ctx context.Context, candidates []Candidate) []Candidate
}

// HTTPValidator probes each candidate by fetching a known URL through it
// with bounded concurrency.
type HTTPValidator struct {
	probeURL    string
	timeout     time.Duration
	concurrency int
}

// NewHTTPValidator creates a validator probing against probeURL.
func NewHTTPValidator(probeURL string, timeout time.Duration, concurrency int) *HTTPValidator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if concurrency <= 0 {
		concurrency = 20
	}
	return &HTTPValidator{
		probeURL:    probeURL,
		timeout:     timeout,
		concurrency: concurrency,
	}
}

// Filter probes every candidate and returns the ones that answered the
// probe. Order of survivors is not preserved.
func (v *HTTPValidator) Filter(ctx context.Context, candidates []Candidate) []Candidate {
	l := logger.WithComponent("ProxyPool/Validator")
	if len(candidates) == 0 {
		return candidates
	}
	l.Info().Int("count", len(candidates)).Int("concurrency", v.concurrency).Msg("Starting validation batch...")

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, v.concurrency)
	results := make(chan Candidate, len(candidates))

	for _, c := range candidates {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(cand Candidate) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if err := v.probe(ctx, cand); err != nil {
				l.Debug().Err(err).Str("candidate", cand.Address).Msg("Candidate failed validation.")
				return
			}
			results <- cand
		}(c)
	}

	wg.Wait()
	close(results)

	working := make([]Candidate, 0, len(candidates))
	for c := range results {
		working = append(working, c)
	}

	l.Info().Int("working", len(working)).Msg("Validation batch finished.")
	return working
}

func (v *HTTPValidator) probe(ctx context.Context, c Candidate) error {
	dialer := &net.Dialer{Timeout: v.timeout}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
		TLSHandshakeTimeout: v.timeout / 2,
		DisableKeepAlives:   true,
	}
	switch c.Protocol {
	case ProtocolSOCKS5:
		sd, err := xproxy.SOCKS5("tcp", c.Address, nil, dialer)
		if err != nil {
			return fmt.Errorf("create SOCKS5 dialer for %s: %w", c.Address, err)
		}
		transport.DialContext = sd.(xproxy.ContextDialer).DialContext
	default:
		transport.Proxy = http.ProxyURL(&url.URL{Scheme: ProtocolHTTP, Host: c.Address})
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.probeURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", sourceUserAgent)

	client := &http.Client{Transport: transport, Timeout: v.timeout}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe answered status %d", resp.StatusCode)
	}
	return nil
}
