package engine

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"time"

	xproxy "golang.org/x/net/proxy"

	"rotaproxy/internal/proxypool"
)

// userAgents is the rotation list attached to outbound attempts so targets
// see ordinary browser traffic instead of a single repeated identity.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.1.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:89.0) Gecko/20100101 Firefox/89.0",
}

// baselineHeaders are set on every outbound request. Accept-Encoding is
// pinned to identity so the relayed body never carries hop-specific
// compression the client did not negotiate.
var baselineHeaders = map[string]string{
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.5",
	"Accept-Encoding": "identity",
}

// Fetcher performs one upstream attempt, either a full HTTP request in
// encoded-path mode or a CONNECT handshake, and classifies the result.
type Fetcher struct {
	timeout time.Duration
}

// NewFetcher creates a fetcher with the given per-attempt timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{timeout: timeout}
}

func (f *Fetcher) randomUserAgent() string {
	return userAgents[rand.Intn(len(userAgents))]
}

// Attempt makes one encoded-path attempt against the target, routed through
// via when present. Transport errors classify as ProxyFailure when routed
// and TargetFailure when direct. An error status received through a proxy is
// indistinguishable from the proxy's own error page, so it also classifies
// as ProxyFailure; a direct attempt's response is a Success and is relayed
// verbatim whatever its status.
func (f *Fetcher) Attempt(ctx context.Context, target *TargetRequest, via *proxypool.Endpoint) Outcome {
	var body *bytes.Reader
	if len(target.Body) > 0 {
		body = bytes.NewReader(target.Body)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, target.Method, target.URL.String(), body)
	if err != nil {
		return targetFailure(fmt.Errorf("build outbound request: %w", err))
	}
	req.Header = target.Header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	req.Header.Set("User-Agent", f.randomUserAgent())
	for name, value := range baselineHeaders {
		req.Header.Set(name, value)
	}

	transport, err := f.transport(via)
	if err != nil {
		return proxyFailure(err)
	}
	client := &http.Client{
		Transport: transport,
		Timeout:   f.timeout,
	}

	resp, err := client.Do(req)
	if err != nil {
		if via != nil {
			return proxyFailure(err)
		}
		return targetFailure(err)
	}
	if via != nil && resp.StatusCode >= http.StatusBadRequest {
		resp.Body.Close()
		return proxyFailure(fmt.Errorf("proxy %s answered with status %d", via, resp.StatusCode))
	}
	return successOutcome(resp)
}

// transport builds a per-attempt transport. TLS verification toward the
// target is relaxed as a compatibility choice for scraping targets with
// broken chains; this relay must never carry credential-bearing traffic.
func (f *Fetcher) transport(via *proxypool.Endpoint) (*http.Transport, error) {
	dialer := &net.Dialer{
		Timeout:   f.timeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
		TLSHandshakeTimeout: f.timeout / 2,
		DisableKeepAlives:   true,
	}

	if via == nil {
		return transport, nil
	}
	switch via.Protocol {
	case proxypool.ProtocolSOCKS5:
		sd, err := xproxy.SOCKS5("tcp", via.Address, nil, dialer)
		if err != nil {
			return nil, fmt.Errorf("create SOCKS5 dialer for %s: %w", via, err)
		}
		cd := sd.(xproxy.ContextDialer)
		transport.DialContext = cd.DialContext
	default:
		transport.Proxy = http.ProxyURL(via.URL())
	}
	return transport, nil
}

// AttemptConnect opens a raw route to addr for a CONNECT tunnel. Handshake
// failures at the proxy classify as ProxyFailure; a failed direct dial is a
// TargetFailure. On success the returned outcome carries the live conn.
func (f *Fetcher) AttemptConnect(ctx context.Context, addr string, via *proxypool.Endpoint) Outcome {
	dialer := &net.Dialer{Timeout: f.timeout}

	if via == nil {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return targetFailure(err)
		}
		return tunnelOutcome(conn)
	}

	if via.Protocol == proxypool.ProtocolSOCKS5 {
		sd, err := xproxy.SOCKS5("tcp", via.Address, nil, dialer)
		if err != nil {
			return proxyFailure(fmt.Errorf("create SOCKS5 dialer for %s: %w", via, err))
		}
		conn, err := sd.(xproxy.ContextDialer).DialContext(ctx, "tcp", addr)
		if err != nil {
			return proxyFailure(err)
		}
		return tunnelOutcome(conn)
	}

	conn, err := dialer.DialContext(ctx, "tcp", via.Address)
	if err != nil {
		return proxyFailure(err)
	}
	if err := conn.SetDeadline(time.Now().Add(f.timeout)); err != nil {
		conn.Close()
		return proxyFailure(err)
	}

	connectReq := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Host: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	connectReq.Header.Set("User-Agent", f.randomUserAgent())

	if err := connectReq.Write(conn); err != nil {
		conn.Close()
		return proxyFailure(fmt.Errorf("write CONNECT to %s: %w", via, err))
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, connectReq)
	if err != nil {
		conn.Close()
		return proxyFailure(fmt.Errorf("read CONNECT response from %s: %w", via, err))
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return proxyFailure(fmt.Errorf("proxy %s answered CONNECT with status %d", via, resp.StatusCode))
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return proxyFailure(err)
	}
	if br.Buffered() > 0 {
		return tunnelOutcome(&bufferedConn{Conn: conn, r: br})
	}
	return tunnelOutcome(conn)
}

// bufferedConn replays bytes the handshake reader consumed past the CONNECT
// response before handing off to the raw connection.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}
