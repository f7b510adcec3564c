package engine

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rotaproxy/internal/proxypool"
	"rotaproxy/internal/stats"
)

// fixedSource feeds a pool with a fixed endpoint list.
type fixedSource struct {
	addrs []string
}

func (s *fixedSource) Name() string { return "fixed" }

func (s *fixedSource) Fetch(ctx context.Context) ([]proxypool.Candidate, error) {
	out := make([]proxypool.Candidate, 0, len(s.addrs))
	for _, a := range s.addrs {
		out = append(out, proxypool.Candidate{Address: a, Protocol: proxypool.ProtocolHTTP, Source: "fixed"})
	}
	return out, nil
}

func poolWith(t *testing.T, addrs ...string) *proxypool.Pool {
	t.Helper()
	p := proxypool.New(proxypool.Options{QuarantineThreshold: 3}, &fixedSource{addrs: addrs})
	if len(addrs) > 0 {
		require.NoError(t, p.Refresh(context.Background()))
	}
	return p
}

type testEnv struct {
	pool      *proxypool.Pool
	collector *stats.Collector
	server    *httptest.Server
}

func newTestEnv(t *testing.T, pool *proxypool.Pool) *testEnv {
	t.Helper()
	collector := stats.NewCollector()
	eng := New(pool, NewFetcher(3*time.Second), collector, 0, 0)
	ts := httptest.NewServer(eng)
	t.Cleanup(ts.Close)
	return &testEnv{pool: pool, collector: collector, server: ts}
}

func (env *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := env.server.Client().Get(env.server.URL + path)
	require.NoError(t, err)
	return resp
}

func TestMalformedTargetRejectedWithoutAttempts(t *testing.T) {
	var hits atomic.Int64
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer target.Close()

	env := newTestEnv(t, poolWith(t))
	for _, path := range []string{"/", "/ftp://example.com/file", "/https://"} {
		resp := env.get(t, path)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "path %q", path)
	}

	snap := env.collector.Snapshot()
	assert.EqualValues(t, 3, snap.Malformed)
	assert.Zero(t, snap.ProxyAttempts)
	assert.Zero(t, snap.DirectAttempts)
	assert.Zero(t, hits.Load())
}

func TestProxyFailureFallsBackToDirectOnce(t *testing.T) {
	var hits atomic.Int64
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"origin":"1.2.3.4"}`))
	}))
	defer target.Close()

	pool := poolWith(t, deadAddr(t))
	env := newTestEnv(t, pool)

	resp := env.get(t, "/"+target.URL)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"origin":"1.2.3.4"}`, string(body))
	assert.EqualValues(t, 1, hits.Load(), "exactly one outbound request must reach the target")

	endpoint, err := pool.Pick()
	require.NoError(t, err)
	assert.Equal(t, 1, pool.Failures(endpoint), "failure counter incremented exactly once")

	snap := env.collector.Snapshot()
	assert.EqualValues(t, 1, snap.ProxyAttempts)
	assert.EqualValues(t, 1, snap.DirectAttempts)
	assert.EqualValues(t, 1, snap.DirectSuccess)
	assert.Zero(t, snap.ProxySuccess)
}

func TestProxyErrorPageFallsBackToDirect(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("real answer"))
	}))
	defer target.Close()

	// An upstream that answers every request with its own error page.
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "temporarily unavailable", http.StatusBadGateway)
	}))
	defer proxy.Close()

	pool := poolWith(t, strings.TrimPrefix(proxy.URL, "http://"))
	env := newTestEnv(t, pool)

	resp := env.get(t, "/"+target.URL)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "real answer", string(body))

	endpoint, err := pool.Pick()
	require.NoError(t, err)
	assert.Equal(t, 1, pool.Failures(endpoint), "error page must count against the proxy")

	snap := env.collector.Snapshot()
	assert.Zero(t, snap.ProxySuccess)
	assert.EqualValues(t, 1, snap.DirectAttempts)
	assert.EqualValues(t, 1, snap.DirectSuccess)
}

func TestEmptyPoolSkipsStraightToDirect(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer target.Close()

	env := newTestEnv(t, poolWith(t))
	resp := env.get(t, "/"+target.URL)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	snap := env.collector.Snapshot()
	assert.Zero(t, snap.ProxyAttempts)
	assert.EqualValues(t, 1, snap.DirectSuccess)
	assert.Zero(t, env.pool.Snapshot().Quarantined)
}

func TestProxySuccessPath(t *testing.T) {
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !r.URL.IsAbs() {
			http.Error(w, "expected absolute URI", http.StatusBadRequest)
			return
		}
		w.Write([]byte("via proxy"))
	}))
	defer proxy.Close()

	env := newTestEnv(t, poolWith(t, strings.TrimPrefix(proxy.URL, "http://")))
	resp := env.get(t, "/http://target.invalid/resource")
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "via proxy", string(body))

	snap := env.collector.Snapshot()
	assert.EqualValues(t, 1, snap.ProxySuccess)
	assert.Zero(t, snap.DirectAttempts)
}

func TestSchemelessTargetDefaultsToHTTPS(t *testing.T) {
	target := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tls ok"))
	}))
	defer target.Close()

	env := newTestEnv(t, poolWith(t))
	resp := env.get(t, "/"+strings.TrimPrefix(target.URL, "https://"))
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "tls ok", string(body))
}

func TestTotalFailureReturns502(t *testing.T) {
	env := newTestEnv(t, poolWith(t))
	resp := env.get(t, "/http://"+deadAddr(t))
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "relay failed")
	assert.EqualValues(t, 1, env.collector.Snapshot().TotalFailure)
}

func TestResponseHeaderRelay(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Content-Encoding", "gzip")
		h.Add("Set-Cookie", "first=1")
		h.Add("Set-Cookie", "second=2")
		h.Set("X-Origin", "target")
		w.Write([]byte("payload"))
	}))
	defer target.Close()

	env := newTestEnv(t, poolWith(t))
	resp := env.get(t, "/"+target.URL)
	defer resp.Body.Close()

	assert.Empty(t, resp.Header.Values("Content-Encoding"))
	assert.Empty(t, resp.Header.Values("Transfer-Encoding"))
	assert.Equal(t, "target", resp.Header.Get("X-Origin"))
	assert.Equal(t, []string{"first=1", "second=2"}, resp.Header.Values("Set-Cookie"))
}

func TestRequestBodyForwardedOnFallback(t *testing.T) {
	var received atomic.Value
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received.Store(string(body))
		w.WriteHeader(http.StatusCreated)
	}))
	defer target.Close()

	env := newTestEnv(t, poolWith(t, deadAddr(t)))
	resp, err := env.server.Client().Post(env.server.URL+"/"+target.URL, "text/plain", strings.NewReader("replayed body"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "replayed body", received.Load(), "fallback attempt must replay the request body")
}

// dialCONNECT opens a raw client connection and performs the CONNECT
// handshake against the relay under test.
func dialCONNECT(t *testing.T, relayAddr, targetAddr string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", relayAddr)
	require.NoError(t, err)

	_, err = conn.Write([]byte("CONNECT " + targetAddr + " HTTP/1.1\r\nHost: " + targetAddr + "\r\n\r\n"))
	require.NoError(t, err)

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, &http.Request{Method: http.MethodConnect})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return conn
}

func TestConnectTunnelRelaysBothDirections(t *testing.T) {
	ln := echoListener(t)
	defer ln.Close()

	env := newTestEnv(t, poolWith(t))
	relayAddr := strings.TrimPrefix(env.server.URL, "http://")

	conn := dialCONNECT(t, relayAddr, ln.Addr().String())
	defer conn.Close()

	_, err := conn.Write([]byte("tunnel bytes"))
	require.NoError(t, err)
	buf := make([]byte, len("tunnel bytes"))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "tunnel bytes", string(buf))

	assert.EqualValues(t, 1, env.collector.Snapshot().TunnelsOpened)
}

func TestConnectHalfCloseDrainsPendingData(t *testing.T) {
	// The target sends a burst and then a trailer after the client has
	// closed its write side; the trailer must still arrive.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.ReadAll(conn) // wait for the client's half-close
		conn.Write([]byte("late data"))
	}()

	env := newTestEnv(t, poolWith(t))
	relayAddr := strings.TrimPrefix(env.server.URL, "http://")

	conn := dialCONNECT(t, relayAddr, ln.Addr().String())
	defer conn.Close()

	tcpConn := conn.(*net.TCPConn)
	require.NoError(t, tcpConn.CloseWrite())

	got, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "late data", string(got))
}

func TestConnectMalformedAuthorityRejected(t *testing.T) {
	env := newTestEnv(t, poolWith(t))
	relayAddr := strings.TrimPrefix(env.server.URL, "http://")

	conn, err := net.Dial("tcp", relayAddr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("CONNECT no-port HTTP/1.1\r\nHost: no-port\r\n\r\n"))
	require.NoError(t, err)

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, &http.Request{Method: http.MethodConnect})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.EqualValues(t, 1, env.collector.Snapshot().Malformed)
}

func TestConnectUnreachableTargetReturns502(t *testing.T) {
	env := newTestEnv(t, poolWith(t))
	relayAddr := strings.TrimPrefix(env.server.URL, "http://")

	conn, err := net.Dial("tcp", relayAddr)
	require.NoError(t, err)
	defer conn.Close()

	dead := deadAddr(t)
	_, err = conn.Write([]byte("CONNECT " + dead + " HTTP/1.1\r\nHost: " + dead + "\r\n\r\n"))
	require.NoError(t, err)

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, &http.Request{Method: http.MethodConnect})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}
