package engine

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rotaproxy/internal/proxypool"
	"rotaproxy/internal/shared/logger"
	"rotaproxy/internal/stats"
)

// Engine orchestrates one client request end-to-end: resolve the target,
// attempt via a pooled proxy, fall back to direct, relay the result.
type Engine struct {
	pool    *proxypool.Pool
	fetcher *Fetcher
	stats   *stats.Collector

	requestDelay time.Duration
	tunnelIdle   time.Duration
}

// New creates a forwarding engine.
func New(pool *proxypool.Pool, fetcher *Fetcher, collector *stats.Collector, requestDelay, tunnelIdle time.Duration) *Engine {
	return &Engine{
		pool:         pool,
		fetcher:      fetcher,
		stats:        collector,
		requestDelay: requestDelay,
		tunnelIdle:   tunnelIdle,
	}
}

func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		e.handleConnect(w, r)
		return
	}
	e.handleForward(w, r)
}

func (e *Engine) requestLogger(r *http.Request) zerolog.Logger {
	return logger.WithComponent("Engine").With().
		Str("request_id", uuid.NewString()[:8]).
		Str("client", r.RemoteAddr).
		Str("method", r.Method).
		Logger()
}

func (e *Engine) handleForward(w http.ResponseWriter, r *http.Request) {
	l := e.requestLogger(r)

	targetURL, err := resolveTarget(r.RequestURI)
	if err != nil {
		e.stats.RecordMalformed()
		l.Warn().Err(err).Str("raw_path", r.RequestURI).Msg("Rejecting malformed target.")
		http.Error(w, "invalid target URL", http.StatusBadRequest)
		return
	}
	l = l.With().Str("target", targetURL.String()).Logger()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		e.stats.RecordMalformed()
		l.Warn().Err(err).Msg("Failed to read client request body.")
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	target := &TargetRequest{
		Method: r.Method,
		URL:    targetURL,
		Header: forwardableHeaders(r.Header),
		Body:   body,
	}

	if !e.politeDelay(r) {
		return
	}

	outcome, usedProxy := e.attemptWithFallback(r, &l, func(via *proxypool.Endpoint) Outcome {
		return e.fetcher.Attempt(r.Context(), target, via)
	})

	host := targetURL.Hostname()
	if outcome.Kind != OutcomeSuccess {
		e.stats.RecordFailure(host)
		l.Warn().Err(outcome.Err).Str("cause", outcome.Kind.String()).Msg("All connection attempts failed.")
		http.Error(w, "relay failed: all connection attempts failed", http.StatusBadGateway)
		return
	}

	writeRelayHeaders(w, outcome.Header)
	w.WriteHeader(outcome.Status)
	_, copyErr := io.Copy(w, outcome.Body)
	outcome.Body.Close()
	if copyErr != nil {
		// Headers are already on the wire; nothing left but to drop the conn.
		l.Warn().Err(copyErr).Msg("Body relay aborted mid-stream.")
		return
	}

	if usedProxy {
		e.stats.RecordProxySuccess(host)
	} else {
		e.stats.RecordDirectSuccess(host)
	}
	l.Info().Int("status", outcome.Status).Msg("Request relayed.")
}

func (e *Engine) handleConnect(w http.ResponseWriter, r *http.Request) {
	l := e.requestLogger(r)

	addr := r.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		e.stats.RecordMalformed()
		l.Warn().Str("authority", addr).Msg("Rejecting malformed CONNECT authority.")
		http.Error(w, "invalid CONNECT target", http.StatusBadRequest)
		return
	}
	l = l.With().Str("target", addr).Logger()

	outcome, _ := e.attemptWithFallback(r, &l, func(via *proxypool.Endpoint) Outcome {
		return e.fetcher.AttemptConnect(r.Context(), addr, via)
	})

	host, _, _ := net.SplitHostPort(addr)
	if outcome.Kind != OutcomeSuccess {
		e.stats.RecordFailure(host)
		l.Warn().Err(outcome.Err).Str("cause", outcome.Kind.String()).Msg("CONNECT route could not be established.")
		http.Error(w, "relay failed: all connection attempts failed", http.StatusBadGateway)
		return
	}
	targetConn := outcome.Conn

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		targetConn.Close()
		l.Error().Msg("Listener does not support hijacking.")
		http.Error(w, "tunneling unsupported", http.StatusInternalServerError)
		return
	}
	clientConn, clientBuf, err := hijacker.Hijack()
	if err != nil {
		targetConn.Close()
		l.Error().Err(err).Msg("Hijack failed.")
		return
	}

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		clientConn.Close()
		targetConn.Close()
		return
	}

	e.stats.RecordTunnel(host)
	l.Info().Msg("Tunnel established.")

	// Failures past this point are terminal; the tunnel carries opaque
	// bytes, so errors surface to the client only as connection closure.
	relay(clientConn, targetConn, clientBuf.Reader, e.tunnelIdle)
	l.Info().Msg("Tunnel closed.")
}

// attemptWithFallback runs the proxy-then-direct policy shared by both
// request shapes. It reports quarantine on proxy failure and returns the
// final outcome plus whether the winning attempt was proxied.
func (e *Engine) attemptWithFallback(r *http.Request, l *zerolog.Logger, attempt func(via *proxypool.Endpoint) Outcome) (Outcome, bool) {
	var (
		history   []OutcomeKind
		outcome   Outcome
		usedProxy bool
	)

	endpoint, err := e.pool.Pick()
	if err == nil {
		usedProxy = true
		e.stats.RecordProxyAttempt()
		outcome = attempt(endpoint)
		history = append(history, outcome.Kind)

		switch outcome.Kind {
		case OutcomeSuccess:
			e.pool.ReportSuccess(endpoint)
		case OutcomeProxyFailure:
			e.pool.ReportFailure(endpoint)
			l.Warn().Err(outcome.Err).Str("endpoint", endpoint.String()).Msg("Upstream proxy failed; falling back to direct.")
		}
	} else {
		l.Debug().Msg("Proxy pool empty; going direct.")
	}

	if Decide(history) == DecisionRetryDirect {
		usedProxy = false
		e.stats.RecordDirectAttempt()
		outcome = attempt(nil)
		history = append(history, outcome.Kind)
	}
	return outcome, usedProxy
}

// politeDelay applies the configured per-request delay. It returns false if
// the client went away while waiting.
func (e *Engine) politeDelay(r *http.Request) bool {
	if e.requestDelay <= 0 {
		return true
	}
	select {
	case <-time.After(e.requestDelay):
		return true
	case <-r.Context().Done():
		return false
	}
}

// resolveTarget parses the forwarded target URL out of the request path.
// The full target follows the relay's own path prefix; a bare host gets a
// scheme prepended, https by default.
func resolveTarget(rawPath string) (*url.URL, error) {
	raw := strings.TrimPrefix(rawPath, "/")
	if raw == "" {
		return nil, fmt.Errorf("no target URL in request path")
	}

	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		if i := strings.Index(raw, "://"); i >= 0 {
			return nil, fmt.Errorf("unsupported target scheme %q", raw[:i])
		}
		// Schemeless targets get https. Hosts that require TLS work
		// either way, and the rest are safer over it.
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("unparseable target URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported target scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("target URL has no host")
	}
	return u, nil
}
