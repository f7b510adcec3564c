package engine

import "net/http"

// hopByHopHeaders describe the inbound client connection's framing and must
// not be forwarded toward the target.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// responseExclusions are dropped when relaying the target's response: they
// describe the upstream hop's wire framing, not the logical payload.
var responseExclusions = map[string]struct{}{
	"Connection":        {},
	"Transfer-Encoding": {},
	"Content-Encoding":  {},
}

// forwardableHeaders returns a copy of src with hop-by-hop headers removed.
// Duplicate values are preserved in order.
func forwardableHeaders(src http.Header) http.Header {
	dst := src.Clone()
	for _, name := range hopByHopHeaders {
		dst.Del(name)
	}
	return dst
}

// writeRelayHeaders copies the target's response headers to the client,
// applying the exclusion set and preserving duplicate values in order.
func writeRelayHeaders(w http.ResponseWriter, src http.Header) {
	out := w.Header()
	for name, values := range src {
		if _, skip := responseExclusions[http.CanonicalHeaderKey(name)]; skip {
			continue
		}
		for _, v := range values {
			out.Add(name, v)
		}
	}
}
