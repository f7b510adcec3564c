package engine

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForwardableHeadersStripsHopByHop(t *testing.T) {
	src := http.Header{
		"Connection":          {"keep-alive"},
		"Proxy-Connection":    {"keep-alive"},
		"Keep-Alive":          {"timeout=5"},
		"Transfer-Encoding":   {"chunked"},
		"Upgrade":             {"h2c"},
		"Proxy-Authorization": {"Basic Zm9vOmJhcg=="},
		"X-Custom":            {"a", "b"},
		"Content-Type":        {"application/json"},
	}

	got := forwardableHeaders(src)

	assert.Empty(t, got.Get("Connection"))
	assert.Empty(t, got.Get("Proxy-Connection"))
	assert.Empty(t, got.Get("Keep-Alive"))
	assert.Empty(t, got.Get("Transfer-Encoding"))
	assert.Empty(t, got.Get("Upgrade"))
	assert.Empty(t, got.Get("Proxy-Authorization"))
	assert.Equal(t, []string{"a", "b"}, got.Values("X-Custom"))
	assert.Equal(t, "application/json", got.Get("Content-Type"))

	// Source must not be mutated.
	assert.Equal(t, "keep-alive", src.Get("Connection"))
}

func TestWriteRelayHeadersExclusionSet(t *testing.T) {
	src := http.Header{
		"Connection":        {"close"},
		"Transfer-Encoding": {"chunked"},
		"Content-Encoding":  {"gzip"},
		"Content-Type":      {"text/html"},
		"Set-Cookie":        {"a=1", "b=2"},
	}

	rec := httptest.NewRecorder()
	writeRelayHeaders(rec, src)
	got := rec.Header()

	assert.Empty(t, got.Values("Connection"))
	assert.Empty(t, got.Values("Transfer-Encoding"))
	assert.Empty(t, got.Values("Content-Encoding"))
	assert.Equal(t, "text/html", got.Get("Content-Type"))
	// Duplicates come through in order.
	assert.Equal(t, []string{"a=1", "b=2"}, got.Values("Set-Cookie"))
}
