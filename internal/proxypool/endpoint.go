package proxypool

import (
	"fmt"
	"net/url"
	"time"
)

// Supported upstream proxy protocols.
const (
	ProtocolHTTP   = "http"
	ProtocolSOCKS5 = "socks5"
)

// Endpoint is one upstream proxy candidate. Identity is the Address string.
// The failure counter is guarded by the owning pool's lock.
type Endpoint struct {
	Address      string    `json:"address"`  // host:port
	Protocol     string    `json:"protocol"` // "http" or "socks5"
	Source       string    `json:"source"`   // source name, for logs and the dashboard
	LastVerified time.Time `json:"last_verified,omitempty"`

	failures int
}

// URL returns the endpoint as a proxy URL suitable for http.Transport.
func (e *Endpoint) URL() *url.URL {
	return &url.URL{Scheme: e.Protocol, Host: e.Address}
}

// String returns a human-readable representation.
func (e *Endpoint) String() string {
	return fmt.Sprintf("%s://%s", e.Protocol, e.Address)
}
