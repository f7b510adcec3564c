package engine

import (
	"io"
	"net"
	"net/http"
	"net/url"
)

// OutcomeKind tags the result of one upstream attempt. Consumers switch
// exhaustively on it rather than probing fields.
type OutcomeKind int

const (
	// OutcomeSuccess carries a relayable response or an established tunnel.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeProxyFailure means the upstream proxy could not be reached or
	// refused to route; the target may still be fine.
	OutcomeProxyFailure
	// OutcomeTargetFailure means the route worked but the origin itself
	// errored or was unreachable.
	OutcomeTargetFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeProxyFailure:
		return "proxy_failure"
	case OutcomeTargetFailure:
		return "target_failure"
	}
	return "unknown"
}

// Outcome is the typed result of one attempt. Exactly one of the payload
// groups is populated: Status/Header/Body for an encoded-path success, Conn
// for a connect-mode success, Err for either failure kind.
type Outcome struct {
	Kind OutcomeKind

	Status int
	Header http.Header
	Body   io.ReadCloser

	Conn net.Conn

	Err error
}

func successOutcome(resp *http.Response) Outcome {
	return Outcome{
		Kind:   OutcomeSuccess,
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   resp.Body,
	}
}

func tunnelOutcome(conn net.Conn) Outcome {
	return Outcome{Kind: OutcomeSuccess, Conn: conn}
}

func proxyFailure(err error) Outcome {
	return Outcome{Kind: OutcomeProxyFailure, Err: err}
}

func targetFailure(err error) Outcome {
	return Outcome{Kind: OutcomeTargetFailure, Err: err}
}

// TargetRequest is the immutable description of one forwarded request. The
// body is held as a byte slice so a fallback attempt can replay it.
type TargetRequest struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
}
