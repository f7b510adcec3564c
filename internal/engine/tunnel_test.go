package engine

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tcpPair returns both ends of a loopback TCP connection.
func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		ch <- result{conn, err}
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	r := <-ch
	require.NoError(t, r.err)
	return client, r.conn
}

func TestRelayCopiesBothDirections(t *testing.T) {
	clientOuter, clientInner := tcpPair(t)
	targetOuter, targetInner := tcpPair(t)
	defer clientOuter.Close()
	defer targetOuter.Close()

	done := make(chan struct{})
	go func() {
		relay(clientInner, targetInner, nil, 0)
		close(done)
	}()

	_, err := clientOuter.Write([]byte("up"))
	require.NoError(t, err)
	buf := make([]byte, 2)
	_, err = io.ReadFull(targetOuter, buf)
	require.NoError(t, err)
	assert.Equal(t, "up", string(buf))

	_, err = targetOuter.Write([]byte("down"))
	require.NoError(t, err)
	buf = make([]byte, 4)
	_, err = io.ReadFull(clientOuter, buf)
	require.NoError(t, err)
	assert.Equal(t, "down", string(buf))

	clientOuter.Close()
	targetOuter.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not terminate after both sides closed")
	}
}

func TestRelayIdleTimeoutClosesTunnel(t *testing.T) {
	clientOuter, clientInner := tcpPair(t)
	targetOuter, targetInner := tcpPair(t)
	defer clientOuter.Close()
	defer targetOuter.Close()

	done := make(chan struct{})
	go func() {
		relay(clientInner, targetInner, nil, 100*time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("idle tunnel was not closed")
	}
}
