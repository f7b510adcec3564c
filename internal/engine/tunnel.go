package engine

import (
	"io"
	"net"
	"sync"
	"time"
)

// halfCloser is satisfied by *net.TCPConn. Signalling EOF with CloseWrite
// lets the peer finish its own direction of an established tunnel.
type halfCloser interface {
	CloseWrite() error
}

// idleReader enforces the tunnel idle timeout by arming a read deadline
// before every read. A timeout of zero leaves the connection unbounded.
type idleReader struct {
	conn net.Conn
	src  io.Reader
	idle time.Duration
}

func (r *idleReader) Read(p []byte) (int, error) {
	if r.idle > 0 {
		if err := r.conn.SetReadDeadline(time.Now().Add(r.idle)); err != nil {
			return 0, err
		}
	}
	return r.src.Read(p)
}

// relay copies bytes between the two halves of an established tunnel until
// both directions have stopped. Each direction terminates independently when
// its source closes, errors, or sits idle past the timeout; no attempt is
// made to resynchronize them.
func relay(client, target net.Conn, clientReader io.Reader, idle time.Duration) {
	if clientReader == nil {
		clientReader = client
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		io.Copy(target, &idleReader{conn: client, src: clientReader, idle: idle})
		closeWrite(target)
	}()
	go func() {
		defer wg.Done()
		io.Copy(client, &idleReader{conn: target, src: target, idle: idle})
		closeWrite(client)
	}()

	wg.Wait()
	client.Close()
	target.Close()
}

func closeWrite(conn net.Conn) {
	switch c := conn.(type) {
	case halfCloser:
		c.CloseWrite()
	case *bufferedConn:
		if hc, ok := c.Conn.(halfCloser); ok {
			hc.CloseWrite()
			return
		}
		c.Close()
	default:
		conn.Close()
	}
}
