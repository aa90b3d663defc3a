// Package listener implements a TCP accept loop with an optional
// SO_REUSEPORT bind for shared-port horizontal scaling across sibling
// processes. The platform-specific reuseport control function lives in
// listener_linux.go.
package listener

import (
	"context"
	"net"
	"time"
)

// Listen opens addr as a TCP listener. When reuseport is true, the
// socket is bound with SO_REUSEPORT so multiple sibling processes can
// share the same port and let the kernel load-balance accepts across them.
func Listen(ctx context.Context, addr string, reuseport bool) (net.Listener, error) {
	cfg := &net.ListenConfig{}
	if reuseport {
		cfg.Control = controlReusePort
	}
	return cfg.Listen(ctx, "tcp", addr)
}

// Serve runs an accept loop against ln, dispatching each connection to
// handle in its own goroutine. It returns when ln.Accept fails, e.g.
// because ln was closed during shutdown.
func Serve(ln net.Listener, handle func(net.Conn)) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetKeepAlive(true)
			_ = tcpConn.SetKeepAlivePeriod(30 * time.Second)
		}
		go handle(conn)
	}
}
