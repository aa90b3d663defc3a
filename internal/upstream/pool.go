// Package upstream implements one process-wide, scheme-keyed HTTP/1.1
// client pool with idle-connection reuse, TCP keep-alive, and a
// per-request deadline.
package upstream

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// Options configures the pool's transport knobs.
type Options struct {
	MaxIdlePerHost      int
	IdleTimeout         time.Duration
	ConnectTimeout      time.Duration
	RequestTimeout      time.Duration
	TCPKeepAlive        bool
	TCPKeepAliveInterval time.Duration
	NoDelay             bool
}

// DefaultOptions returns the documented zero-config defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdlePerHost:       50,
		IdleTimeout:          90 * time.Second,
		ConnectTimeout:       10 * time.Second,
		RequestTimeout:       30 * time.Second,
		TCPKeepAlive:         true,
		TCPKeepAliveInterval: 30 * time.Second,
		NoDelay:              true,
	}
}

// TightenForSharedPort shrinks idle pools and the idle timeout so
// connections cycle more aggressively and the kernel can rebalance new
// connections across sibling processes.
func (o Options) TightenForSharedPort() Options {
	o.MaxIdlePerHost = 10
	o.IdleTimeout = 15 * time.Second
	return o
}

// Pool holds one *http.Client per scheme ("http", "https"), each backed
// by its own *http.Transport so idle connections are never shared
// across schemes. It is built once at startup and is safe for
// concurrent use by every connection handler; concurrent checkout is
// synchronized by http.Transport's own internal connection map.
type Pool struct {
	opts    Options
	clients map[string]*http.Client
}

func New(opts Options, upstreamTLSConfigFor func(serverName string) *tls.Config) *Pool {
	dialer := &net.Dialer{
		Timeout: opts.ConnectTimeout,
	}
	if opts.TCPKeepAlive {
		dialer.KeepAlive = opts.TCPKeepAliveInterval
	} else {
		dialer.KeepAlive = -1
	}

	httpTransport := &http.Transport{
		Proxy:                 nil, // this pool dials origins directly, never another proxy
		DialContext:           dialContext(dialer, opts.NoDelay),
		MaxIdleConns:          0, // unbounded overall; per-host bound below is what matters
		MaxIdleConnsPerHost:   opts.MaxIdlePerHost,
		IdleConnTimeout:       opts.IdleTimeout,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     false, // HTTP/2 to origins is out of scope
	}

	httpsTransport := httpTransport.Clone()
	httpsTransport.DialContext = dialContext(dialer, opts.NoDelay)
	httpsTransport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		rawConn, err := dialContext(dialer, opts.NoDelay)(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		host, _, splitErr := net.SplitHostPort(addr)
		if splitErr != nil {
			host = addr
		}
		tlsConn := tls.Client(rawConn, upstreamTLSConfigFor(host))
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			rawConn.Close()
			return nil, err
		}
		return tlsConn, nil
	}

	return &Pool{
		opts: opts,
		clients: map[string]*http.Client{
			"http":  {Transport: httpTransport, CheckRedirect: noFollowRedirects},
			"https": {Transport: httpsTransport, CheckRedirect: noFollowRedirects},
		},
	}
}

// noFollowRedirects: the proxy forwards whatever the origin returns
// verbatim; it must never silently chase a redirect on the client's behalf.
func noFollowRedirects(_ *http.Request, _ []*http.Request) error {
	return http.ErrUseLastResponse
}

func dialContext(dialer *net.Dialer, noDelay bool) func(context.Context, string, string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		if noDelay {
			if tcpConn, ok := conn.(*net.TCPConn); ok {
				_ = tcpConn.SetNoDelay(true)
			}
		}
		return conn, nil
	}
}

// Client returns the pooled *http.Client for scheme ("http" or
// "https"), or the plain HTTP client if scheme is unrecognized.
func (p *Pool) Client(scheme string) *http.Client {
	if c, ok := p.clients[scheme]; ok {
		return c
	}
	return p.clients["http"]
}

// RequestTimeout is the per-request deadline applied by the dispatcher.
func (p *Pool) RequestTimeout() time.Duration {
	return p.opts.RequestTimeout
}
