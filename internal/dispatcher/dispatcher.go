// Package dispatcher implements the per-connection request state
// machine: plain absolute-form forwarding, CONNECT interception with a
// minted leaf, and the inner HTTP loop running over the resulting TLS
// connection, with every request recorded as a transaction regardless
// of host.
package dispatcher

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/relayforge/interceptproxy/internal/body"
	"github.com/relayforge/interceptproxy/internal/headers"
	"github.com/relayforge/interceptproxy/internal/logging"
	"github.com/relayforge/interceptproxy/internal/metrics"
	"github.com/relayforge/interceptproxy/internal/proxyerr"
	"github.com/relayforge/interceptproxy/internal/tlsengine"
	"github.com/relayforge/interceptproxy/internal/upstream"
)

const connectEstablished = "HTTP/1.1 200 Connection Established\r\n\r\n"

// Dispatcher owns everything a connection needs to move from an
// accepted socket to a completed transaction: the upstream pool, the
// TLS engine that mints per-host leaves, the body policy, and the
// transaction sink. One Dispatcher is shared by every connection on
// every listener.
type Dispatcher struct {
	pool       *upstream.Pool
	engine     *tlsengine.Engine
	bodyPolicy body.Policy
	sink       *logging.Sink
	control    http.Handler
	metrics    *metrics.Registry
}

func New(pool *upstream.Pool, engine *tlsengine.Engine, bodyPolicy body.Policy, sink *logging.Sink, control http.Handler, reg *metrics.Registry) *Dispatcher {
	return &Dispatcher{pool: pool, engine: engine, bodyPolicy: bodyPolicy, sink: sink, control: control, metrics: reg}
}

// ServeHTTP is the entry point for the plaintext listener: CONNECT
// requests are intercepted, "/health" is routed to the control
// endpoint, and everything else is forwarded.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		d.handleConnect(w, r)
		return
	}
	if r.URL.Path == "/health" && d.control != nil {
		d.control.ServeHTTP(w, r)
		return
	}
	if r.URL.Scheme == "" {
		http.Error(w, "absolute-form request required", http.StatusBadRequest)
		return
	}
	d.forwardToResponseWriter(w, r)
}

// handleConnect acknowledges the CONNECT with a 200, performs the
// client-facing TLS handshake with a minted leaf, then runs the inner
// HTTP loop over the resulting TLS connection.
func (d *Dispatcher) handleConnect(w http.ResponseWriter, r *http.Request) {
	host, _, err := net.SplitHostPort(r.Host)
	if err != nil {
		http.Error(w, "CONNECT target must include a port", http.StatusBadRequest)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		logging.Log().Error("hijack failed", zap.Error(err))
		return
	}

	// Acknowledge the tunnel before starting the TLS handshake.
	if _, err := io.WriteString(clientConn, connectEstablished); err != nil {
		clientConn.Close()
		return
	}

	// Interception is port-agnostic: the origin scheme is always
	// inferred https from here on.
	tlsConn := tls.Server(clientConn, d.engine.ServerConfigForHost(host))
	if err := tlsConn.Handshake(); err != nil {
		var pe *proxyerr.Error
		if errors.As(err, &pe) && pe.Kind == proxyerr.CertMintFailure {
			txn := logging.NewTransaction(http.MethodConnect, r.RemoteAddr)
			txn.URL = r.Host
			txn.ErrorKind = pe.Kind
			txn.ErrorDetail = pe.Error()
			d.record(txn)
		} else {
			logging.Log().Debug("client TLS handshake failed", zap.String("host", host), zap.Error(err))
		}
		clientConn.Close()
		return
	}

	d.innerHTTPLoop(tlsConn, r.Host, host)
}

// innerHTTPLoop reads each request off the now-plaintext-to-us TLS
// connection and flows it through the same forwarding path as a plain
// absolute-form request, reconstructing the full https URL from the
// CONNECT authority.
func (d *Dispatcher) innerHTTPLoop(tlsConn *tls.Conn, authority, host string) {
	defer tlsConn.Close()
	reader := bufio.NewReader(tlsConn)

	for {
		req, err := http.ReadRequest(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logging.Log().Debug("inner request read failed", zap.String("host", host), zap.Error(err))
			}
			return
		}
		req.URL.Scheme = "https"
		req.URL.Host = authority

		keepAlive := d.forwardToConn(tlsConn, req, tlsConn.RemoteAddr().String())
		if !keepAlive {
			return
		}
	}
}

// forwardToResponseWriter forwards a plain absolute-form request and
// writes the origin's response back through w.
func (d *Dispatcher) forwardToResponseWriter(w http.ResponseWriter, r *http.Request) {
	txn := logging.NewTransaction(r.Method, r.RemoteAddr)
	txn.URL = r.URL.String()
	start := time.Now()

	resp, reqExcerpt, err := d.doUpstreamRequest(r)
	txn.RequestExcerpt = reqExcerpt.String()
	txn.BytesIn = reqExcerpt.ByteCount

	if err != nil {
		d.finishFailure(txn, start, w, err)
		return
	}
	defer resp.Body.Close()

	upstreamDone := time.Now()
	txn.UpstreamLatency = upstreamDone.Sub(start)
	txn.UpstreamStatus = resp.StatusCode

	for name, values := range headers.FilterResponse(resp.Header) {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	written, respExcerpt, copyErr := body.StreamAndExcerpt(w, resp.Body, d.bodyPolicy)
	txn.ResponseExcerpt = respExcerpt.String()
	txn.BytesOut = written
	txn.TotalLatency = time.Since(start)
	if copyErr != nil {
		logging.Log().Debug("response copy interrupted", zap.Error(copyErr))
	}
	d.record(txn)
}

// forwardToConn forwards a request read off a connection hijacked out of the
// inner HTTP loop: the response is written directly to conn in raw
// HTTP/1.1 wire form. Returns whether the connection should stay open
// for another inner request, following the upstream response's own
// HTTP/1.1 keep-alive semantics.
func (d *Dispatcher) forwardToConn(conn net.Conn, r *http.Request, clientAddr string) bool {
	txn := logging.NewTransaction(r.Method, clientAddr)
	txn.URL = r.URL.String()
	start := time.Now()

	resp, reqExcerpt, err := d.doUpstreamRequest(r)
	txn.RequestExcerpt = reqExcerpt.String()
	txn.BytesIn = reqExcerpt.ByteCount

	if err != nil {
		d.writeErrorToConn(txn, start, conn, err)
		return false
	}
	defer resp.Body.Close()

	txn.UpstreamLatency = time.Since(start)
	txn.UpstreamStatus = resp.StatusCode
	resp.Header = headers.FilterResponse(resp.Header)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.1 %d %s\r\n", resp.StatusCode, http.StatusText(resp.StatusCode))
	resp.Header.Write(&buf)
	buf.WriteString("\r\n")
	if _, err := conn.Write(buf.Bytes()); err != nil {
		return false
	}

	written, respExcerpt, copyErr := body.StreamAndExcerpt(conn, resp.Body, d.bodyPolicy)
	txn.ResponseExcerpt = respExcerpt.String()
	txn.BytesOut = written
	txn.TotalLatency = time.Since(start)
	d.record(txn)

	return copyErr == nil && !resp.Close
}

// doUpstreamRequest implements the shared body-and-header plumbing
// between the two response surfaces: filter and recompute request headers,
// buffer the request body in full whatever its size (request bodies are
// never streamed; only the excerpt is capped by policy), issue it through the
// pool with a per-request deadline, and return the raw response.
func (d *Dispatcher) doUpstreamRequest(r *http.Request) (*http.Response, body.Excerpt, error) {
	if r.URL.Scheme == "" {
		return nil, body.Excerpt{}, proxyerr.New(proxyerr.ClientProtocol, fmt.Errorf("missing scheme in absolute-form request"))
	}

	filtered := headers.FilterRequest(r.Header)

	var reqBody io.Reader = r.Body
	var reqExcerpt body.Excerpt
	var bodyBytes []byte

	if r.Body != nil && r.Body != http.NoBody {
		data, ex, err := body.BufferAndExcerpt(r.Body, d.bodyPolicy)
		if err != nil {
			return nil, body.Excerpt{}, proxyerr.New(proxyerr.ClientProtocol, err)
		}
		bodyBytes = data
		reqExcerpt = ex
		reqBody = nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.pool.RequestTimeout())
	defer cancel()

	outReq, err := http.NewRequestWithContext(ctx, r.Method, r.URL.String(), bodyReader(bodyBytes, reqBody))
	if err != nil {
		return nil, reqExcerpt, proxyerr.New(proxyerr.ClientProtocol, err)
	}
	outReq.Header = filtered
	headers.SynthesizeEgress(outReq.Header, r.URL.Host, int64(len(bodyBytes)))

	resp, err := d.pool.Client(r.URL.Scheme).Do(outReq)
	if err != nil {
		return nil, reqExcerpt, classifyUpstreamError(err)
	}
	return resp, reqExcerpt, nil
}

func bodyReader(buffered []byte, fallback io.Reader) io.Reader {
	if buffered != nil {
		return bytes.NewReader(buffered)
	}
	return fallback
}

// classifyUpstreamError maps a transport-level failure into the DNS vs.
// connect vs. timeout buckets a transaction record needs to distinguish.
func classifyUpstreamError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return proxyerr.New(proxyerr.UpstreamTimeout, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return proxyerr.New(proxyerr.UpstreamDNS, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return proxyerr.New(proxyerr.UpstreamConnect, err)
	}
	return proxyerr.New(proxyerr.UpstreamProtocol, err)
}

// finishFailure writes the classified status (when writable) to a
// still-open http.ResponseWriter and records the failed transaction.
func (d *Dispatcher) finishFailure(txn *logging.TransactionRecord, start time.Time, w http.ResponseWriter, err error) {
	txn.TotalLatency = time.Since(start)
	var pe *proxyerr.Error
	if errors.As(err, &pe) {
		txn.ErrorKind = pe.Kind
		txn.ErrorDetail = pe.Error()
		if status, writable := proxyerr.StatusFor(pe.Kind); writable {
			http.Error(w, http.StatusText(status), status)
		} else {
			w.WriteHeader(http.StatusBadGateway)
		}
	} else {
		txn.ErrorKind = proxyerr.UpstreamProtocol
		txn.ErrorDetail = err.Error()
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
	}
	d.record(txn)
}

// writeErrorToConn is finishFailure's counterpart for the inner HTTP
// loop, where the response must be hand-assembled rather than written
// through http.ResponseWriter.
func (d *Dispatcher) writeErrorToConn(txn *logging.TransactionRecord, start time.Time, conn net.Conn, err error) {
	txn.TotalLatency = time.Since(start)
	status := http.StatusBadGateway
	var pe *proxyerr.Error
	if errors.As(err, &pe) {
		txn.ErrorKind = pe.Kind
		txn.ErrorDetail = pe.Error()
		if s, writable := proxyerr.StatusFor(pe.Kind); writable {
			status = s
		}
	} else {
		txn.ErrorKind = proxyerr.UpstreamProtocol
		txn.ErrorDetail = err.Error()
	}
	msg := http.StatusText(status)
	resp := "HTTP/1.1 " + strconv.Itoa(status) + " " + msg + "\r\nContent-Length: " + strconv.Itoa(len(msg)) + "\r\nConnection: close\r\n\r\n" + msg
	_, _ = io.WriteString(conn, resp)
	d.record(txn)
}

// record sends a transaction to the non-blocking logging sink and, if a
// metrics registry is attached, folds it into the aggregate counters.
func (d *Dispatcher) record(txn *logging.TransactionRecord) {
	d.sink.Record(txn)
	if d.metrics != nil {
		d.metrics.ObserveTransaction(txn.Method, txn.ErrorKind, txn.UpstreamStatus, txn.BytesIn, txn.BytesOut,
			txn.UpstreamLatency.Seconds(), txn.TotalLatency.Seconds())
	}
}
