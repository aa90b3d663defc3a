// Package proxyerr defines the transaction error taxonomy shared across
// the dispatcher, TLS engine, and upstream client. Each Kind maps to the
// HTTP status (if any) the dispatcher synthesizes for the client; log
// levels are chosen at the call sites, not by this package.
package proxyerr

import "errors"

// Kind classifies a transaction failure. It is the thing recorded on a
// TransactionRecord, not a Go error type — Error wraps a Kind with the
// underlying cause for propagation.
type Kind string

const (
	ConfigInvalid        Kind = "config_invalid"
	CaUnavailable        Kind = "ca_unavailable"
	ClientProtocol       Kind = "client_protocol"
	UpstreamDNS          Kind = "upstream_dns"
	UpstreamConnect      Kind = "upstream_connect"
	UpstreamTimeout      Kind = "upstream_timeout"
	UpstreamProtocol     Kind = "upstream_protocol"
	TLSHandshakeClient   Kind = "tls_handshake_client"
	TLSHandshakeUpstream Kind = "tls_handshake_upstream"
	CertMintFailure      Kind = "cert_mint_failure"
	CacheBackend         Kind = "cache_backend"
)

// Error pairs a Kind with the underlying cause, so callers can both
// switch on the classification and preserve %w chains for logging.
type Error struct {
	Kind  Kind
	Cause error
}

func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether err (or anything it wraps) is a *Error of the given
// Kind. It's a thin convenience over errors.As for the dispatch sites
// that only care about the classification.
func Is(err error, kind Kind) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

// StatusFor returns the HTTP status the dispatcher should write to the
// client for a given Kind, and whether a status can be written at all
// (false once the connection has already been hijacked past the point
// a status line can be sent, e.g. after the CONNECT 200 ack).
func StatusFor(kind Kind) (status int, writable bool) {
	switch kind {
	case ClientProtocol:
		return 400, true
	case UpstreamDNS, UpstreamConnect, UpstreamProtocol, TLSHandshakeUpstream:
		return 502, true
	case UpstreamTimeout:
		return 504, true
	case CertMintFailure:
		// Only writable pre-handshake (plain HTTP path or before the
		// CONNECT 200 ack). Once TLS has started, the dispatcher must
		// treat this as unwritable and close instead.
		return 502, true
	case TLSHandshakeClient:
		return 0, false
	default:
		return 0, false
	}
}
