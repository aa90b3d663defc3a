// Package tlsengine builds the two TLS surfaces the proxy needs:
// server-side termination using a minted leaf (via a GetCertificate
// callback that mints-or-fetches per SNI through the certificate store)
// and client-side origination toward the true origin using either the
// system trust store or, when given, a caller-supplied pool in its place
// (the two are not merged).
package tlsengine

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relayforge/interceptproxy/internal/certauthority"
	"github.com/relayforge/interceptproxy/internal/certcache"
	"github.com/relayforge/interceptproxy/internal/logging"
	"github.com/relayforge/interceptproxy/internal/proxyerr"
)

// DefaultLeafTTL is the longest a minted leaf lives in the Certificate
// Store; certificateFor shortens it to the leaf's own remaining validity
// so a cached entry never outlives the certificate it points to.
const DefaultLeafTTL = 30 * 24 * time.Hour

// Engine owns the CA, the certificate store, and the upstream trust
// configuration. It is built once at startup and is read-only thereafter.
type Engine struct {
	authority *certauthority.Authority
	store     certcache.Store
	caCertDER []byte

	minVersion uint16

	upstreamTLSConfig *tls.Config
}

type Options struct {
	MinTLSVersion          string // "1.0".."1.3"
	SkipUpstreamCertVerify bool
	ExtraTrustAnchors      *x509.CertPool // nil to use only the system pool
}

func New(authority *certauthority.Authority, store certcache.Store, caCertDER []byte, opts Options) (*Engine, error) {
	minVersion, err := parseTLSVersion(opts.MinTLSVersion)
	if err != nil {
		return nil, err
	}

	if opts.SkipUpstreamCertVerify {
		logging.Log().Warn("tls.skip_upstream_cert_verify is enabled: upstream certificate validation is disabled, this is insecure")
	}

	upstreamCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: opts.SkipUpstreamCertVerify, //nolint:gosec // explicit opt-in, logged above
		// nil RootCAs makes crypto/tls fall back to the system trust
		// store; ExtraTrustAnchors, when set, is used verbatim instead
		// (it is the caller's responsibility to seed it from the
		// system pool if both are wanted).
		RootCAs:    opts.ExtraTrustAnchors,
		NextProtos: []string{"http/1.1"},
	}

	return &Engine{
		authority:         authority,
		store:             store,
		caCertDER:         caCertDER,
		minVersion:        minVersion,
		upstreamTLSConfig: upstreamCfg,
	}, nil
}

func parseTLSVersion(v string) (uint16, error) {
	switch v {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.0":
		return tls.VersionTLS10, nil
	case "1.1":
		return tls.VersionTLS11, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unrecognized tls.min_tls_version: %s", v)
	}
}

// ServerConfigForHost returns a *tls.Config that presents a minted leaf
// for host, advertising ALPN http/1.1. The leaf is fetched from the
// certificate store; on a miss, it is minted and stored before use.
func (e *Engine) ServerConfigForHost(host string) *tls.Config {
	return &tls.Config{
		MinVersion: e.minVersion,
		NextProtos: []string{"http/1.1"},
		GetCertificate: func(_ *tls.ClientHelloInfo) (*tls.Certificate, error) {
			return e.certificateFor(host)
		},
	}
}

// certificateFor implements the cache-then-mint path: a store hit
// returns immediately; a miss mints a new leaf, stores it, and returns
// it. Mint failures are never cached.
func (e *Engine) certificateFor(host string) (*tls.Certificate, error) {
	ctx := context.Background()

	if cert, ok := e.store.Get(ctx, host); ok {
		return cert.TLSCertificate(e.caCertDER)
	}

	minted, err := e.authority.Mint(host)
	if err != nil {
		logging.Log().Error("certificate mint failed", zap.String("host", host), zap.Error(err))
		return nil, proxyerr.New(proxyerr.CertMintFailure, err)
	}

	ttl := DefaultLeafTTL
	if remaining := time.Until(minted.ExpiresAt); remaining < ttl {
		ttl = remaining
	}
	if err := e.store.Put(ctx, host, minted, ttl); err != nil {
		// Fail-open: the request still proceeds with the minted cert,
		// it just won't be cached for the next connection.
		logging.Log().Warn("certificate cache put failed", zap.String("host", host), zap.Error(err))
	}

	return minted.TLSCertificate(e.caCertDER)
}

// UpstreamTLSConfig returns the client-side TLS configuration used to
// originate a connection to the true origin.
func (e *Engine) UpstreamTLSConfig(serverName string) *tls.Config {
	cfg := e.upstreamTLSConfig.Clone()
	cfg.ServerName = serverName
	return cfg
}
