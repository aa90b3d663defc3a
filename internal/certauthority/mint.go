package certauthority

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"time"

	"github.com/relayforge/interceptproxy/internal/proxyerr"
)

// Certificate is a minted leaf, DER-encoded so it is byte-identical
// across processes sharing a remote cache backend.
type Certificate struct {
	LeafCertDER []byte
	LeafKeyDER  []byte
	IssuedAt    time.Time
	ExpiresAt   time.Time
	SubjectHost string
}

// TLSCertificate converts the stored DER bytes into a *tls.Certificate
// with the CA certificate appended to the chain, ready for
// tls.Config.Certificates or a GetCertificate callback.
func (c *Certificate) TLSCertificate(caCertDER []byte) (*tls.Certificate, error) {
	key, err := x509.ParsePKCS1PrivateKey(c.LeafKeyDER)
	if err != nil {
		return nil, fmt.Errorf("parse leaf key: %w", err)
	}
	leaf, err := x509.ParseCertificate(c.LeafCertDER)
	if err != nil {
		return nil, fmt.Errorf("parse leaf cert: %w", err)
	}
	return &tls.Certificate{
		Certificate: [][]byte{c.LeafCertDER, caCertDER},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}

// Mint generates a leaf certificate and key for host, signed by the
// Authority: CN = host, SAN = {host}, validity = a.validity (30 days by
// default), key usage = digital signature + key encipherment, EKU =
// server auth, not a CA.
//
// Mint failures are classified CertMintFailure; tlsengine does not
// cache a negative result and the caller must not call Store.Put on error.
func (a *Authority) Mint(host string) (*Certificate, error) {
	leafKey, err := rsa.GenerateKey(rand.Reader, leafKeyBits)
	if err != nil {
		return nil, proxyerr.New(proxyerr.CertMintFailure, fmt.Errorf("generate leaf key: %w", err))
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, proxyerr.New(proxyerr.CertMintFailure, fmt.Errorf("generate serial: %w", err))
	}

	now := time.Now()
	notBefore := now.Add(-time.Minute)
	notAfter := now.Add(a.validity)

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: host},
		DNSNames:     []string{host},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IsCA:         false,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, template, a.cert, &leafKey.PublicKey, a.key)
	if err != nil {
		return nil, proxyerr.New(proxyerr.CertMintFailure, fmt.Errorf("sign leaf cert: %w", err))
	}

	return &Certificate{
		LeafCertDER: derBytes,
		LeafKeyDER:  x509.MarshalPKCS1PrivateKey(leafKey),
		IssuedAt:    now,
		ExpiresAt:   notAfter,
		SubjectHost: host,
	}, nil
}
