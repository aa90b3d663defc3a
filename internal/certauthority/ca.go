// Package certauthority loads or generates the CA material and mints
// per-host leaf certificates, with a strict validity window, key-usage
// policy, and fail-fast-without-CA requirement.
package certauthority

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/relayforge/interceptproxy/internal/proxyerr"
)

// leafKeyBits is the RSA key size minted for each per-host leaf
// certificate.
const leafKeyBits = 2048

// caKeyBits is used only when a CA is generated rather than loaded.
const caKeyBits = 4096

// Authority holds the loaded (or generated) CA certificate and key. It
// is read-only after construction, safe for concurrent use once built.
type Authority struct {
	cert *x509.Certificate
	key  *rsa.PrivateKey

	validity   time.Duration
	org        string
	commonName string
}

// Options configures leaf issuance policy.
type Options struct {
	// ValidityDays is the leaf certificate lifetime, default 30 days.
	ValidityDays int
	// Organization and CommonName are used only when generating a new CA.
	Organization string
	CommonName   string
}

// LoadOrGenerate loads CA material from certPath/keyPath. If autoGenerate
// is true and the files don't exist, a new self-signed CA is generated
// and written there. If the proxy requires interception and no CA can be
// obtained, the caller must fail fast; this function returns a
// CaUnavailable error rather than panicking.
func LoadOrGenerate(certPath, keyPath string, autoGenerate bool, opts Options) (*Authority, error) {
	if opts.ValidityDays <= 0 {
		opts.ValidityDays = 30
	}

	authority, err := Load(certPath, keyPath, opts)
	if err == nil {
		return authority, nil
	}
	if !errors.Is(err, os.ErrNotExist) || !autoGenerate {
		return nil, proxyerr.New(proxyerr.CaUnavailable, err)
	}

	if genErr := Generate(certPath, keyPath, opts); genErr != nil {
		return nil, proxyerr.New(proxyerr.CaUnavailable, fmt.Errorf("generating CA: %w", genErr))
	}
	authority, err = Load(certPath, keyPath, opts)
	if err != nil {
		return nil, proxyerr.New(proxyerr.CaUnavailable, fmt.Errorf("loading generated CA: %w", err))
	}
	return authority, nil
}

// Load reads CA certificate and key PEM files from disk.
func Load(certPath, keyPath string, opts Options) (*Authority, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, err
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, fmt.Errorf("no PEM block found in %s", certPath)
	}
	caCert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse CA cert: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, fmt.Errorf("no PEM block found in %s", keyPath)
	}
	caKey, err := parseRSAKey(keyBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse CA key: %w", err)
	}

	return &Authority{
		cert:       caCert,
		key:        caKey,
		validity:   time.Duration(opts.ValidityDays) * 24 * time.Hour,
		org:        opts.Organization,
		commonName: opts.CommonName,
	}, nil
}

func parseRSAKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("CA key is not RSA")
	}
	return rsaKey, nil
}

// Generate creates a new self-signed CA certificate and key and writes
// them as PEM files at certPath/keyPath.
func Generate(certPath, keyPath string, opts Options) error {
	key, err := rsa.GenerateKey(rand.Reader, caKeyBits)
	if err != nil {
		return fmt.Errorf("generate CA key: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return err
	}

	commonName := opts.CommonName
	if commonName == "" {
		commonName = "Intercept Proxy Local CA"
	}
	org := opts.Organization
	if org == "" {
		org = "Intercept Proxy"
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{org},
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:               time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:               x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid:  true,
		IsCA:                   true,
		MaxPathLenZero:         false,
		MaxPathLen:             1,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("create CA cert: %w", err)
	}

	certOut, err := os.OpenFile(certPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create cert file: %w", err)
	}
	defer certOut.Close()
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: derBytes}); err != nil {
		return fmt.Errorf("write cert PEM: %w", err)
	}

	keyOut, err := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create key file: %w", err)
	}
	defer keyOut.Close()
	if err := pem.Encode(keyOut, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}); err != nil {
		return fmt.Errorf("write key PEM: %w", err)
	}

	return nil
}

// CertDER returns the CA certificate's raw DER bytes, e.g. for clients
// that want to install the CA into their own trust store.
func (a *Authority) CertDER() []byte { return a.cert.Raw }

// CertPool returns an *x509.CertPool containing only this CA, useful for
// tests that verify a minted leaf chains to it.
func (a *Authority) CertPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(a.cert)
	return pool
}

func randomSerial() (*big.Int, error) {
	return rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
}
