package certauthority

import (
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateTestAuthority(t *testing.T) *Authority {
	t.Helper()
	dir := t.TempDir()
	certPath := filepath.Join(dir, "ca.crt")
	keyPath := filepath.Join(dir, "ca.key")

	opts := Options{ValidityDays: 30, Organization: "Test Org", CommonName: "Test CA"}
	require.NoError(t, Generate(certPath, keyPath, opts))

	authority, err := Load(certPath, keyPath, opts)
	require.NoError(t, err)
	return authority
}

func TestGenerateThenLoadRoundTrip(t *testing.T) {
	authority := generateTestAuthority(t)
	assert.NotEmpty(t, authority.CertDER())
	assert.NotNil(t, authority.CertPool())
}

func TestLoadOrGenerateGeneratesWhenMissing(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "ca.crt")
	keyPath := filepath.Join(dir, "ca.key")

	authority, err := LoadOrGenerate(certPath, keyPath, true, Options{ValidityDays: 30})
	require.NoError(t, err)
	assert.NotEmpty(t, authority.CertDER())

	_, statErr := os.Stat(certPath)
	assert.NoError(t, statErr)
}

func TestLoadOrGenerateFailsFastWithoutAutoGenerate(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadOrGenerate(filepath.Join(dir, "ca.crt"), filepath.Join(dir, "ca.key"), false, Options{})
	require.Error(t, err)
}

func TestMintProducesLeafChainingToCA(t *testing.T) {
	authority := generateTestAuthority(t)

	cert, err := authority.Mint("example.test")
	require.NoError(t, err)
	assert.Equal(t, "example.test", cert.SubjectHost)
	assert.NotEmpty(t, cert.LeafCertDER)
	assert.True(t, cert.ExpiresAt.After(cert.IssuedAt))

	tlsCert, err := cert.TLSCertificate(authority.CertDER())
	require.NoError(t, err)
	assert.Contains(t, tlsCert.Leaf.DNSNames, "example.test")
	assert.False(t, tlsCert.Leaf.IsCA)
	_, err = tlsCert.Leaf.Verify(x509.VerifyOptions{Roots: authority.CertPool(), DNSName: "example.test"})
	require.NoError(t, err)

	validity := cert.ExpiresAt.Sub(cert.IssuedAt)
	assert.InDelta(t, 30*24*time.Hour, validity, float64(time.Hour))
}
