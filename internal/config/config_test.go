package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPassesValidate(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadAppliesFileOverridesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proxy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: "0.0.0.0:9090"
tls:
  auto_generate_cert: true
  ca_cert_path: /tmp/ca.crt
  ca_key_path: /tmp/ca.key
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", cfg.ListenAddr)
	assert.True(t, cfg.TLS.AutoGenerateCert)
	assert.Equal(t, "memory", cfg.TLS.CertificateStorage, "unset keys keep their default")
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsUnknownCertificateStorage(t *testing.T) {
	cfg := Default()
	cfg.TLS.CertificateStorage = "disk"
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresRedisURLForRemoteStorage(t *testing.T) {
	cfg := Default()
	cfg.TLS.CertificateStorage = "remote"
	assert.Error(t, cfg.Validate())

	cfg.Redis.URL = "redis://localhost:6379/0"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRequiresCAPathsWithoutAutoGenerate(t *testing.T) {
	cfg := Default()
	cfg.TLS.AutoGenerateCert = false
	assert.Error(t, cfg.Validate())

	cfg.TLS.CACertPath = "/tmp/ca.crt"
	cfg.TLS.CAKeyPath = "/tmp/ca.key"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownRuntimeMode(t *testing.T) {
	cfg := Default()
	cfg.Runtime.Mode = "single_process_please"
	assert.Error(t, cfg.Validate())
}
