package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/interceptproxy/internal/certcache"
	"github.com/relayforge/interceptproxy/internal/config"
)

func TestBuildAuthorityGeneratesWhenMissing(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.TLS.CACertPath = dir + "/ca.crt"
	cfg.TLS.CAKeyPath = dir + "/ca.key"
	cfg.TLS.AutoGenerateCert = true

	authority, err := buildAuthority(cfg)
	require.NoError(t, err)
	assert.NotNil(t, authority)
}

func TestBuildAuthorityFailsWithoutAutoGenerateOrFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.TLS.CACertPath = dir + "/missing.crt"
	cfg.TLS.CAKeyPath = dir + "/missing.key"
	cfg.TLS.AutoGenerateCert = false

	_, err := buildAuthority(cfg)
	assert.Error(t, err)
}

func TestBuildCertStoreDefaultsToMemory(t *testing.T) {
	cfg := config.Default()
	cfg.TLS.CertificateStorage = "memory"

	store, err := buildCertStore(cfg)
	require.NoError(t, err)
	_, ok := store.(*certcache.MemoryStore)
	assert.True(t, ok)
}

func TestBuildCertStoreRemoteReturnsRedisStore(t *testing.T) {
	cfg := config.Default()
	cfg.TLS.CertificateStorage = "remote"
	cfg.Redis.URL = "redis://127.0.0.1:1"

	store, err := buildCertStore(cfg)
	if err == nil {
		_, ok := store.(*certcache.RedisStore)
		assert.True(t, ok, "a non-error result must be the redis-backed store")
	}
}
