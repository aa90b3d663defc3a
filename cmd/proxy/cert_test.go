package main

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCertGenerateWritesCAFiles(t *testing.T) {
	dir := t.TempDir()
	certPath := dir + "/ca.crt"
	keyPath := dir + "/ca.key"

	cmd := newCertGenerateCommand()
	cmd.SetArgs([]string{"--cert-path", certPath, "--key-path", keyPath})
	require.NoError(t, cmd.Execute())

	assert.FileExists(t, certPath)
	assert.FileExists(t, keyPath)
}

func TestCertGenerateRefusesToOverwriteWithoutForce(t *testing.T) {
	dir := t.TempDir()
	certPath := dir + "/ca.crt"
	keyPath := dir + "/ca.key"
	require.NoError(t, os.WriteFile(certPath, []byte("existing"), 0o600))

	cmd := newCertGenerateCommand()
	cmd.SetArgs([]string{"--cert-path", certPath, "--key-path", keyPath})
	assert.Error(t, cmd.Execute())
}

func TestCertPrintEmitsPEMBlock(t *testing.T) {
	dir := t.TempDir()
	certPath := dir + "/ca.crt"
	keyPath := dir + "/ca.key"

	gen := newCertGenerateCommand()
	gen.SetArgs([]string{"--cert-path", certPath, "--key-path", keyPath})
	require.NoError(t, gen.Execute())

	var out bytes.Buffer
	print := newCertPrintCommand()
	print.SetOut(&out)
	print.SetArgs([]string{"--cert-path", certPath, "--key-path", keyPath})
	require.NoError(t, print.Execute())
	assert.Contains(t, out.String(), "-----BEGIN CERTIFICATE-----")
}
