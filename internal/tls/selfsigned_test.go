package tls

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCert(t *testing.T, path string) *x509.Certificate {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	block, _ := pem.Decode(raw)
	require.NotNil(t, block)
	require.Equal(t, "CERTIFICATE", block.Type)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	return cert
}

func TestGenerateSelfSignedCert(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "server.crt")
	keyPath := filepath.Join(dir, "server.key")

	err := GenerateSelfSignedCert(certPath, keyPath, []string{"localhost", "127.0.0.1"}, CertOptions{})
	require.NoError(t, err)

	cert := readCert(t, certPath)
	assert.Equal(t, []string{"localhost"}, cert.DNSNames)
	require.Len(t, cert.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", cert.IPAddresses[0].String())
	assert.Equal(t, []string{defaultOrganization}, cert.Subject.Organization)

	raw, err := os.ReadFile(keyPath)
	require.NoError(t, err)
	block, _ := pem.Decode(raw)
	require.NotNil(t, block)
	assert.Equal(t, "EC PRIVATE KEY", block.Type)
	_, err = x509.ParseECPrivateKey(block.Bytes)
	assert.NoError(t, err)
}

func TestGenerateSelfSignedCertOptions(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "server.crt")
	keyPath := filepath.Join(dir, "server.key")

	opts := CertOptions{Organization: "Acme Ops", ValidFor: 48 * time.Hour}
	require.NoError(t, GenerateSelfSignedCert(certPath, keyPath, []string{"flowd.internal"}, opts))

	cert := readCert(t, certPath)
	assert.Equal(t, []string{"Acme Ops"}, cert.Subject.Organization)
	lifetime := cert.NotAfter.Sub(cert.NotBefore)
	assert.Equal(t, 48*time.Hour, lifetime)
}
