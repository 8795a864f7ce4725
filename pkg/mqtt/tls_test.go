package mqtt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSelfSigned writes a self-signed certificate and its key to dir.
func writeSelfSigned(t *testing.T, dir string) (certPath, keyPath string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "localhost"},
		DNSNames:              []string{"localhost"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPath = filepath.Join(dir, "device.pem.crt")
	keyPath = filepath.Join(dir, "private.pem.key")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certPath, keyPath
}

func TestNewTLSConfig(t *testing.T) {
	certPath, keyPath := writeSelfSigned(t, t.TempDir())

	cfg, err := NewTLSConfig(certPath, keyPath, "", 8883)
	require.NoError(t, err)

	assert.Len(t, cfg.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.Nil(t, cfg.RootCAs)
	assert.Empty(t, cfg.NextProtos)
}

func TestNewTLSConfigALPNOnPort443(t *testing.T) {
	certPath, keyPath := writeSelfSigned(t, t.TempDir())

	cfg, err := NewTLSConfig(certPath, keyPath, "", 443)
	require.NoError(t, err)
	assert.Equal(t, []string{"x-amzn-mqtt-ca"}, cfg.NextProtos)
}

func TestNewTLSConfigWithCA(t *testing.T) {
	certPath, keyPath := writeSelfSigned(t, t.TempDir())

	// the self-signed certificate doubles as its own CA
	cfg, err := NewTLSConfig(certPath, keyPath, certPath, 8883)
	require.NoError(t, err)
	assert.NotNil(t, cfg.RootCAs)
}

func TestNewTLSConfigErrors(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeSelfSigned(t, dir)

	_, err := NewTLSConfig(filepath.Join(dir, "missing.crt"), keyPath, "", 8883)
	assert.ErrorIs(t, err, ErrInvalidCertificate)

	_, err = NewTLSConfig(certPath, keyPath, filepath.Join(dir, "missing-ca.pem"), 8883)
	assert.ErrorIs(t, err, ErrInvalidCertificate)

	garbage := filepath.Join(dir, "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not a certificate"), 0o600))
	_, err = NewTLSConfig(certPath, keyPath, garbage, 8883)
	assert.ErrorIs(t, err, ErrInvalidCertificate)
}
