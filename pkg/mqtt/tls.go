package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// alpnPort is the HTTPS port on which MQTT needs ALPN to reach the broker.
const alpnPort = 443

// alpnProtocol is the ALPN protocol id for MQTT over port 443.
const alpnProtocol = "x-amzn-mqtt-ca"

// tlsMinVersion is the minimum TLS version for secure connections.
const tlsMinVersion = tls.VersionTLS12

// NewTLSConfig loads a client certificate/key pair and an optional CA bundle.
// An empty caPath uses the system roots.
func NewTLSConfig(certPath, keyPath, caPath string, port int) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCertificate, err)
	}

	cfg := &tls.Config{
		MinVersion:   tlsMinVersion,
		Certificates: []tls.Certificate{cert},
	}

	if caPath != "" {
		pem, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("%w: reading CA bundle: %w", ErrInvalidCertificate, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates found in %s", ErrInvalidCertificate, caPath)
		}
		cfg.RootCAs = pool
	}

	if port == alpnPort {
		cfg.NextProtos = []string{alpnProtocol}
	}

	return cfg, nil
}
