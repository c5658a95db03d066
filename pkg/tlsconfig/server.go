package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// PeerVerifyMode mirrors the three modes spec §6/original_source's
// QSslSocket::PeerVerifyMode exposes for server-side TLS.
type PeerVerifyMode int

const (
	// PeerVerifyNone never asks the peer for a certificate. Default.
	PeerVerifyNone PeerVerifyMode = iota
	// PeerVerifyRequired refuses the handshake unless the peer presents a
	// certificate that chains to one of the configured CAs.
	PeerVerifyRequired
	// PeerVerifyOptional requests a peer certificate and verifies it if
	// present, but does not require one.
	PeerVerifyOptional
)

// Credentials holds everything needed to terminate TLS on an inbound
// connection: a server certificate chain, its key, optional CA certificates
// used to validate client certificates, and a peer-verification mode.
// Immutable once passed to transport.Bind, per spec §3.
type Credentials struct {
	CertPath string
	KeyPath  string
	// CAPaths lists additional CA certificate files, each PEM- or
	// DER-encoded, used to validate client certificates when PeerVerify is
	// not PeerVerifyNone.
	CAPaths    []string
	PeerVerify PeerVerifyMode
}

// LoadServerConfig builds a *tls.Config suitable for a server-side
// net.Listener, applying the minimum TLS 1.1 floor spec §6 requires and the
// cipher suites ApplyCipherSuites picks for that floor
// (CipherSuitesTLS12Compatible, which includes CBC-mode suites).
func LoadServerConfig(creds Credentials) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(creds.CertPath, creds.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("loading server certificate: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   VersionTLS11,
	}
	ApplyCipherSuites(cfg, cfg.MinVersion)

	switch creds.PeerVerify {
	case PeerVerifyRequired:
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	case PeerVerifyOptional:
		cfg.ClientAuth = tls.VerifyClientCertIfGiven
	default:
		cfg.ClientAuth = tls.NoClientCert
	}

	if len(creds.CAPaths) > 0 {
		pool := x509.NewCertPool()
		for _, path := range creds.CAPaths {
			raw, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("reading CA certificate %s: %w", path, err)
			}
			// Try PEM first; fall back to a raw DER-encoded certificate,
			// per spec §6's "PEM or DER" CA file encoding.
			if pool.AppendCertsFromPEM(raw) {
				continue
			}
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return nil, fmt.Errorf("no certificates found in %s", path)
			}
			pool.AddCert(cert)
		}
		cfg.ClientCAs = pool
	}

	return cfg, nil
}
