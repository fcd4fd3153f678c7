// Package tls builds the HTTPS configuration of the task server.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/taskconsole/internal/config"
)

const (
	CACertFile = "tls_ca.crt"
	CertFile   = "tls.crt"
	KeyFile    = "tls.key"
)

const defaultValidDays = 365

func minVersion(v string) uint16 {
	if v == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}

// certLoader rereads the key pair on every handshake so rotated files are
// picked up without a restart.
func certLoader(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		cert, err := tls.LoadX509KeyPair(filepath.Clean(certFile), filepath.Clean(keyFile))
		if err != nil {
			return nil, err
		}
		return &cert, nil
	}
}

// Setup returns the server TLS configuration, or nil when TLS is disabled.
// Explicit cert/key files win over Dir; with AutoGenerate a missing pair in
// Dir is created first.
func Setup(c config.TLSConfig) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	certPath, keyPath := c.CertFile, c.KeyFile
	if certPath == "" || keyPath == "" {
		if c.Dir == "" {
			return nil, errors.New("TLS enabled but no certificate configured")
		}
		certPath = filepath.Join(c.Dir, CertFile)
		keyPath = filepath.Join(c.Dir, KeyFile)
		if c.AutoGenerate && !exists(certPath, keyPath) {
			if err := generate(c); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	}
	// fail at startup rather than on the first handshake
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	return &tls.Config{
		GetCertificate: certLoader(certPath, keyPath),
		MinVersion:     minVersion(c.MinVersion),
	}, nil
}

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func orDefault[T any](v []T, def []T) []T {
	if len(v) == 0 {
		return def
	}
	return v
}

func generate(c config.TLSConfig) error {
	if err := os.MkdirAll(c.Dir, 0o750); err != nil {
		return fmt.Errorf("failed to create certificate directory: %w", err)
	}
	cn := c.CommonName
	if cn == "" {
		cn = "localhost"
	}
	days := c.ValidDays
	if days <= 0 {
		days = defaultValidDays
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   cn,
		Organization: "taskconsole",
		DNSNames:     orDefault(c.DNSNames, []string{"localhost"}),
		IPAddresses:  orDefault(c.IPAddresses, []string{"127.0.0.1"}),
		NotAfter:     time.Now().AddDate(0, 0, days),
		CertPath:     filepath.Join(c.Dir, CertFile),
		KeyPath:      filepath.Join(c.Dir, KeyFile),
		CACertPath:   filepath.Join(c.Dir, CACertFile),
	})
}
