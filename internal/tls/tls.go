// Package tls builds server TLS configurations from the [server.tls] config
// section, generating self-signed development certificates on demand.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/servonhq/servon/internal/config"
)

// File names used for directory-managed certificates.
const (
	CertName   = "servon.crt"
	KeyName    = "servon.key"
	CACertName = "servon_ca.crt"
)

const defaultValidDays = 365

// ParseVersion maps a config version string to a crypto/tls constant.
func ParseVersion(ver string) (uint16, bool) {
	switch strings.ToLower(ver) {
	case "1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

func resolveVersions(tc *config.TLSConfig) (uint16, uint16) {
	minVer := uint16(tls.VersionTLS12)
	maxVer := uint16(tls.VersionTLS13)
	if v, ok := ParseVersion(tc.MinVersion); ok {
		minVer = v
	}
	if v, ok := ParseVersion(tc.MaxVersion); ok {
		maxVer = v
	}
	return minVer, maxVer
}

// safeReadFile refuses paths that resolve outside baseDir.
func safeReadFile(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	if baseDir != "" {
		absBase, _ := filepath.Abs(baseDir)
		absFile, _ := filepath.Abs(clean)
		if absFile != absBase && !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) {
			return nil, errors.New("certificate path outside of allowed directory")
		}
	}
	return os.ReadFile(clean)
}

// reloadingCertificate re-reads the pair on every handshake so a rotated
// certificate is picked up without a daemon restart.
func reloadingCertificate(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	baseDir := filepath.Dir(certFile)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		certPEM, err := safeReadFile(baseDir, certFile)
		if err != nil {
			return nil, err
		}
		keyPEM, err := safeReadFile(baseDir, keyFile)
		if err != nil {
			return nil, err
		}
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, err
		}
		return &cert, nil
	}
}

// Setup builds the server TLS configuration described by the config section.
// It returns (nil, nil) when the section is absent or disabled. Explicit
// cert_file/key_file win over a managed directory; a managed directory gets
// a self-signed pair generated when auto_generate is set and none exists.
func Setup(tc *config.TLSConfig) (*tls.Config, error) {
	if tc == nil || !tc.Enabled {
		return nil, nil
	}
	minVer, maxVer := resolveVersions(tc)

	if tc.CertFile != "" && tc.KeyFile != "" {
		return newConfig(tc.CertFile, tc.KeyFile, minVer, maxVer), nil
	}

	if tc.Dir != "" {
		certPath := filepath.Join(tc.Dir, CertName)
		keyPath := filepath.Join(tc.Dir, KeyName)
		if tc.AutoGenerate && !pairExists(certPath, keyPath) {
			if err := generate(tc, certPath, keyPath); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
		return newConfig(certPath, keyPath, minVer, maxVer), nil
	}

	return nil, errors.New("tls enabled but no certificate configured")
}

// Dev returns a section that keeps an auto-generated pair under dir,
// suitable for local development.
func Dev(dir string) *config.TLSConfig {
	return &config.TLSConfig{
		Enabled:      true,
		Dir:          dir,
		AutoGenerate: true,
	}
}

func newConfig(certPath, keyPath string, minVer, maxVer uint16) *tls.Config {
	// #nosec G402 -- min version is config-driven, floor is TLS 1.2
	return &tls.Config{
		GetCertificate: reloadingCertificate(certPath, keyPath),
		MinVersion:     minVer,
		MaxVersion:     maxVer,
	}
}

func pairExists(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

func generate(tc *config.TLSConfig, certPath, keyPath string) error {
	if err := os.MkdirAll(tc.Dir, 0o750); err != nil {
		return fmt.Errorf("create certificate directory: %w", err)
	}
	commonName := tc.CommonName
	if commonName == "" {
		commonName = "localhost"
	}
	dnsNames := tc.DNSNames
	if len(dnsNames) == 0 {
		dnsNames = []string{"localhost"}
	}
	validDays := tc.ValidDays
	if validDays <= 0 {
		validDays = defaultValidDays
	}
	return GenerateSelfSigned(CertSpec{
		CommonName:   commonName,
		Organization: "servon",
		DNSNames:     dnsNames,
		IPAddresses:  []string{"127.0.0.1", "::1"},
		NotAfter:     time.Now().AddDate(0, 0, validDays),
		CertPath:     certPath,
		KeyPath:      keyPath,
		CACertPath:   filepath.Join(tc.Dir, CACertName),
	})
}
