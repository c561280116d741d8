package tls

import (
	"crypto/tls"
	"fmt"
	"time"

	"mercator-hq/callisto/pkg/config"
)

// EngineConfig holds the protocol settings applied to every server-side TLS
// engine built from an identity.
type EngineConfig struct {
	// MinVersion is "1.2" or "1.3". Empty means "1.2".
	MinVersion string

	// CipherSuites restricts TLS 1.2 suites by name. Empty uses Go's
	// defaults; TLS 1.3 suites are not configurable.
	CipherSuites []string

	// NextProtos is advertised through ALPN.
	NextProtos []string

	// HandshakeTimeout of zero leaves handshakes unbounded.
	HandshakeTimeout time.Duration
}

// EngineConfigFromConfig extracts the engine settings from the tls section.
func EngineConfigFromConfig(cfg config.TLSConfig) EngineConfig {
	return EngineConfig{
		MinVersion:       cfg.MinVersion,
		CipherSuites:     cfg.CipherSuites,
		NextProtos:       []string{"http/1.1"},
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
}

// ServerConfig builds a crypto/tls server configuration presenting id.
// Unknown versions and cipher suite names are rejected.
func (c EngineConfig) ServerConfig(id *Identity) (*tls.Config, error) {
	if id == nil {
		return nil, ErrNoIdentity
	}

	minVersion, err := parseTLSVersion(c.MinVersion)
	if err != nil {
		return nil, err
	}
	suites, err := parseCipherSuites(c.CipherSuites)
	if err != nil {
		return nil, err
	}

	// #nosec G402 - MinVersion is validated, TLS 1.0/1.1 are rejected
	return &tls.Config{
		Certificates: []tls.Certificate{id.Certificate()},
		MinVersion:   minVersion,
		CipherSuites: suites,
		NextProtos:   c.NextProtos,
	}, nil
}

// parseTLSVersion converts a version string to a tls constant. TLS 1.0 and
// 1.1 are not supported.
func parseTLSVersion(v string) (uint16, error) {
	switch v {
	case "1.2", "":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q", v)
	}
}

func parseCipherSuites(names []string) ([]uint16, error) {
	if len(names) == 0 {
		return nil, nil
	}
	suites := make([]uint16, 0, len(names))
	for _, name := range names {
		id, ok := cipherSuiteMap[name]
		if !ok {
			return nil, fmt.Errorf("unknown cipher suite %q", name)
		}
		suites = append(suites, id)
	}
	return suites, nil
}

// KnownCipherSuite reports whether name is an accepted cipher suite name.
func KnownCipherSuite(name string) bool {
	_, ok := cipherSuiteMap[name]
	return ok
}

// cipherSuiteMap maps cipher suite names to their tls package constants.
// Only AEAD suites are accepted.
var cipherSuiteMap = map[string]uint16{
	"TLS_AES_128_GCM_SHA256":       tls.TLS_AES_128_GCM_SHA256,
	"TLS_AES_256_GCM_SHA384":       tls.TLS_AES_256_GCM_SHA384,
	"TLS_CHACHA20_POLY1305_SHA256": tls.TLS_CHACHA20_POLY1305_SHA256,

	"TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256":   tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	"TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384":   tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	"TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256": tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	"TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384": tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	"TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305":    tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
	"TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305":  tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
}
