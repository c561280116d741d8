package tls

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"mercator-hq/callisto/pkg/config"
)

// ErrNoIdentity is returned when TLS is requested but no identity exists.
var ErrNoIdentity = errors.New("no TLS identity")

// IdentityError reports a failure to produce a certificate and key.
type IdentityError struct {
	// Op is the step that failed: "generate", "load", "validate" or "write".
	Op   string
	Path string
	Err  error
}

func (e *IdentityError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("tls identity %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("tls identity %s: %v", e.Op, e.Err)
}

func (e *IdentityError) Unwrap() error {
	return e.Err
}

// Identity is a server certificate with its private key. It is immutable
// once built and may be shared by any number of sessions.
type Identity struct {
	cert   tls.Certificate
	leaf   *x509.Certificate
	source string
}

// Certificate returns the certificate chain and key for a tls.Config.
func (id *Identity) Certificate() tls.Certificate { return id.cert }

// Leaf returns the parsed leaf certificate.
func (id *Identity) Leaf() *x509.Certificate { return id.leaf }

// Source describes where the identity came from: "generated" or the
// certificate path.
func (id *Identity) Source() string { return id.source }

// Info returns a printable summary of the leaf certificate.
func (id *Identity) Info() *CertificateInfo { return ExtractCertificateInfo(id.leaf) }

// PEM returns the PEM encodings of the leaf certificate and private key.
// RSA keys are encoded as PKCS#1, other keys as PKCS#8.
func (id *Identity) PEM() (certPEM, keyPEM []byte, err error) {
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: id.cert.Certificate[0]})

	switch key := id.cert.PrivateKey.(type) {
	case *rsa.PrivateKey:
		keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	default:
		der, err := x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			return nil, nil, &IdentityError{Op: "write", Err: err}
		}
		keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	}
	return certPEM, keyPEM, nil
}

// WritePEM writes the certificate and key to certPath and keyPath, creating
// parent directories. The key file is only readable by its owner.
func (id *Identity) WritePEM(certPath, keyPath string) error {
	certPEM, keyPEM, err := id.PEM()
	if err != nil {
		return err
	}

	for _, dir := range []string{filepath.Dir(certPath), filepath.Dir(keyPath)} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return &IdentityError{Op: "write", Path: dir, Err: err}
		}
	}
	if err := os.WriteFile(certPath, certPEM, 0644); err != nil { // #nosec G306 - certificates are public
		return &IdentityError{Op: "write", Path: certPath, Err: err}
	}
	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return &IdentityError{Op: "write", Path: keyPath, Err: err}
	}
	return nil
}

// GenerateOptions controls self-signed certificate generation.
type GenerateOptions struct {
	// Hostname becomes the subject common name and the only SAN. An IP
	// literal is stored as an IP SAN.
	Hostname string

	// Organization is the subject organization.
	Organization string

	// ValidityDays defaults to 365.
	ValidityDays int

	// KeySize defaults to 2048.
	KeySize int

	// Now defaults to time.Now.
	Now func() time.Time
}

// GenerateSelfSigned creates a self-signed RSA server certificate.
func GenerateSelfSigned(opts GenerateOptions) (*Identity, error) {
	if opts.Hostname == "" {
		return nil, &IdentityError{Op: "generate", Err: errors.New("hostname is required")}
	}
	if opts.ValidityDays <= 0 {
		opts.ValidityDays = config.DefaultTLSValidityDays
	}
	if opts.KeySize <= 0 {
		opts.KeySize = config.DefaultTLSKeySize
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	key, err := rsa.GenerateKey(rand.Reader, opts.KeySize)
	if err != nil {
		return nil, &IdentityError{Op: "generate", Err: fmt.Errorf("failed to generate private key: %w", err)}
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, &IdentityError{Op: "generate", Err: fmt.Errorf("failed to generate serial number: %w", err)}
	}

	notBefore := now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Country:      []string{"SE"},
			Organization: []string{opts.Organization},
			CommonName:   opts.Hostname,
		},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(time.Duration(opts.ValidityDays) * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	if ip := net.ParseIP(opts.Hostname); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{opts.Hostname}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, &IdentityError{Op: "generate", Err: fmt.Errorf("failed to create certificate: %w", err)}
	}
	return newIdentity([][]byte{der}, key, "generated")
}

// LoadFiles reads a PEM certificate chain and private key from disk and
// checks the leaf is currently valid.
func LoadFiles(certFile, keyFile string) (*Identity, error) {
	if certFile == "" || keyFile == "" {
		return nil, &IdentityError{Op: "load", Err: errors.New("cert_file and key_file are required")}
	}
	if _, err := os.Stat(certFile); err != nil {
		return nil, &IdentityError{Op: "load", Path: certFile, Err: err}
	}
	if _, err := os.Stat(keyFile); err != nil {
		return nil, &IdentityError{Op: "load", Path: keyFile, Err: err}
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, &IdentityError{Op: "load", Path: certFile, Err: err}
	}
	signer, ok := cert.PrivateKey.(crypto.Signer)
	if !ok {
		return nil, &IdentityError{Op: "load", Path: keyFile, Err: errors.New("private key cannot sign")}
	}
	return newIdentity(cert.Certificate, signer, certFile)
}

// LoadPEM builds an identity from in-memory PEM blocks.
func LoadPEM(certPEM, keyPEM []byte) (*Identity, error) {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, &IdentityError{Op: "load", Err: err}
	}
	signer, ok := cert.PrivateKey.(crypto.Signer)
	if !ok {
		return nil, &IdentityError{Op: "load", Err: errors.New("private key cannot sign")}
	}
	return newIdentity(cert.Certificate, signer, "pem")
}

func newIdentity(chain [][]byte, key crypto.Signer, source string) (*Identity, error) {
	leaf, err := x509.ParseCertificate(chain[0])
	if err != nil {
		return nil, &IdentityError{Op: "validate", Err: fmt.Errorf("failed to parse certificate: %w", err)}
	}
	if err := ValidateX509Certificate(leaf); err != nil {
		return nil, &IdentityError{Op: "validate", Err: err}
	}
	return &Identity{
		cert: tls.Certificate{
			Certificate: chain,
			PrivateKey:  key,
			Leaf:        leaf,
		},
		leaf:   leaf,
		source: source,
	}, nil
}

// FromConfig produces the identity described by the tls section. It returns
// ErrNoIdentity when TLS is disabled.
func FromConfig(cfg config.TLSConfig) (*Identity, error) {
	if !cfg.Enabled {
		return nil, ErrNoIdentity
	}
	switch cfg.Mode {
	case "file":
		return LoadFiles(cfg.CertFile, cfg.KeyFile)
	case "generate", "":
		return GenerateSelfSigned(GenerateOptions{
			Hostname:     cfg.Hostname,
			Organization: cfg.Organization,
			ValidityDays: cfg.ValidityDays,
			KeySize:      cfg.KeySize,
		})
	default:
		return nil, &IdentityError{Op: "load", Err: fmt.Errorf("unknown mode %q", cfg.Mode)}
	}
}
