package tls

import (
	"bytes"
	"crypto/x509"
	"fmt"
	"strings"
	"time"
)

// ExpiryWarningDays is the remaining validity below which
// CheckCertificateExpiration returns a warning.
const ExpiryWarningDays = 30

// ValidateX509Certificate checks that cert is inside its validity window.
func ValidateX509Certificate(cert *x509.Certificate) error {
	return validateAt(cert, time.Now())
}

func validateAt(cert *x509.Certificate, now time.Time) error {
	if cert == nil {
		return fmt.Errorf("certificate is nil")
	}
	if now.Before(cert.NotBefore) {
		return fmt.Errorf("certificate is not yet valid (valid from %s)", cert.NotBefore.Format(time.RFC3339))
	}
	if now.After(cert.NotAfter) {
		return fmt.Errorf("certificate expired on %s", cert.NotAfter.Format(time.RFC3339))
	}
	return nil
}

// CheckCertificateExpiration returns the whole days left before cert
// expires at now, and a warning when fewer than ExpiryWarningDays remain.
func CheckCertificateExpiration(cert *x509.Certificate, now time.Time) (daysUntilExpiry int, warning string) {
	daysUntilExpiry = int(cert.NotAfter.Sub(now).Hours() / 24)
	if daysUntilExpiry < ExpiryWarningDays {
		warning = fmt.Sprintf("certificate expires in %d days (on %s)",
			daysUntilExpiry, cert.NotAfter.Format("2006-01-02"))
	}
	return daysUntilExpiry, warning
}

// CertificateInfo is a human-readable summary of a certificate.
type CertificateInfo struct {
	Subject            string
	Issuer             string
	SerialNumber       string
	NotBefore          time.Time
	NotAfter           time.Time
	DNSNames           []string
	IPAddresses        []string
	SelfSigned         bool
	SignatureAlgorithm string
	PublicKeyAlgorithm string
}

// ExtractCertificateInfo extracts information from an x509 certificate.
func ExtractCertificateInfo(cert *x509.Certificate) *CertificateInfo {
	info := &CertificateInfo{
		Subject:            cert.Subject.String(),
		Issuer:             cert.Issuer.String(),
		SerialNumber:       fmt.Sprintf("%x", cert.SerialNumber),
		NotBefore:          cert.NotBefore,
		NotAfter:           cert.NotAfter,
		DNSNames:           cert.DNSNames,
		SelfSigned:         isSelfSigned(cert),
		SignatureAlgorithm: cert.SignatureAlgorithm.String(),
		PublicKeyAlgorithm: cert.PublicKeyAlgorithm.String(),
	}
	for _, ip := range cert.IPAddresses {
		info.IPAddresses = append(info.IPAddresses, ip.String())
	}
	return info
}

func isSelfSigned(cert *x509.Certificate) bool {
	return bytes.Equal(cert.RawIssuer, cert.RawSubject) &&
		cert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature) == nil
}

// String renders the summary one field per line.
func (i *CertificateInfo) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject:     %s\n", i.Subject)
	fmt.Fprintf(&b, "Issuer:      %s\n", i.Issuer)
	fmt.Fprintf(&b, "Serial:      %s\n", i.SerialNumber)
	fmt.Fprintf(&b, "Not before:  %s\n", i.NotBefore.Format(time.RFC3339))
	fmt.Fprintf(&b, "Not after:   %s\n", i.NotAfter.Format(time.RFC3339))
	if len(i.DNSNames) > 0 {
		fmt.Fprintf(&b, "DNS names:   %s\n", strings.Join(i.DNSNames, ", "))
	}
	if len(i.IPAddresses) > 0 {
		fmt.Fprintf(&b, "IPs:         %s\n", strings.Join(i.IPAddresses, ", "))
	}
	fmt.Fprintf(&b, "Self-signed: %t\n", i.SelfSigned)
	fmt.Fprintf(&b, "Signature:   %s\n", i.SignatureAlgorithm)
	fmt.Fprintf(&b, "Public key:  %s\n", i.PublicKeyAlgorithm)
	return b.String()
}
