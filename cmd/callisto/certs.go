package main

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"mercator-hq/callisto/pkg/config"
	sectls "mercator-hq/callisto/pkg/security/tls"
)

var certsCmd = &cobra.Command{
	Use:   "certs",
	Short: "Manage TLS identities",
	Long: `Manage the TLS identities the pipeline presents.

Subcommands:
  generate - Write a self-signed certificate and key for tls.mode: file
  info     - Display certificate details and remaining validity

Examples:
  callisto certs generate --host app.local --output certs/
  callisto certs info certs/cert.pem`,
}

var generateFlags struct {
	host     string
	org      string
	validity int
	keySize  int
	output   string
}

var certsGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a self-signed certificate",
	Long: `Generate a self-signed RSA certificate and private key.

The files are written as cert.pem and key.pem under --output, the key with
0600 permissions. Point tls.cert_file and tls.key_file at them and set
tls.mode: file. Self-signed identities are meant for testing.`,
	RunE: generateCertificate,
}

var infoFlags struct {
	format string
}

var certsInfoCmd = &cobra.Command{
	Use:   "info [cert-file]",
	Short: "Display certificate details",
	Long: `Display the subject, issuer, validity window, SANs and algorithms of a
PEM certificate, and warn when it expires within 30 days.`,
	Args: cobra.ExactArgs(1),
	RunE: displayCertInfo,
}

func init() {
	rootCmd.AddCommand(certsCmd)
	certsCmd.AddCommand(certsGenerateCmd, certsInfoCmd)

	certsGenerateCmd.Flags().StringVar(&generateFlags.host, "host", "", "subject hostname or IP (default: tls.hostname from config)")
	certsGenerateCmd.Flags().StringVar(&generateFlags.org, "org", "", "organization name (default: tls.organization from config)")
	certsGenerateCmd.Flags().IntVar(&generateFlags.validity, "validity", 0, "validity in days (default: tls.validity_days from config)")
	certsGenerateCmd.Flags().IntVar(&generateFlags.keySize, "key-size", 0, "RSA key size: 2048, 3072 or 4096 (default: tls.key_size from config)")
	certsGenerateCmd.Flags().StringVarP(&generateFlags.output, "output", "o", "certs", "output directory")

	certsInfoCmd.Flags().StringVar(&infoFlags.format, "format", "text", "output format: text, json")
}

func generateCertificate(cmd *cobra.Command, args []string) error {
	if err := initConfig(cmd); err != nil {
		return err
	}
	cfg := config.MustGetConfig()

	opts := sectls.GenerateOptions{
		Hostname:     cfg.TLS.Hostname,
		Organization: cfg.TLS.Organization,
		ValidityDays: cfg.TLS.ValidityDays,
		KeySize:      cfg.TLS.KeySize,
	}
	if generateFlags.host != "" {
		opts.Hostname = generateFlags.host
	}
	if generateFlags.org != "" {
		opts.Organization = generateFlags.org
	}
	if generateFlags.validity != 0 {
		opts.ValidityDays = generateFlags.validity
	}
	if generateFlags.keySize != 0 {
		opts.KeySize = generateFlags.keySize
	}
	switch opts.KeySize {
	case 0, 2048, 3072, 4096:
	default:
		return fmt.Errorf("invalid key size: %d (must be 2048, 3072, or 4096)", opts.KeySize)
	}

	id, err := sectls.GenerateSelfSigned(opts)
	if err != nil {
		return err
	}

	certPath := filepath.Join(generateFlags.output, "cert.pem")
	keyPath := filepath.Join(generateFlags.output, "key.pem")
	if err := id.WritePEM(certPath, keyPath); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Certificate: %s\n", certPath)
	fmt.Fprintf(out, "Private key: %s\n", keyPath)
	fmt.Fprint(out, id.Info().String())
	return nil
}

// certReport is the certs info output.
type certReport struct {
	*sectls.CertificateInfo
	DaysUntilExpiry int
	Warning         string `json:",omitempty"`
}

func displayCertInfo(cmd *cobra.Command, args []string) error {
	cert, err := readCertificate(args[0])
	if err != nil {
		return err
	}

	report := certReport{CertificateInfo: sectls.ExtractCertificateInfo(cert)}
	report.DaysUntilExpiry, report.Warning = sectls.CheckCertificateExpiration(cert, now())

	out := cmd.OutOrStdout()
	if infoFlags.format == "json" {
		f, err := formatter("json")
		if err != nil {
			return err
		}
		return f.FormatTo(out, report)
	}

	fmt.Fprint(out, report.CertificateInfo.String())
	fmt.Fprintf(out, "Expires in:  %d days\n", report.DaysUntilExpiry)
	if report.Warning != "" {
		fmt.Fprintf(out, "Warning:     %s\n", report.Warning)
	}
	if err := sectls.ValidateX509Certificate(cert); err != nil {
		fmt.Fprintf(out, "Invalid:     %v\n", err)
	}
	return nil
}

// readCertificate parses the first CERTIFICATE block of a PEM file.
func readCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, errors.New("no CERTIFICATE block in file")
		}
		if block.Type == "CERTIFICATE" {
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse certificate: %w", err)
			}
			return cert, nil
		}
	}
}
