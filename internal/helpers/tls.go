package helpers

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"log"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// GetOrCreateCertificates gets existing certificates from directory or creates new ones
func GetOrCreateCertificates(certDir string) (string, string, error) {
	certPath := filepath.Join(certDir, "cert.pem")
	keyPath := filepath.Join(certDir, "key.pem")

	if _, err := os.Stat(certPath); err == nil {
		if _, err := os.Stat(keyPath); err == nil {
			log.Printf("TLS: Found existing certificates in %s", certDir)
			return certPath, keyPath, nil
		}
	}

	log.Printf("TLS: Generating new self-signed certificates in %s", certDir)

	if err := os.MkdirAll(certDir, 0755); err != nil {
		return "", "", fmt.Errorf("failed to create certificate directory: %v", err)
	}

	certPEM, keyPEM, err := generateSelfSignedCertPEM()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate certificates: %v", err)
	}

	if err := os.WriteFile(certPath, certPEM, 0644); err != nil {
		return "", "", fmt.Errorf("failed to write certificate file: %v", err)
	}

	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return "", "", fmt.Errorf("failed to write key file: %v", err)
	}

	log.Printf("TLS: Generated new certificates: %s, %s", certPath, keyPath)
	return certPath, keyPath, nil
}

func generateSelfSignedCertPEM() ([]byte, []byte, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate private key: %v", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization:       []string{"Quark WebDAV Gateway"},
			OrganizationalUnit: []string{"Self-Signed Certificate"},
			Country:            []string{"US"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	template.DNSNames = []string{
		"localhost",
		"quark-webdav",
		"*.quark-webdav",
	}
	template.IPAddresses = []net.IP{
		net.IPv4(127, 0, 0, 1),
		net.IPv6loopback,
		net.IPv4zero,
		net.IPv6zero,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate: %v", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: certDER,
	})

	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	log.Printf("TLS: Self-signed certificate generated successfully")
	log.Printf("TLS: Certificate valid for: localhost, quark-webdav, 127.0.0.1, ::1")
	log.Printf("TLS: Certificate expires: %s", template.NotAfter.Format(time.RFC3339))

	return certPEM, keyPEM, nil
}

// GetCertificateFingerprint calculates and returns the SHA256 fingerprint of a
// certificate file as colon-separated hex pairs.
func GetCertificateFingerprint(certPath string) (string, error) {
	certData, err := os.ReadFile(certPath)
	if err != nil {
		return "", fmt.Errorf("failed to read certificate file: %v", err)
	}

	block, _ := pem.Decode(certData)
	if block == nil || block.Type != "CERTIFICATE" {
		return "", fmt.Errorf("invalid certificate format")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("failed to parse certificate: %v", err)
	}

	fingerprint := sha256.Sum256(cert.Raw)

	hexString := hex.EncodeToString(fingerprint[:])
	var parts []string
	for i := 0; i < len(hexString); i += 2 {
		parts = append(parts, strings.ToUpper(hexString[i:i+2]))
	}

	return strings.Join(parts, ":"), nil
}
