// Package scanner performs TLS handshakes against live servers and
// extracts structured certificate metadata from the presented leaf.
package scanner

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrorKind classifies a failed scan.
type ErrorKind string

const (
	KindTimeout           ErrorKind = "timeout"
	KindDNSResolution     ErrorKind = "dns_resolution"
	KindConnectionRefused ErrorKind = "connection_refused"
	KindTLSHandshake      ErrorKind = "tls_handshake"
	KindUnexpected        ErrorKind = "unexpected"
)

// ScanError is the typed failure returned by Scan. It always carries the
// target identity for diagnostics and is never raised as a panic.
type ScanError struct {
	Kind   ErrorKind
	Host   string
	Port   int
	Detail string
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %s:%d: %s: %s", e.Host, e.Port, e.Kind, e.Detail)
}

// Target identifies one host to scan.
type Target struct {
	Host        string
	Port        int
	Timeout     time.Duration
	VerifyChain bool
}

// Address returns the host:port dial address.
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// CertInfo is the structured metadata extracted from a presented
// certificate.
type CertInfo struct {
	CommonName         string     `json:"commonName"`
	Issuer             string     `json:"issuer"`
	IssuerFull         string     `json:"issuerFull"`
	SerialNumber       string     `json:"serialNumber"`
	ValidFrom          time.Time  `json:"validFrom"`
	ValidUntil         time.Time  `json:"validUntil"`
	SubjectAltNames    []string   `json:"subjectAltNames"`
	FingerprintSHA256  string     `json:"fingerprintSHA256"`
	SignatureAlgorithm string     `json:"signatureAlgorithm"`
	PublicKeySize      *int       `json:"publicKeySize,omitempty"`
	PublicKeyType      string     `json:"publicKeyType,omitempty"`
	IsSelfSigned       bool       `json:"isSelfSigned"`
	IsCACertificate    bool       `json:"isCACertificate"`
	KeyUsage           string     `json:"keyUsage,omitempty"`
	PEM                string     `json:"pem"`
	ScannedAt          time.Time  `json:"scannedAt"`
}

// Scan connects to the target, performs a TLS handshake and parses the
// peer certificate. When VerifyChain is false the peer certificate is
// accepted without trust validation; that mode exists for internal
// inventories full of self-signed and internal-CA certificates.
func Scan(ctx context.Context, target Target) (CertInfo, error) {
	if target.Timeout <= 0 {
		target.Timeout = 5 * time.Second
	}

	dialer := &net.Dialer{Timeout: target.Timeout}
	tlsConfig := &tls.Config{
		InsecureSkipVerify: !target.VerifyChain,
		ServerName:         target.Host,
	}

	dialCtx, cancel := context.WithTimeout(ctx, target.Timeout)
	defer cancel()

	rawConn, err := dialer.DialContext(dialCtx, "tcp", target.Address())
	if err != nil {
		return CertInfo{}, classifyDialError(target, err)
	}
	defer func() { _ = rawConn.Close() }()

	conn := tls.Client(rawConn, tlsConfig)
	if err := conn.SetDeadline(time.Now().Add(target.Timeout)); err != nil {
		return CertInfo{}, &ScanError{Kind: KindUnexpected, Host: target.Host, Port: target.Port, Detail: err.Error()}
	}
	if err := conn.HandshakeContext(dialCtx); err != nil {
		return CertInfo{}, classifyHandshakeError(target, err)
	}

	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return CertInfo{}, &ScanError{Kind: KindTLSHandshake, Host: target.Host, Port: target.Port, Detail: "no peer certificate presented"}
	}

	info := Parse(state.PeerCertificates[0], target.Host)
	return info, nil
}

// Parse extracts all metadata from an x509 certificate. hostname is used
// as the common-name fallback when the subject carries none.
func Parse(cert *x509.Certificate, hostname string) CertInfo {
	commonName := cert.Subject.CommonName
	if commonName == "" {
		commonName = hostname
	}

	issuer := cert.Issuer.CommonName
	if issuer == "" {
		issuer = cert.Issuer.String()
	}

	// An absent SAN extension yields an empty list, not an error.
	sans := make([]string, 0, len(cert.DNSNames)+len(cert.IPAddresses)+len(cert.EmailAddresses)+len(cert.URIs))
	sans = append(sans, cert.DNSNames...)
	for _, ip := range cert.IPAddresses {
		sans = append(sans, ip.String())
	}
	sans = append(sans, cert.EmailAddresses...)
	for _, uri := range cert.URIs {
		sans = append(sans, uri.String())
	}

	fingerprint := sha256.Sum256(cert.Raw)

	pemData := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})

	info := CertInfo{
		CommonName:         commonName,
		Issuer:             issuer,
		IssuerFull:         cert.Issuer.String(),
		SerialNumber:       strings.ToUpper(cert.SerialNumber.Text(16)),
		ValidFrom:          cert.NotBefore,
		ValidUntil:         cert.NotAfter,
		SubjectAltNames:    sans,
		FingerprintSHA256:  strings.ToUpper(hex.EncodeToString(fingerprint[:])),
		SignatureAlgorithm: cert.SignatureAlgorithm.String(),
		IsSelfSigned:       cert.Issuer.String() == cert.Subject.String(),
		IsCACertificate:    cert.BasicConstraintsValid && cert.IsCA,
		KeyUsage:           keyUsageText(cert),
		PEM:                string(pemData),
		ScannedAt:          time.Now().UTC(),
	}

	if size, keyType, ok := publicKeySize(cert); ok {
		info.PublicKeySize = &size
		info.PublicKeyType = keyType
	}

	return info
}

func publicKeySize(cert *x509.Certificate) (int, string, bool) {
	switch key := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		return key.N.BitLen(), "RSA", true
	case *ecdsa.PublicKey:
		return key.Curve.Params().BitSize, "ECDSA", true
	case ed25519.PublicKey:
		return len(key) * 8, "Ed25519", true
	default:
		return 0, "", false
	}
}

func keyUsageText(cert *x509.Certificate) string {
	var usages []string
	if cert.KeyUsage&x509.KeyUsageDigitalSignature != 0 {
		usages = append(usages, "Digital Signature")
	}
	if cert.KeyUsage&x509.KeyUsageKeyEncipherment != 0 {
		usages = append(usages, "Key Encipherment")
	}
	if cert.KeyUsage&x509.KeyUsageCertSign != 0 {
		usages = append(usages, "Certificate Signing")
	}
	for _, eku := range cert.ExtKeyUsage {
		switch eku {
		case x509.ExtKeyUsageServerAuth:
			usages = append(usages, "Server Authentication")
		case x509.ExtKeyUsageClientAuth:
			usages = append(usages, "Client Authentication")
		}
	}
	return strings.Join(usages, ", ")
}

func classifyDialError(target Target, err error) *ScanError {
	scanErr := &ScanError{Host: target.Host, Port: target.Port, Detail: err.Error()}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		scanErr.Kind = KindDNSResolution
		return scanErr
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		scanErr.Kind = KindTimeout
		return scanErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		scanErr.Kind = KindTimeout
		return scanErr
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		scanErr.Kind = KindConnectionRefused
		return scanErr
	}

	scanErr.Kind = KindUnexpected
	return scanErr
}

func classifyHandshakeError(target Target, err error) *ScanError {
	scanErr := &ScanError{Host: target.Host, Port: target.Port, Detail: err.Error()}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		scanErr.Kind = KindTimeout
		return scanErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		scanErr.Kind = KindTimeout
		return scanErr
	}

	scanErr.Kind = KindTLSHandshake
	return scanErr
}
