// Package keys implements the local cryptographic engine: elliptic-curve
// key pair generation, PKCS#10 certificate signing requests, self-signed
// certificates for local issuance paths, and PEM round-tripping. All
// operations are pure transforms; randomness comes from crypto/rand.
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"
)

var (
	// ErrUnknownCurve is returned when the requested elliptic curve is not supported.
	ErrUnknownCurve = errors.New("unknown elliptic curve")

	// ErrInvalidPEM is returned when PEM data cannot be decoded or parsed,
	// or when the decoded key is not of the expected type.
	ErrInvalidPEM = errors.New("invalid PEM data")

	// ErrUnknownAlgorithm is returned when a signature algorithm name is not recognised.
	ErrUnknownAlgorithm = errors.New("unknown signature algorithm")
)

// DefaultCurve is the curve used when no curve name is supplied.
const DefaultCurve = "secp256r1"

// DefaultAlgorithm is the signature algorithm used when none is supplied.
// It matches the EC variant of the default cipher suite.
const DefaultAlgorithm = "SHA256withECDSA"

// KeyPair holds a freshly generated ECDSA key pair. Once its private key
// PEM is embedded in a certificate record the pair is immutable; nothing
// else retains it.
type KeyPair struct {
	Private *ecdsa.PrivateKey
	Public  *ecdsa.PublicKey
	Curve   string
}

func curveByName(name string) (elliptic.Curve, error) {
	switch name {
	case "", "secp256r1", "P-256":
		return elliptic.P256(), nil
	case "secp384r1", "P-384":
		return elliptic.P384(), nil
	case "secp521r1", "P-521":
		return elliptic.P521(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCurve, name)
	}
}

// GenerateKeyPair creates a new ECDSA key pair on the named curve.
// An empty curveName selects DefaultCurve.
func GenerateKeyPair(curveName string) (*KeyPair, error) {
	curve, err := curveByName(curveName)
	if err != nil {
		return nil, err
	}
	priv, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating ECDSA key: %w", err)
	}
	name := curveName
	if name == "" {
		name = DefaultCurve
	}
	return &KeyPair{Private: priv, Public: &priv.PublicKey, Curve: name}, nil
}

// SignatureAlgorithm maps a wire-visible algorithm name (the Java-style
// names the identity registry vocabulary uses) to the x509 signature
// algorithm and the digest used for raw sign/verify operations.
func SignatureAlgorithm(name string) (x509.SignatureAlgorithm, crypto.Hash, error) {
	switch name {
	case "", DefaultAlgorithm:
		return x509.ECDSAWithSHA256, crypto.SHA256, nil
	case "SHA384withECDSA":
		return x509.ECDSAWithSHA384, crypto.SHA384, nil
	case "SHA512withECDSA":
		return x509.ECDSAWithSHA512, crypto.SHA512, nil
	default:
		return 0, 0, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, name)
	}
}

// GenerateCSR builds a PKCS#10 certificate signing request over the given
// subject, self-signed with the key pair's private key. The CSR proves
// possession of the private key without transmitting it. algorithm may be
// empty to use DefaultAlgorithm. The result is PEM-encoded.
func GenerateCSR(kp *KeyPair, subject pkix.Name, algorithm string) (string, error) {
	sigAlg, _, err := SignatureAlgorithm(algorithm)
	if err != nil {
		return "", err
	}
	template := &x509.CertificateRequest{
		Subject:            subject,
		SignatureAlgorithm: sigAlg,
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, template, kp.Private)
	if err != nil {
		return "", fmt.Errorf("creating CSR: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der})), nil
}

// GenerateSelfSignedCertificate creates a certificate signed by its own
// key pair. This serves local and test issuance paths only; registry
// issuance always goes through a CSR.
func GenerateSelfSignedCertificate(kp *KeyPair, subject pkix.Name, notBefore, notAfter time.Time, algorithm string) (string, error) {
	sigAlg, _, err := SignatureAlgorithm(algorithm)
	if err != nil {
		return "", err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return "", fmt.Errorf("generating serial: %w", err)
	}
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               subject,
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		SignatureAlgorithm:    sigAlg,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, kp.Public, kp.Private)
	if err != nil {
		return "", fmt.Errorf("creating self-signed certificate: %w", err)
	}
	return EncodeCertificatePEM(der), nil
}

// ---------------------------------------------------------------------------
// PEM encode/decode
// ---------------------------------------------------------------------------

// EncodeCertificatePEM wraps DER certificate bytes in a PEM block.
func EncodeCertificatePEM(der []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

// EncodePublicKeyPEM encodes an ECDSA public key as PKIX "PUBLIC KEY" PEM.
func EncodePublicKeyPEM(pub *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshalling public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// EncodePrivateKeyPEM encodes an ECDSA private key as SEC1 "EC PRIVATE KEY" PEM.
func EncodePrivateKeyPEM(priv *ecdsa.PrivateKey) (string, error) {
	der, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return "", fmt.Errorf("marshalling private key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})), nil
}

// DecodeCertificatePEM parses a PEM-encoded certificate.
func DecodeCertificatePEM(certPEM string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, ErrInvalidPEM
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
	}
	return cert, nil
}

// DecodeCertificateChainPEM parses a concatenated PEM chain and returns
// the certificates in order. At least one certificate must be present.
func DecodeCertificateChainPEM(chainPEM string) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := []byte(chainPEM)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, ErrInvalidPEM
	}
	return certs, nil
}

// DecodePublicKeyPEM parses a PKIX public key PEM block and requires an
// ECDSA key.
func DecodePublicKeyPEM(pubPEM string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pubPEM))
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, ErrInvalidPEM
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
	}
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an ECDSA public key", ErrInvalidPEM)
	}
	return pub, nil
}

// DecodePrivateKeyPEM parses an EC private key PEM block. Both SEC1
// "EC PRIVATE KEY" and PKCS8 "PRIVATE KEY" wrappers are accepted.
func DecodePrivateKeyPEM(privPEM string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(privPEM))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrInvalidPEM)
	}
	switch block.Type {
	case "EC PRIVATE KEY":
		priv, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
		}
		return priv, nil
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
		}
		priv, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an ECDSA key", ErrInvalidPEM)
		}
		return priv, nil
	default:
		return nil, fmt.Errorf("%w: unexpected PEM type %q", ErrInvalidPEM, block.Type)
	}
}

// ParseCSRPEM parses a PEM-encoded PKCS#10 request and verifies its
// embedded proof-of-possession signature.
func ParseCSRPEM(csrPEM string) (*x509.CertificateRequest, error) {
	block, _ := pem.Decode([]byte(csrPEM))
	if block == nil || block.Type != "CERTIFICATE REQUEST" {
		return nil, ErrInvalidPEM
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("CSR signature invalid: %w", err)
	}
	return csr, nil
}
