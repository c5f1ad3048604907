// Package truststore holds the root-of-trust certificates used to
// validate issued certificates and to publish thumbprints that relying
// parties pin out-of-band. A Store is loaded once at startup from a
// PKCS#12 keystore or a PEM bundle and is read-only for the lifetime of
// the process; rotation requires a restart.
package truststore

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pkcs12"
	"golang.org/x/text/unicode/norm"

	"github.com/maritimelab/seatrust/keys"
)

var (
	// ErrAliasNotFound is returned when no trust anchor carries the given alias.
	ErrAliasNotFound = errors.New("trust anchor alias not found")

	// ErrUnknownDigest is returned for thumbprint algorithms other than SHA-1/SHA-256.
	ErrUnknownDigest = errors.New("unknown thumbprint digest")

	// ErrEmptyStore is returned when loading yields no certificates.
	ErrEmptyStore = errors.New("trust store contains no certificates")
)

// Store is an immutable set of trust anchors keyed by alias. All read
// operations are safe for concurrent callers.
type Store struct {
	anchors map[string]*x509.Certificate
	order   []string
}

// aliasFor derives a stable alias from a certificate's common name:
// NFKD-normalized, lowercased, spaces collapsed to '-'.
func aliasFor(cert *x509.Certificate) string {
	cn := norm.NFKD.String(cert.Subject.CommonName)
	cn = strings.ToLower(strings.TrimSpace(cn))
	cn = strings.Join(strings.Fields(cn), "-")
	if cn == "" {
		cn = "anchor"
	}
	return cn
}

func newStore(certs []*x509.Certificate) (*Store, error) {
	if len(certs) == 0 {
		return nil, ErrEmptyStore
	}
	s := &Store{anchors: make(map[string]*x509.Certificate, len(certs))}
	for _, cert := range certs {
		alias := aliasFor(cert)
		// Disambiguate duplicate common names.
		base, n := alias, 1
		for {
			if _, taken := s.anchors[alias]; !taken {
				break
			}
			n++
			alias = fmt.Sprintf("%s-%d", base, n)
		}
		s.anchors[alias] = cert
		s.order = append(s.order, alias)
	}
	return s, nil
}

// LoadPEMBundle reads a concatenated PEM certificate bundle from path.
func LoadPEMBundle(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trust bundle: %w", err)
	}
	certs, err := keys.DecodeCertificateChainPEM(string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing trust bundle: %w", err)
	}
	return newStore(certs)
}

// LoadPKCS12 reads a PKCS#12 keystore from path and collects every
// certificate it contains as a trust anchor. Private keys in the
// keystore are ignored; the trust store never signs.
func LoadPKCS12(path, password string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trust store: %w", err)
	}
	blocks, err := pkcs12.ToPEM(data, password)
	if err != nil {
		return nil, fmt.Errorf("decoding PKCS#12 trust store: %w", err)
	}
	var certs []*x509.Certificate
	for _, block := range blocks {
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing trust store certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	return newStore(certs)
}

// NewStore builds a Store directly from parsed certificates. Used by
// tests and local issuance paths.
func NewStore(certs ...*x509.Certificate) (*Store, error) {
	return newStore(certs)
}

// Aliases returns the anchor aliases in load order.
func (s *Store) Aliases() []string {
	return append([]string(nil), s.order...)
}

// DefaultAlias returns the alias of the first loaded anchor.
func (s *Store) DefaultAlias() string {
	return s.order[0]
}

// RootCertificate returns the trust anchor with the given alias.
// An empty alias selects the default anchor.
func (s *Store) RootCertificate(alias string) (*x509.Certificate, error) {
	if alias == "" {
		alias = s.DefaultAlias()
	}
	cert, ok := s.anchors[alias]
	if !ok {
		return nil, fmt.Errorf("%s: %w", alias, ErrAliasNotFound)
	}
	return cert, nil
}

// Thumbprint computes a hex digest over the DER encoding of the named
// root certificate. Supported algorithms are SHA-1 (legacy pinning) and
// SHA-256.
func (s *Store) Thumbprint(alias, algorithm string) (string, error) {
	cert, err := s.RootCertificate(alias)
	if err != nil {
		return "", err
	}
	switch strings.ToUpper(strings.ReplaceAll(algorithm, "-", "")) {
	case "", "SHA256":
		sum := sha256.Sum256(cert.Raw)
		return hex.EncodeToString(sum[:]), nil
	case "SHA1":
		sum := sha1.Sum(cert.Raw)
		return hex.EncodeToString(sum[:]), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownDigest, algorithm)
	}
}

// Pool returns a certificate pool holding every anchor, for chain
// verification against issued certificates.
func (s *Store) Pool() *x509.CertPool {
	pool := x509.NewCertPool()
	for _, cert := range s.anchors {
		pool.AddCert(cert)
	}
	return pool
}
