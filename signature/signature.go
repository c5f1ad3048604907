// Package signature resolves the correct active certificate for a
// signing or verification request and performs the raw ECDSA
// operations. Every successful signing result carries the metadata a
// relying party needs to verify independently: the certificate in
// minified PEM form, the algorithm name, and the configured root-trust
// thumbprint.
package signature

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/maritimelab/seatrust/cache"
	"github.com/maritimelab/seatrust/directory"
	"github.com/maritimelab/seatrust/keys"
	"github.com/maritimelab/seatrust/lifecycle"
	"github.com/maritimelab/seatrust/storage"
	"github.com/maritimelab/seatrust/truststore"
)

var (
	// ErrNoPrivateKey is returned when the certificate was synchronized
	// read-only from the registry and carries no local private key.
	ErrNoPrivateKey = errors.New("certificate has no private key")

	// ErrCertificateRevoked is returned when signing is attempted with a
	// revoked certificate. Locally revoked keys never sign again.
	ErrCertificateRevoked = errors.New("certificate is revoked")

	// ErrEmptySelector is returned when a selector carries no usable field.
	ErrEmptySelector = errors.New("selector must carry an entity id, MRN, MMSI, or name")
)

// Selector identifies the entity whose active certificate should serve
// a request. Exactly one of EntityID, MRN, MMSI, or Name (with Type,
// and Version for services) is consulted, in that order.
type Selector struct {
	EntityID string
	MRN      string
	MMSI     string
	Name     string
	Type     directory.EntityType
	Version  string
}

func (s Selector) cacheKey() string {
	return strings.Join([]string{s.EntityID, s.MRN, s.MMSI, s.Name, string(s.Type), s.Version}, "|")
}

// Result is a successful signing outcome with its verification metadata.
type Result struct {
	Signature      []byte
	CertificatePEM string // minified, header-safe
	Algorithm      string
	RootThumbprint string
}

// Service signs and verifies payloads with entity certificates.
type Service struct {
	dir       *directory.Directory
	lc        *lifecycle.Service
	trust     *truststore.Store
	rootAlias string
	thumbAlg  string
	algorithm string
	resolved  *cache.TTL[*storage.CertificateRecord]

	mu       sync.Mutex
	enclaves map[string]*memguard.Enclave
}

// Option configures the signature service.
type Option func(*Service)

// WithRootAlias selects the trust anchor whose thumbprint accompanies
// signing results. Defaults to the store's first anchor.
func WithRootAlias(alias string) Option {
	return func(s *Service) { s.rootAlias = alias }
}

// WithThumbprintAlgorithm sets the thumbprint digest (default SHA-256).
func WithThumbprintAlgorithm(alg string) Option {
	return func(s *Service) { s.thumbAlg = alg }
}

// WithDefaultAlgorithm sets the signature algorithm used when a request
// does not name one.
func WithDefaultAlgorithm(alg string) Option {
	return func(s *Service) { s.algorithm = alg }
}

// WithResolutionTTL sets the read-through cache TTL for certificate
// resolution.
func WithResolutionTTL(ttl time.Duration) Option {
	return func(s *Service) { s.resolved = cache.New[*storage.CertificateRecord](ttl) }
}

// New creates a signature service.
func New(dir *directory.Directory, lc *lifecycle.Service, trust *truststore.Store, opts ...Option) *Service {
	s := &Service{
		dir:       dir,
		lc:        lc,
		trust:     trust,
		algorithm: keys.DefaultAlgorithm,
		resolved:  cache.New[*storage.CertificateRecord](cache.DefaultTTL),
		enclaves:  make(map[string]*memguard.Enclave),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve finds the active certificate for the selector. Entity
// resolution failures surface as directory.ErrEntityNotFound, distinct
// from lifecycle.ErrNoActiveCertificate when the entity exists but has
// no usable certificate. Results pass through a short-TTL cache.
func (s *Service) Resolve(ctx context.Context, sel Selector) (*storage.CertificateRecord, error) {
	return s.resolved.GetOrLoad(ctx, sel.cacheKey(), func(ctx context.Context) (*storage.CertificateRecord, error) {
		e, err := s.resolveEntity(ctx, sel)
		if err != nil {
			return nil, err
		}
		return s.lc.FindActive(ctx, e.ID)
	})
}

func (s *Service) resolveEntity(ctx context.Context, sel Selector) (*directory.Entity, error) {
	switch {
	case sel.EntityID != "":
		return s.dir.Get(ctx, sel.EntityID)
	case sel.MRN != "":
		return s.dir.FindByMRN(ctx, sel.MRN, sel.Version)
	case sel.MMSI != "":
		return s.dir.FindByMMSI(ctx, sel.MMSI)
	case sel.Name != "":
		return s.dir.FindByName(ctx, sel.Name, sel.Type, sel.Version)
	default:
		return nil, ErrEmptySelector
	}
}

// privateKey loads the certificate's private key, holding the PEM in a
// memguard enclave between uses so key material is encrypted at rest in
// memory.
func (s *Service) privateKey(rec *storage.CertificateRecord) (*ecdsa.PrivateKey, error) {
	s.mu.Lock()
	enclave, ok := s.enclaves[rec.ID]
	if !ok {
		enclave = memguard.NewEnclave([]byte(rec.PrivateKeyPEM))
		s.enclaves[rec.ID] = enclave
	}
	s.mu.Unlock()

	buf, err := enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("opening key enclave: %w", err)
	}
	defer buf.Destroy()
	return keys.DecodePrivateKeyPEM(string(buf.Bytes()))
}

// Sign signs payload with the named certificate's private key. The
// certificate must be non-revoked and locally generated (registry-synced
// records have no private key and fail with ErrNoPrivateKey).
func (s *Service) Sign(ctx context.Context, certID, algorithm string, payload []byte) (*Result, error) {
	if algorithm == "" {
		algorithm = s.algorithm
	}
	_, hash, err := keys.SignatureAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}
	rec, err := s.lc.Get(ctx, certID)
	if err != nil {
		return nil, err
	}
	if rec.Revoked {
		return nil, fmt.Errorf("%s: %w", certID, ErrCertificateRevoked)
	}
	if rec.PrivateKeyPEM == "" {
		return nil, fmt.Errorf("%s: %w", certID, ErrNoPrivateKey)
	}
	priv, err := s.privateKey(rec)
	if err != nil {
		return nil, err
	}

	h := hash.New()
	h.Write(payload)
	sig, err := ecdsa.SignASN1(nil, priv, h.Sum(nil))
	if err != nil {
		return nil, fmt.Errorf("signing payload: %w", err)
	}

	thumb, err := s.trust.Thumbprint(s.rootAlias, s.thumbAlg)
	if err != nil {
		return nil, err
	}
	return &Result{
		Signature:      sig,
		CertificatePEM: MinifyPEM(rec.CertificatePEM),
		Algorithm:      algorithm,
		RootThumbprint: thumb,
	}, nil
}

// Verify checks signature over content with the selector's active
// certificate. A cryptographic mismatch returns false with no error;
// callers cannot distinguish a wrong signature from tampered content,
// which keeps the response shape constant. Resolution failures are
// returned as errors.
func (s *Service) Verify(ctx context.Context, sel Selector, algorithm string, content, sig []byte) (bool, error) {
	if algorithm == "" {
		algorithm = s.algorithm
	}
	_, hash, err := keys.SignatureAlgorithm(algorithm)
	if err != nil {
		return false, err
	}
	rec, err := s.Resolve(ctx, sel)
	if err != nil {
		return false, err
	}
	pub, err := s.publicKey(rec)
	if err != nil {
		return false, err
	}
	h := hash.New()
	h.Write(content)
	return ecdsa.VerifyASN1(pub, h.Sum(nil), sig), nil
}

func (s *Service) publicKey(rec *storage.CertificateRecord) (*ecdsa.PublicKey, error) {
	if rec.PublicKeyPEM != "" {
		return keys.DecodePublicKeyPEM(rec.PublicKeyPEM)
	}
	cert, err := keys.DecodeCertificatePEM(rec.CertificatePEM)
	if err != nil {
		return nil, err
	}
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an ECDSA public key", keys.ErrInvalidPEM)
	}
	return pub, nil
}

// RootThumbprint returns the configured trust-root thumbprint published
// alongside signatures.
func (s *Service) RootThumbprint() (string, error) {
	return s.trust.Thumbprint(s.rootAlias, s.thumbAlg)
}

// ValidateChain verifies the certificate against the trust store's
// anchors. Used by callers that want full-chain validation in addition
// to the out-of-band thumbprint pin.
func (s *Service) ValidateChain(rec *storage.CertificateRecord) error {
	cert, err := keys.DecodeCertificatePEM(rec.CertificatePEM)
	if err != nil {
		return err
	}
	_, err = cert.Verify(x509.VerifyOptions{
		Roots:     s.trust.Pool(),
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	return err
}

// MinifyPEM folds a PEM block onto one line (newlines become single
// spaces) so it can travel in an HTTP header; relying parties restore
// the newlines before parsing.
func MinifyPEM(pem string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(pem)), " ")
}
