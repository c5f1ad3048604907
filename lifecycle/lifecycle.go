// Package lifecycle implements the certificate state machine for an
// entity's certificate set: generation through the registry's CSR
// protocol, revocation, deletion, active-certificate selection, and
// best-effort synchronization against the registry's view.
//
// States per certificate: ISSUED -> REVOKED -> DELETED. Revocation is
// one-way and deletion is only reachable from REVOKED. The local store
// is authoritative for signing eligibility; the registry is an
// eventually-consistent secondary view.
package lifecycle

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/maritimelab/seatrust/directory"
	"github.com/maritimelab/seatrust/keys"
	"github.com/maritimelab/seatrust/registry"
	"github.com/maritimelab/seatrust/storage"
)

var (
	// ErrCertNotFound is returned when the referenced certificate does not exist.
	ErrCertNotFound = errors.New("certificate not found")

	// ErrNotRevoked protects deletion: only revoked certificates may be deleted.
	ErrNotRevoked = errors.New("certificate is not revoked")

	// ErrNoActiveCertificate is returned when no non-revoked, currently
	// valid certificate exists for the entity.
	ErrNoActiveCertificate = errors.New("no active certificate for entity")
)

// RegistryClient is the slice of the registry API the lifecycle needs.
// *registry.Client satisfies it; tests substitute stubs.
type RegistryClient interface {
	RegisterEntity(ctx context.Context, e *directory.Entity) (*registry.Record, error)
	IssueCertificate(ctx context.Context, e *directory.Entity, csrPEM string) (*registry.IssuedCertificate, error)
	RevokeCertificate(ctx context.Context, e *directory.Entity, registryCertID string) error
	ListCertificates(ctx context.Context, e *directory.Entity) ([]registry.CertificateSummary, error)
}

// Service drives certificate lifecycles for directory entities.
type Service struct {
	repo      storage.Repository
	dir       *directory.Directory
	reg       RegistryClient
	curve     string
	algorithm string
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures the lifecycle service.
type Option func(*Service)

// WithLogger sets the structured logger. If not set, a default JSON
// logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithCurve overrides the key generation curve.
func WithCurve(curve string) Option {
	return func(s *Service) { s.curve = curve }
}

// WithAlgorithm overrides the CSR signature algorithm.
func WithAlgorithm(alg string) Option {
	return func(s *Service) { s.algorithm = alg }
}

// WithClock overrides the time source used for validity-window checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a lifecycle service.
func New(repo storage.Repository, dir *directory.Directory, reg RegistryClient, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		dir:       dir,
		reg:       reg,
		curve:     keys.DefaultCurve,
		algorithm: keys.DefaultAlgorithm,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return s
}

// Generate issues a new certificate for the entity: a fresh key pair and
// CSR locally, the CSR exchanged for a signed certificate upstream, and
// the result persisted with the locally generated private key. A
// registry failure aborts before any local write. Prior active
// certificates are left untouched; revocation is an explicit separate
// action so certificates can overlap during rollover.
func (s *Service) Generate(ctx context.Context, entityID string) (*storage.CertificateRecord, error) {
	e, err := s.dir.Get(ctx, entityID)
	if err != nil {
		return nil, err
	}

	if !e.Registered {
		if _, err := s.reg.RegisterEntity(ctx, e); err != nil {
			return nil, err
		}
		if err := s.dir.MarkRegistered(ctx, entityID); err != nil {
			return nil, err
		}
	}

	kp, err := keys.GenerateKeyPair(s.curve)
	if err != nil {
		return nil, err
	}
	csrPEM, err := keys.GenerateCSR(kp, s.dir.SubjectDN(e), s.algorithm)
	if err != nil {
		return nil, err
	}

	issued, err := s.reg.IssueCertificate(ctx, e, csrPEM)
	if err != nil {
		return nil, err
	}

	pubPEM, err := keys.EncodePublicKeyPEM(kp.Public)
	if err != nil {
		return nil, err
	}
	privPEM, err := keys.EncodePrivateKeyPEM(kp.Private)
	if err != nil {
		return nil, err
	}

	rec := &storage.CertificateRecord{
		ID:             uuid.NewString(),
		EntityID:       e.ID,
		CertificatePEM: issued.PEM,
		PublicKeyPEM:   pubPEM,
		PrivateKeyPEM:  privPEM,
		NotBefore:      issued.NotBefore,
		NotAfter:       issued.NotAfter,
		RegistryCertID: issued.RegistryCertID,
		Revoked:        false,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.repo.PutCertificate(ctx, rec); err != nil {
		return nil, fmt.Errorf("storing certificate: %w", err)
	}
	s.logger.Info("certificate issued",
		"entity", e.MRN, "certificate", rec.ID, "registry_cert", rec.RegistryCertID,
		"not_after", rec.NotAfter)
	return rec, nil
}

// Revoke marks the certificate revoked. The local revocation always
// commits first: a locally revoked certificate must never sign again
// regardless of registry reachability. The registry-side revocation is
// best-effort; a connectivity failure is logged and left to a future
// synchronization.
func (s *Service) Revoke(ctx context.Context, certID string) (*storage.CertificateRecord, error) {
	rec, err := s.get(ctx, certID)
	if err != nil {
		return nil, err
	}
	if !rec.Revoked {
		rec.Revoked = true
		if err := s.repo.PutCertificate(ctx, rec); err != nil {
			return nil, fmt.Errorf("storing revocation: %w", err)
		}
	}

	if rec.RegistryCertID != "" {
		e, err := s.dir.Get(ctx, rec.EntityID)
		if err == nil {
			err = s.reg.RevokeCertificate(ctx, e, rec.RegistryCertID)
		}
		if err != nil {
			s.logger.Warn("registry revocation deferred",
				"certificate", certID, "error", err)
		}
	}
	return rec, nil
}

// Delete removes the local certificate record. It requires the
// certificate to be revoked; the registry keeps its historical copy for
// audit.
func (s *Service) Delete(ctx context.Context, certID string) error {
	rec, err := s.get(ctx, certID)
	if err != nil {
		return err
	}
	if !rec.Revoked {
		return fmt.Errorf("%s: %w", certID, ErrNotRevoked)
	}
	if err := s.repo.DeleteCertificate(ctx, certID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", certID, ErrCertNotFound)
		}
		return err
	}
	return nil
}

// Get returns the certificate with the given id.
func (s *Service) Get(ctx context.Context, certID string) (*storage.CertificateRecord, error) {
	return s.get(ctx, certID)
}

func (s *Service) get(ctx context.Context, certID string) (*storage.CertificateRecord, error) {
	rec, err := s.repo.GetCertificate(ctx, certID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", certID, ErrCertNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns all certificate records for the entity.
func (s *Service) List(ctx context.Context, entityID string) ([]*storage.CertificateRecord, error) {
	return s.repo.ListCertificatesByEntity(ctx, entityID)
}

// FindActive returns the entity's active certificate: the one with the
// latest NotBefore among non-revoked certificates whose validity window
// contains the current time. Concurrent issuance may leave several
// qualifying certificates; the latest-issued rule makes that safe.
func (s *Service) FindActive(ctx context.Context, entityID string) (*storage.CertificateRecord, error) {
	certs, err := s.repo.ListCertificatesByEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var active *storage.CertificateRecord
	for _, rec := range certs {
		if rec.Revoked || now.Before(rec.NotBefore) || now.After(rec.NotAfter) {
			continue
		}
		if active == nil || rec.NotBefore.After(active.NotBefore) {
			active = rec
		}
	}
	if active == nil {
		return nil, fmt.Errorf("%s: %w", entityID, ErrNoActiveCertificate)
	}
	return active, nil
}

// Synchronize reconciles the local certificate set with the registry's
// list for the entity. Registry-only certificates are stored without a
// private key, making them usable for verification but never signing.
// Registry-side revocations propagate locally; local records the
// registry does not list are left untouched. Reconciliation is
// best-effort: callers should log failures rather than block on them.
func (s *Service) Synchronize(ctx context.Context, entityID string) error {
	e, err := s.dir.Get(ctx, entityID)
	if err != nil {
		return err
	}
	summaries, err := s.reg.ListCertificates(ctx, e)
	if err != nil {
		return err
	}
	local, err := s.repo.ListCertificatesByEntity(ctx, entityID)
	if err != nil {
		return err
	}
	byRegistryID := make(map[string]*storage.CertificateRecord, len(local))
	for _, rec := range local {
		if rec.RegistryCertID != "" {
			byRegistryID[rec.RegistryCertID] = rec
		}
	}

	for _, sum := range summaries {
		if rec, ok := byRegistryID[sum.ID]; ok {
			// Revocation propagates one way only.
			if sum.Revoked && !rec.Revoked {
				rec.Revoked = true
				if err := s.repo.PutCertificate(ctx, rec); err != nil {
					return fmt.Errorf("storing synced revocation: %w", err)
				}
				s.logger.Info("revocation synced from registry",
					"entity", e.MRN, "certificate", rec.ID)
			}
			continue
		}

		cert, err := keys.DecodeCertificatePEM(sum.Certificate)
		if err != nil {
			s.logger.Warn("skipping unparsable registry certificate",
				"entity", e.MRN, "registry_cert", sum.ID, "error", err)
			continue
		}
		pubPEM := ""
		if pub, ok := cert.PublicKey.(*ecdsa.PublicKey); ok {
			if pem, err := keys.EncodePublicKeyPEM(pub); err == nil {
				pubPEM = pem
			}
		}
		rec := &storage.CertificateRecord{
			ID:             uuid.NewString(),
			EntityID:       e.ID,
			CertificatePEM: sum.Certificate,
			PublicKeyPEM:   pubPEM,
			NotBefore:      cert.NotBefore,
			NotAfter:       cert.NotAfter,
			RegistryCertID: sum.ID,
			Revoked:        sum.Revoked,
			CreatedAt:      s.now().UTC(),
		}
		if err := s.repo.PutCertificate(ctx, rec); err != nil {
			return fmt.Errorf("storing synced certificate: %w", err)
		}
		s.logger.Info("certificate synced from registry",
			"entity", e.MRN, "certificate", rec.ID, "registry_cert", sum.ID)
	}
	return nil
}
