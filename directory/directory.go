// Package directory maps human-meaningful identifiers (name, version,
// MMSI) to canonical registry identifiers (MRN) and owns the entity
// uniqueness invariants.
package directory

import (
	"context"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/maritimelab/seatrust/storage"
)

var (
	// ErrEntityNotFound is returned when no entity matches the lookup.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrDuplicateMRN is returned when an entity with the same MRN (and,
	// for services, version) already exists.
	ErrDuplicateMRN = errors.New("entity with this MRN already exists")

	// ErrDuplicateMMSI is returned when another entity already carries the MMSI.
	ErrDuplicateMMSI = errors.New("MMSI already in use")

	// ErrInvalidMMSI is returned when an MMSI is not purely numeric.
	ErrInvalidMMSI = errors.New("MMSI must be numeric")

	// ErrVersionRequired is returned when a service entity is created without a version.
	ErrVersionRequired = errors.New("version is required for service entities")

	// ErrEntityHasCertificates protects entity deletion while certificates
	// still reference the entity.
	ErrEntityHasCertificates = errors.New("entity still has certificates")
)

// Directory resolves and maintains entity records on top of a storage
// repository. The organisation prefix seeds MRN derivation for every
// entity the directory creates.
type Directory struct {
	repo      storage.Repository
	orgPrefix string
}

// New creates a Directory for the given organisation MRN prefix.
func New(repo storage.Repository, orgPrefix string) *Directory {
	return &Directory{repo: repo, orgPrefix: orgPrefix}
}

// OrgPrefix returns the organisation MRN prefix the directory derives under.
func (d *Directory) OrgPrefix() string {
	return d.orgPrefix
}

// NewEntity holds the caller-supplied fields for entity creation.
type NewEntity struct {
	Name    string
	Type    EntityType
	MMSI    string
	Version string
}

func validMMSI(mmsi string) bool {
	if mmsi == "" {
		return true
	}
	for _, r := range mmsi {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func fromRecord(rec *storage.EntityRecord) *Entity {
	return &Entity{
		ID:         rec.ID,
		Name:       rec.Name,
		MRN:        rec.MRN,
		MMSI:       rec.MMSI,
		Type:       EntityType(rec.Type),
		Version:    rec.Version,
		Registered: rec.Registered,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
}

func toRecord(e *Entity) *storage.EntityRecord {
	return &storage.EntityRecord{
		ID:         e.ID,
		Name:       e.Name,
		MRN:        e.MRN,
		MMSI:       e.MMSI,
		Type:       string(e.Type),
		Version:    e.Version,
		Registered: e.Registered,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
}

// Create registers a new entity, deriving its MRN from the organisation
// prefix, type, and name. Version is mandatory for services and ignored
// in uniqueness checks for every other type: the registry treats version
// as a service-only discriminator.
func (d *Directory) Create(ctx context.Context, ne NewEntity) (*Entity, error) {
	if _, err := ParseEntityType(string(ne.Type)); err != nil {
		return nil, err
	}
	if ne.Type == TypeService && ne.Version == "" {
		return nil, ErrVersionRequired
	}
	if ne.Type != TypeService {
		ne.Version = ""
	}
	if !validMMSI(ne.MMSI) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMMSI, ne.MMSI)
	}

	mrn := DeriveMRN(d.orgPrefix, ne.Type, ne.Name)
	if _, err := d.repo.FindEntityByMRN(ctx, mrn, ne.Version); err == nil {
		return nil, fmt.Errorf("%s: %w", mrn, ErrDuplicateMRN)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if ne.MMSI != "" {
		if _, err := d.repo.FindEntityByMMSI(ctx, ne.MMSI); err == nil {
			return nil, fmt.Errorf("%s: %w", ne.MMSI, ErrDuplicateMMSI)
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}

	now := time.Now().UTC()
	e := &Entity{
		ID:        uuid.NewString(),
		Name:      ne.Name,
		MRN:       mrn,
		MMSI:      ne.MMSI,
		Type:      ne.Type,
		Version:   ne.Version,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.repo.PutEntity(ctx, toRecord(e)); err != nil {
		return nil, fmt.Errorf("storing entity: %w", err)
	}
	return e, nil
}

// Get returns the entity with the given id.
func (d *Directory) Get(ctx context.Context, id string) (*Entity, error) {
	rec, err := d.repo.GetEntity(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", id, ErrEntityNotFound)
	}
	if err != nil {
		return nil, err
	}
	return fromRecord(rec), nil
}

// FindByMRN returns the entity with the given MRN. version narrows the
// match for service entities and is ignored when empty.
func (d *Directory) FindByMRN(ctx context.Context, mrn, version string) (*Entity, error) {
	rec, err := d.repo.FindEntityByMRN(ctx, mrn, version)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", mrn, ErrEntityNotFound)
	}
	if err != nil {
		return nil, err
	}
	return fromRecord(rec), nil
}

// FindByMMSI returns the entity carrying the given MMSI.
func (d *Directory) FindByMMSI(ctx context.Context, mmsi string) (*Entity, error) {
	rec, err := d.repo.FindEntityByMMSI(ctx, mmsi)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("mmsi %s: %w", mmsi, ErrEntityNotFound)
	}
	if err != nil {
		return nil, err
	}
	return fromRecord(rec), nil
}

// FindByName resolves (name, type, version) through MRN derivation.
func (d *Directory) FindByName(ctx context.Context, name string, t EntityType, version string) (*Entity, error) {
	return d.FindByMRN(ctx, DeriveMRN(d.orgPrefix, t, name), version)
}

// List returns all entities.
func (d *Directory) List(ctx context.Context) ([]*Entity, error) {
	recs, err := d.repo.ListEntities(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Entity, 0, len(recs))
	for _, rec := range recs {
		out = append(out, fromRecord(rec))
	}
	return out, nil
}

// Correction holds the fields an existing entity may have corrected.
// MRN and type are immutable; the MRN keeps its original derivation even
// when the name is corrected, so issued certificates stay valid.
type Correction struct {
	Name *string
	MMSI *string
}

// Correct applies a name/MMSI correction to an entity.
func (d *Directory) Correct(ctx context.Context, id string, c Correction) (*Entity, error) {
	e, err := d.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Name != nil {
		e.Name = *c.Name
	}
	if c.MMSI != nil {
		if !validMMSI(*c.MMSI) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidMMSI, *c.MMSI)
		}
		if *c.MMSI != "" {
			if other, err := d.FindByMMSI(ctx, *c.MMSI); err == nil && other.ID != id {
				return nil, fmt.Errorf("%s: %w", *c.MMSI, ErrDuplicateMMSI)
			}
		}
		e.MMSI = *c.MMSI
	}
	e.UpdatedAt = time.Now().UTC()
	if err := d.repo.PutEntity(ctx, toRecord(e)); err != nil {
		return nil, fmt.Errorf("storing entity: %w", err)
	}
	return e, nil
}

// MarkRegistered flags the entity as present in the upstream registry.
func (d *Directory) MarkRegistered(ctx context.Context, id string) error {
	e, err := d.Get(ctx, id)
	if err != nil {
		return err
	}
	if e.Registered {
		return nil
	}
	e.Registered = true
	e.UpdatedAt = time.Now().UTC()
	return d.repo.PutEntity(ctx, toRecord(e))
}

// Delete removes an entity. Deletion is cascade-protected: it fails with
// ErrEntityHasCertificates while certificate records still reference the
// entity. The API-level cascade deletes certificates first, enforcing
// the revoked-before-delete precondition per certificate.
func (d *Directory) Delete(ctx context.Context, id string) error {
	if _, err := d.Get(ctx, id); err != nil {
		return err
	}
	certs, err := d.repo.ListCertificatesByEntity(ctx, id)
	if err != nil {
		return err
	}
	if len(certs) > 0 {
		return fmt.Errorf("%s: %w", id, ErrEntityHasCertificates)
	}
	if err := d.repo.DeleteEntity(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", id, ErrEntityNotFound)
		}
		return err
	}
	return nil
}

// SubjectDN returns the CSR subject for an entity under this directory's
// organisation.
func (d *Directory) SubjectDN(e *Entity) pkix.Name {
	return SubjectDN(d.orgPrefix, e)
}
