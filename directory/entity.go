package directory

import (
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// EntityType is the kind of trust subject an entity represents. The set
// mirrors the identity registry's vocabulary. Each type maps through
// pure functions to its registry path segment and its subject-DN rule;
// there is no dynamic type registry.
type EntityType string

const (
	TypeDevice  EntityType = "device"
	TypeService EntityType = "service"
	TypeUser    EntityType = "user"
	TypeVessel  EntityType = "vessel"
	TypeRole    EntityType = "role"
)

// ErrUnknownEntityType is returned when an entity type string is not part
// of the registry vocabulary.
var ErrUnknownEntityType = errors.New("unknown entity type")

// ParseEntityType validates and canonicalises an entity type string.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case TypeDevice, TypeService, TypeUser, TypeVessel, TypeRole:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEntityType, s)
	}
}

// PathSegment returns the registry URL path segment for the type.
func (t EntityType) PathSegment() string {
	return string(t)
}

// Entity is the canonical trust subject. MRN is derived at creation and
// never changes; Name and MMSI may be corrected afterwards. Version is
// meaningful only for services, where (MRN, Version) identifies the
// entity.
type Entity struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	MRN        string     `json:"mrn"`
	MMSI       string     `json:"mmsi,omitempty"`
	Type       EntityType `json:"type"`
	Version    string     `json:"version,omitempty"`
	Registered bool       `json:"registered"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// slugify reduces a human-meaningful name to the MRN-safe form:
// NFKD-normalized, lowercased, runs of anything outside [a-z0-9]
// collapsed to a single '-'.
func slugify(name string) string {
	s := strings.ToLower(norm.NFKD.String(name))
	var b strings.Builder
	lastDash := true
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// DeriveMRN builds the canonical Maritime Resource Name for an entity:
// the organisation prefix, the type segment, and the slugified name.
func DeriveMRN(orgPrefix string, t EntityType, name string) string {
	return fmt.Sprintf("%s:%s:%s", orgPrefix, t.PathSegment(), slugify(name))
}

// SubjectDN returns the distinguished name used in CSRs for the entity.
// The common name carries the MRN so the registry and relying parties
// can recover the canonical identifier from the certificate alone; the
// organisation field carries the issuing organisation's MRN prefix and
// the organisational unit the entity type.
func SubjectDN(orgPrefix string, e *Entity) pkix.Name {
	return pkix.Name{
		CommonName:         e.MRN,
		Organization:       []string{orgPrefix},
		OrganizationalUnit: []string{e.Type.PathSegment()},
	}
}
