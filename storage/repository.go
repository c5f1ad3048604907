// Package storage provides the persistence abstraction for entity and
// certificate records.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the referenced record does not exist.
var ErrNotFound = errors.New("record not found")

// EntityRecord is the persisted form of a trust subject. The directory
// package owns the invariants (MRN derivation, uniqueness); storage
// backends only move records.
type EntityRecord struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	MRN        string    `json:"mrn"`
	MMSI       string    `json:"mmsi,omitempty"`
	Type       string    `json:"type"`
	Version    string    `json:"version,omitempty"`
	Registered bool      `json:"registered"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CertificateRecord is the persisted form of an issued certificate.
// PrivateKeyPEM is empty for certificates synchronized read-only from
// the registry; such records can verify but never sign.
type CertificateRecord struct {
	ID             string    `json:"id"`
	EntityID       string    `json:"entity_id"`
	CertificatePEM string    `json:"certificate_pem"`
	PublicKeyPEM   string    `json:"public_key_pem"`
	PrivateKeyPEM  string    `json:"private_key_pem,omitempty"`
	NotBefore      time.Time `json:"not_before"`
	NotAfter       time.Time `json:"not_after"`
	RegistryCertID string    `json:"registry_cert_id,omitempty"`
	Revoked        bool      `json:"revoked"`
	CreatedAt      time.Time `json:"created_at"`
}

// Repository defines the interface for entity and certificate storage.
// Put operations upsert: creating a record and correcting one use the
// same call. Certificate listing is an explicit query rather than a
// lazy association so the delete-entity workflow can enforce the
// revoked-before-delete precondition per certificate.
type Repository interface {
	PutEntity(ctx context.Context, rec *EntityRecord) error
	GetEntity(ctx context.Context, id string) (*EntityRecord, error)
	FindEntityByMRN(ctx context.Context, mrn, version string) (*EntityRecord, error)
	FindEntityByMMSI(ctx context.Context, mmsi string) (*EntityRecord, error)
	ListEntities(ctx context.Context) ([]*EntityRecord, error)
	DeleteEntity(ctx context.Context, id string) error

	PutCertificate(ctx context.Context, rec *CertificateRecord) error
	GetCertificate(ctx context.Context, id string) (*CertificateRecord, error)
	ListCertificatesByEntity(ctx context.Context, entityID string) ([]*CertificateRecord, error)
	DeleteCertificate(ctx context.Context, id string) error
}
