package api

import (
	"time"

	"github.com/maritimelab/seatrust/directory"
	"github.com/maritimelab/seatrust/storage"
)

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CreateEntityRequest registers a new trust subject.
type CreateEntityRequest struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	MMSI    string `json:"mmsi,omitempty"`
	Version string `json:"version,omitempty"`
}

// CorrectEntityRequest carries a name/MMSI correction. Omitted fields
// are left unchanged.
type CorrectEntityRequest struct {
	Name *string `json:"name,omitempty"`
	MMSI *string `json:"mmsi,omitempty"`
}

// EntityResponse is the wire form of an entity.
type EntityResponse struct {
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

func entityResponse(e *directory.Entity) EntityResponse {
	return EntityResponse{
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

// CertificateResponse is the wire form of a certificate record. Private
// key material never leaves the service.
type CertificateResponse struct {
	ID             string    `json:"id"`
	EntityID       string    `json:"entity_id"`
	Certificate    string    `json:"certificate"`
	PublicKey      string    `json:"public_key,omitempty"`
	NotBefore      time.Time `json:"not_before"`
	NotAfter       time.Time `json:"not_after"`
	RegistryCertID string    `json:"registry_cert_id,omitempty"`
	Revoked        bool      `json:"revoked"`
	Signable       bool      `json:"signable"`
}

func certificateResponse(rec *storage.CertificateRecord) CertificateResponse {
	return CertificateResponse{
		ID:             rec.ID,
		EntityID:       rec.EntityID,
		Certificate:    rec.CertificatePEM,
		PublicKey:      rec.PublicKeyPEM,
		NotBefore:      rec.NotBefore,
		NotAfter:       rec.NotAfter,
		RegistryCertID: rec.RegistryCertID,
		Revoked:        rec.Revoked,
		Signable:       rec.PrivateKeyPEM != "",
	}
}

// SelectorRequest addresses an entity by id, MRN, MMSI, or name.
type SelectorRequest struct {
	EntityID string `json:"entity_id,omitempty"`
	MRN      string `json:"mrn,omitempty"`
	MMSI     string `json:"mmsi,omitempty"`
	Name     string `json:"name,omitempty"`
	Type     string `json:"type,omitempty"`
	Version  string `json:"version,omitempty"`
}

// SignRequest signs a payload. CertificateID targets a certificate
// directly; otherwise the selector's active certificate is used.
// Payload is base64.
type SignRequest struct {
	SelectorRequest
	CertificateID string `json:"certificate_id,omitempty"`
	Algorithm     string `json:"algorithm,omitempty"`
	Payload       []byte `json:"payload"`
}

// SignResponse carries the signature plus the metadata a relying party
// needs to verify independently.
type SignResponse struct {
	Signature      []byte `json:"signature"`
	Certificate    string `json:"certificate"`
	Algorithm      string `json:"algorithm"`
	RootThumbprint string `json:"root_thumbprint"`
}

// VerifyRequest checks a signature over content (both base64).
type VerifyRequest struct {
	SelectorRequest
	Algorithm string `json:"algorithm,omitempty"`
	Content   []byte `json:"content"`
	Signature []byte `json:"signature"`
}

// VerifyResponse reports the verification outcome. A cryptographic
// mismatch is a normal false result, not an error.
type VerifyResponse struct {
	Valid bool `json:"valid"`
}

// ThumbprintResponse publishes a trust-root thumbprint.
type ThumbprintResponse struct {
	Alias      string `json:"alias"`
	Algorithm  string `json:"algorithm"`
	Thumbprint string `json:"thumbprint"`
}
