// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"context"
	"sync"

	"github.com/maritimelab/seatrust/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu       sync.RWMutex
	entities map[string]*storage.EntityRecord
	certs    map[string]*storage.CertificateRecord
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{
		entities: make(map[string]*storage.EntityRecord),
		certs:    make(map[string]*storage.CertificateRecord),
	}
}

func cloneEntity(rec *storage.EntityRecord) *storage.EntityRecord {
	if rec == nil {
		return nil
	}
	cp := *rec
	return &cp
}

func cloneCertificate(rec *storage.CertificateRecord) *storage.CertificateRecord {
	if rec == nil {
		return nil
	}
	cp := *rec
	return &cp
}

func (r *Repository) PutEntity(_ context.Context, rec *storage.EntityRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities[rec.ID] = cloneEntity(rec)
	return nil
}

func (r *Repository) GetEntity(_ context.Context, id string) (*storage.EntityRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.entities[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneEntity(rec), nil
}

func (r *Repository) FindEntityByMRN(_ context.Context, mrn, version string) (*storage.EntityRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.entities {
		if rec.MRN != mrn {
			continue
		}
		if version != "" && rec.Version != version {
			continue
		}
		return cloneEntity(rec), nil
	}
	return nil, storage.ErrNotFound
}

func (r *Repository) FindEntityByMMSI(_ context.Context, mmsi string) (*storage.EntityRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.entities {
		if rec.MMSI != "" && rec.MMSI == mmsi {
			return cloneEntity(rec), nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r *Repository) ListEntities(_ context.Context) ([]*storage.EntityRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*storage.EntityRecord, 0, len(r.entities))
	for _, rec := range r.entities {
		out = append(out, cloneEntity(rec))
	}
	return out, nil
}

func (r *Repository) DeleteEntity(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entities[id]; !ok {
		return storage.ErrNotFound
	}
	delete(r.entities, id)
	return nil
}

func (r *Repository) PutCertificate(_ context.Context, rec *storage.CertificateRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.certs[rec.ID] = cloneCertificate(rec)
	return nil
}

func (r *Repository) GetCertificate(_ context.Context, id string) (*storage.CertificateRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.certs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneCertificate(rec), nil
}

func (r *Repository) ListCertificatesByEntity(_ context.Context, entityID string) ([]*storage.CertificateRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*storage.CertificateRecord
	for _, rec := range r.certs {
		if rec.EntityID == entityID {
			out = append(out, cloneCertificate(rec))
		}
	}
	return out, nil
}

func (r *Repository) DeleteCertificate(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.certs[id]; !ok {
		return storage.ErrNotFound
	}
	delete(r.certs, id)
	return nil
}
