// Package bbolt provides a BBolt-backed storage repository.
//
// Entities and certificates live in two top-level buckets keyed by
// record ID, with JSON-encoded values. MRN/MMSI lookups scan the
// entity bucket; the data set (one record per registered device,
// vessel, service or user) is small enough that an index bucket is
// not worth the bookkeeping.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/maritimelab/seatrust/storage"
)

var (
	entityBucket = []byte("entities")
	certBucket   = []byte("certificates")
)

// Store implements storage.Repository backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(entityBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(certBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewRepository(db)
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func put(s *Store, bucket []byte, id string, v any) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return tx.Bucket(bucket).Put([]byte(id), data)
	})
}

func get(s *Store, bucket []byte, id string, v any) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%s: %w", id, storage.ErrNotFound)
		}
		return json.Unmarshal(data, v)
	})
}

func del(s *Store, bucket []byte, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("%s: %w", id, storage.ErrNotFound)
		}
		return b.Delete([]byte(id))
	})
}

func (s *Store) PutEntity(_ context.Context, rec *storage.EntityRecord) error {
	return put(s, entityBucket, rec.ID, rec)
}

func (s *Store) GetEntity(_ context.Context, id string) (*storage.EntityRecord, error) {
	var rec storage.EntityRecord
	if err := get(s, entityBucket, id, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) FindEntityByMRN(_ context.Context, mrn, version string) (*storage.EntityRecord, error) {
	var found *storage.EntityRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(entityBucket).ForEach(func(_, v []byte) error {
			if found != nil {
				return nil
			}
			var rec storage.EntityRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.MRN != mrn {
				return nil
			}
			if version != "" && rec.Version != version {
				return nil
			}
			found = &rec
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%s: %w", mrn, storage.ErrNotFound)
	}
	return found, nil
}

func (s *Store) FindEntityByMMSI(_ context.Context, mmsi string) (*storage.EntityRecord, error) {
	var found *storage.EntityRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(entityBucket).ForEach(func(_, v []byte) error {
			if found != nil {
				return nil
			}
			var rec storage.EntityRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.MMSI != "" && rec.MMSI == mmsi {
				found = &rec
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("mmsi %s: %w", mmsi, storage.ErrNotFound)
	}
	return found, nil
}

func (s *Store) ListEntities(_ context.Context) ([]*storage.EntityRecord, error) {
	var out []*storage.EntityRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(entityBucket).ForEach(func(_, v []byte) error {
			var rec storage.EntityRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, &rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeleteEntity(_ context.Context, id string) error {
	return del(s, entityBucket, id)
}

func (s *Store) PutCertificate(_ context.Context, rec *storage.CertificateRecord) error {
	return put(s, certBucket, rec.ID, rec)
}

func (s *Store) GetCertificate(_ context.Context, id string) (*storage.CertificateRecord, error) {
	var rec storage.CertificateRecord
	if err := get(s, certBucket, id, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) ListCertificatesByEntity(_ context.Context, entityID string) ([]*storage.CertificateRecord, error) {
	var out []*storage.CertificateRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(certBucket).ForEach(func(_, v []byte) error {
			var rec storage.CertificateRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.EntityID == entityID {
				out = append(out, &rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeleteCertificate(_ context.Context, id string) error {
	return del(s, certBucket, id)
}
