// Package postgres implements storage.Repository backed by PostgreSQL.
//
// Entity and certificate fields are stored as individual columns so
// the MRN/MMSI uniqueness invariants can be backed by real indexes,
// and ListCertificatesByEntity is a plain indexed query.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maritimelab/seatrust/storage"
)

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewRepositoryFromDSN creates a connection pool from a DSN string, ensures
// the schema exists, and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewRepository(pool), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

const entityColumns = `id, name, mrn, mmsi, entity_type, version, registered, created_at, updated_at`

func scanEntity(row pgx.Row) (*storage.EntityRecord, error) {
	var rec storage.EntityRecord
	err := row.Scan(&rec.ID, &rec.Name, &rec.MRN, &rec.MMSI, &rec.Type,
		&rec.Version, &rec.Registered, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) PutEntity(ctx context.Context, rec *storage.EntityRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO entities (`+entityColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id)
		 DO UPDATE SET name = $2, mrn = $3, mmsi = $4, entity_type = $5,
		               version = $6, registered = $7, updated_at = $9`,
		rec.ID, rec.Name, rec.MRN, rec.MMSI, rec.Type, rec.Version,
		rec.Registered, rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (s *Store) GetEntity(ctx context.Context, id string) (*storage.EntityRecord, error) {
	return scanEntity(s.pool.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = $1`, id))
}

func (s *Store) FindEntityByMRN(ctx context.Context, mrn, version string) (*storage.EntityRecord, error) {
	if version != "" {
		return scanEntity(s.pool.QueryRow(ctx,
			`SELECT `+entityColumns+` FROM entities WHERE mrn = $1 AND version = $2`,
			mrn, version))
	}
	return scanEntity(s.pool.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE mrn = $1 ORDER BY version LIMIT 1`, mrn))
}

func (s *Store) FindEntityByMMSI(ctx context.Context, mmsi string) (*storage.EntityRecord, error) {
	return scanEntity(s.pool.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE mmsi = $1`, mmsi))
}

func (s *Store) ListEntities(ctx context.Context) ([]*storage.EntityRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entityColumns+` FROM entities ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*storage.EntityRecord
	for rows.Next() {
		rec, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) DeleteEntity(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM entities WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

const certColumns = `id, entity_id, certificate_pem, public_key_pem, private_key_pem,
	not_before, not_after, registry_cert_id, revoked, created_at`

func scanCertificate(row pgx.Row) (*storage.CertificateRecord, error) {
	var rec storage.CertificateRecord
	err := row.Scan(&rec.ID, &rec.EntityID, &rec.CertificatePEM, &rec.PublicKeyPEM,
		&rec.PrivateKeyPEM, &rec.NotBefore, &rec.NotAfter, &rec.RegistryCertID,
		&rec.Revoked, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) PutCertificate(ctx context.Context, rec *storage.CertificateRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO certificates (id, entity_id, certificate_pem, public_key_pem,
		     private_key_pem, not_before, not_after, registry_cert_id, revoked, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id)
		 DO UPDATE SET revoked = $9`,
		rec.ID, rec.EntityID, rec.CertificatePEM, rec.PublicKeyPEM, rec.PrivateKeyPEM,
		rec.NotBefore, rec.NotAfter, rec.RegistryCertID, rec.Revoked, rec.CreatedAt)
	return err
}

func (s *Store) GetCertificate(ctx context.Context, id string) (*storage.CertificateRecord, error) {
	return scanCertificate(s.pool.QueryRow(ctx,
		`SELECT `+certColumns+` FROM certificates WHERE id = $1`, id))
}

func (s *Store) ListCertificatesByEntity(ctx context.Context, entityID string) ([]*storage.CertificateRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+certColumns+` FROM certificates WHERE entity_id = $1 ORDER BY created_at`,
		entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*storage.CertificateRecord
	for rows.Next() {
		rec, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) DeleteCertificate(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM certificates WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
