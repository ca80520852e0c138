// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parapet Contributors

package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	// Register pgx/v5 database driver for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore reads and writes policy documents in PostgreSQL. Each
// policy is one row holding the canonical document as JSONB; the engine
// compiles documents on cache load, so the database stays declarative.
type PostgresStore struct {
	pool pgxQuerier
}

// pgxQuerier is the slice of pgxpool.Pool the store uses; tests
// substitute a mock.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(pool pgxQuerier) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// OpenPool connects to PostgreSQL and verifies the connection with a
// bounded fibonacci-backoff ping before returning.
func OpenPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, oops.Code("BACKEND_UNAVAILABLE").Wrapf(err, "creating connection pool")
	}

	backoff := retry.WithMaxRetries(5, retry.NewFibonacci(250*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if pingErr := pool.Ping(ctx); pingErr != nil {
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("BACKEND_UNAVAILABLE").Wrapf(err, "pinging database")
	}
	return pool, nil
}

// Migrate applies all pending schema migrations for the policy store.
func Migrate(databaseURL string) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return oops.Code("BACKEND_UNAVAILABLE").Wrapf(err, "creating migration source")
	}

	// golang-migrate's pgx/v5 driver expects the pgx5:// scheme.
	migrateURL := databaseURL
	if rest, found := strings.CutPrefix(databaseURL, "postgres://"); found {
		migrateURL = "pgx5://" + rest
	} else if rest, found := strings.CutPrefix(databaseURL, "postgresql://"); found {
		migrateURL = "pgx5://" + rest
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL)
	if err != nil {
		_ = source.Close() //nolint:errcheck // cleanup for embedded FS; init error takes precedence
		return oops.Code("BACKEND_UNAVAILABLE").Wrapf(err, "initializing migrator")
	}
	defer m.Close() //nolint:errcheck // migration outcome takes precedence

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code("BACKEND_UNAVAILABLE").Wrapf(err, "applying migrations")
	}
	return nil
}

// LoadAll implements Store. Documents are returned ordered by name.
func (s *PostgresStore) LoadAll(ctx context.Context) ([]*PolicyDocument, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, document FROM abac_policies ORDER BY name`)
	if err != nil {
		return nil, oops.Code("BACKEND_UNAVAILABLE").With("operation", "load all policies").Wrap(err)
	}
	defer rows.Close()

	var docs []*PolicyDocument
	seen := make(map[string]struct{})
	for rows.Next() {
		var name string
		var raw []byte
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, oops.Code("BACKEND_UNAVAILABLE").With("operation", "scan policy row").Wrap(err)
		}
		doc, err := decodeRow(name, raw)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[doc.Name]; dup {
			return nil, oops.Code("POLICY_MALFORMED").With("policy", doc.Name).Errorf("duplicate policy name %q", doc.Name)
		}
		seen[doc.Name] = struct{}{}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("BACKEND_UNAVAILABLE").With("operation", "iterate policy rows").Wrap(err)
	}
	return docs, nil
}

// LoadByName implements Store.
func (s *PostgresStore) LoadByName(ctx context.Context, name string) (*PolicyDocument, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT document FROM abac_policies WHERE name = $1`, name).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, oops.Code("BACKEND_UNAVAILABLE").With("operation", "load policy").With("name", name).Wrap(err)
	}
	return decodeRow(name, raw)
}

// Save implements Writer, generating a ULID for the row's ID. A name
// collision maps the unique violation to POLICY_EXISTS.
func (s *PostgresStore) Save(ctx context.Context, doc *PolicyDocument) error {
	if doc == nil || doc.Name == "" {
		return oops.Code("POLICY_MALFORMED").Errorf("policy name must be non-empty")
	}
	if _, err := doc.Meta(); err != nil {
		return err
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return oops.Code("POLICY_MALFORMED").With("policy", doc.Name).Wrapf(err, "encoding policy document")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO abac_policies (id, name, document)
		VALUES ($1, $2, $3)
	`, ulid.Make().String(), doc.Name, raw)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("POLICY_EXISTS").With("name", doc.Name).Errorf("policy already exists")
		}
		return oops.Code("BACKEND_UNAVAILABLE").With("operation", "save policy").With("name", doc.Name).Wrap(err)
	}
	return nil
}

// Delete implements Writer.
func (s *PostgresStore) Delete(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM abac_policies WHERE name = $1`, name)
	if err != nil {
		return oops.Code("BACKEND_UNAVAILABLE").With("operation", "delete policy").With("name", name).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(name)
	}
	return nil
}

// decodeRow parses a stored JSONB document and pins its name to the
// row's name column.
func decodeRow(name string, raw []byte) (*PolicyDocument, error) {
	var doc PolicyDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, oops.Code("POLICY_MALFORMED").With("policy", name).Wrapf(err, "decoding policy document")
	}
	if doc.Name == "" {
		doc.Name = name
	}
	if doc.Name != name {
		return nil, oops.
			Code("POLICY_MALFORMED").
			With("policy", name).
			Errorf("document name %q does not match row name %q", doc.Name, name)
	}
	return &doc, nil
}
