package mapstore

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/tenantgrid/index-pipeline/pkg/errors"
	"github.com/tenantgrid/index-pipeline/pkg/postgres"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS map_entries (
	application UUID        NOT NULL,
	scope       TEXT        NOT NULL,
	key         TEXT        NOT NULL,
	value       TEXT        NOT NULL,
	expires_at  TIMESTAMPTZ,
	PRIMARY KEY (application, scope, key)
)`

// PostgresFactory creates Stores backed by a single map_entries table.
type PostgresFactory struct {
	client *postgres.Client
	logger *slog.Logger
}

// NewPostgresFactory creates the factory and ensures the backing table
// exists.
func NewPostgresFactory(ctx context.Context, client *postgres.Client) (*PostgresFactory, error) {
	if _, err := client.DB.ExecContext(ctx, schemaDDL); err != nil {
		return nil, fmt.Errorf("creating map_entries table: %w", err)
	}
	return &PostgresFactory{
		client: client,
		logger: slog.Default().With("component", "mapstore"),
	}, nil
}

// Scope returns a Store bound to the given scope.
func (f *PostgresFactory) Scope(scope Scope) Store {
	return &postgresStore{factory: f, scope: scope}
}

type postgresStore struct {
	factory *PostgresFactory
	scope   Scope
}

func (s *postgresStore) GetString(ctx context.Context, key string) (string, error) {
	var value string
	err := s.factory.client.DB.QueryRowContext(ctx,
		`SELECT value FROM map_entries
		 WHERE application = $1 AND scope = $2 AND key = $3
		   AND (expires_at IS NULL OR expires_at > NOW())`,
		s.scope.Application, s.scope.Name, key,
	).Scan(&value)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", errors.Newf(errors.ErrKeyNotFound, 404, "map key %s/%s", s.scope.Name, key)
	}
	if err != nil {
		return "", fmt.Errorf("reading map key %s/%s: %w", s.scope.Name, key, err)
	}
	return value, nil
}

func (s *postgresStore) PutString(ctx context.Context, key, value string) error {
	return s.put(ctx, key, value, nil)
}

func (s *postgresStore) PutStringTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	expires := time.Now().Add(ttl)
	return s.put(ctx, key, value, &expires)
}

func (s *postgresStore) GetLong(ctx context.Context, key string) (int64, error) {
	value, err := s.GetString(ctx, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("map key %s/%s holds non-numeric value: %w", s.scope.Name, key, err)
	}
	return n, nil
}

func (s *postgresStore) PutLong(ctx context.Context, key string, value int64) error {
	return s.put(ctx, key, strconv.FormatInt(value, 10), nil)
}

func (s *postgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.factory.client.DB.ExecContext(ctx,
		`DELETE FROM map_entries WHERE application = $1 AND scope = $2 AND key = $3`,
		s.scope.Application, s.scope.Name, key,
	)
	if err != nil {
		return fmt.Errorf("deleting map key %s/%s: %w", s.scope.Name, key, err)
	}
	return nil
}

func (s *postgresStore) put(ctx context.Context, key, value string, expires *time.Time) error {
	_, err := s.factory.client.DB.ExecContext(ctx,
		`INSERT INTO map_entries (application, scope, key, value, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (application, scope, key)
		 DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		s.scope.Application, s.scope.Name, key, value, expires,
	)
	if err != nil {
		return fmt.Errorf("writing map key %s/%s: %w", s.scope.Name, key, err)
	}
	return nil
}
