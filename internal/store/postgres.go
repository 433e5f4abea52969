package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Pool is the subset of pgxpool.Pool the snapshot store uses. pgxmock
// satisfies it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgxpool, for deployments where
// several operators share one wrangler state.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = 4
	cfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS snapshots (
	namespace TEXT PRIMARY KEY,
	version   INTEGER NOT NULL,
	data      JSONB NOT NULL,
	saved_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	snap.Version = SnapshotVersion
	snap.SavedAt = time.Now().UTC()

	data, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal snapshot")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO snapshots (namespace, version, data, saved_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (namespace) DO UPDATE SET
			version = EXCLUDED.version,
			data = EXCLUDED.data,
			saved_at = EXCLUDED.saved_at`,
		Namespace, snap.Version, data, snap.SavedAt,
	)
	return eris.Wrap(err, "postgres: save snapshot")
}

func (s *PostgresStore) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	var version int
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT version, data FROM snapshots WHERE namespace = $1`, Namespace,
	).Scan(&version, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load snapshot")
	}

	if version != SnapshotVersion {
		return nil, eris.Wrapf(ErrVersionMismatch, "got version %d, want %d", version, SnapshotVersion)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, eris.Wrap(err, "postgres: decode snapshot")
	}
	return &snap, nil
}
