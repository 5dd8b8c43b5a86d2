// Package postgres implements the dataset store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/JonMunkholm/wardrive/internal/schema"
	"github.com/JonMunkholm/wardrive/internal/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

const maxAllocAttempts = 8

// PoolOptions mirror the database section of the configuration.
type PoolOptions struct {
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a DatasetStore backed by a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
	ids  *schema.IDGenerator
}

// Connect parses url, applies the pool options and verifies connectivity.
func Connect(ctx context.Context, url string, opts PoolOptions) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = int32(opts.MaxConns)
	}
	if opts.MinConns > 0 {
		cfg.MinConns = int32(opts.MinConns)
	}
	if opts.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = opts.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(pool), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, ids: schema.NewIDGenerator()}
}

// Migrate brings the schema up to date through a database/sql bridge over
// the pool.
func (s *Store) Migrate() error {
	db := stdlib.OpenDBFromPool(s.pool)
	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("create pgx migrate driver: %w", err)
	}
	return storage.MigrateUp(migrations, "migrations", "pgx5", driver)
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) CreateDataset(ctx context.Context) (schema.DatasetID, error) {
	for range maxAllocAttempts {
		id := s.ids.Next()
		if err := id.Validate(); err != nil {
			return "", err
		}
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO datasets (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, string(id))
		if err != nil {
			return "", fmt.Errorf("create dataset: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return id, nil
		}
	}
	return "", errors.New("create dataset: could not allocate a unique id")
}

func ensureDataset(ctx context.Context, q DBTX, id schema.DatasetID) error {
	var one int
	err := q.QueryRow(ctx, `SELECT 1 FROM datasets WHERE id = $1`, string(id)).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return schema.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup dataset: %w", err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, id schema.DatasetID) (bool, error) {
	if err := id.Validate(); err != nil {
		return false, err
	}
	err := ensureDataset(ctx, s.pool, id)
	if errors.Is(err, schema.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) Insert(ctx context.Context, id schema.DatasetID, rec schema.AccessPointRecord) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if err := ensureDataset(ctx, s.pool, id); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO access_points (dataset_id, mac_address, ssid, auth_mode, first_seen, channel, rssi,
		                           latitude, longitude, altitude, accuracy, type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		recordRow(id, rec)...)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// InsertBatch streams recs with COPY inside a transaction. COPY preserves
// row order, so the serial id keeps the insertion tie-break.
func (s *Store) InsertBatch(ctx context.Context, id schema.DatasetID, recs []schema.AccessPointRecord) error {
	if err := id.Validate(); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := ensureDataset(ctx, tx, id); err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}

	rows := make([][]any, len(recs))
	for i, r := range recs {
		rows[i] = recordRow(id, r)
	}
	n, err := tx.CopyFrom(ctx, pgx.Identifier{"access_points"}, storage.AccessPointColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy records: %w", err)
	}
	if int(n) != len(recs) {
		return fmt.Errorf("copy records: wrote %d of %d", n, len(recs))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}

func recordRow(id schema.DatasetID, r schema.AccessPointRecord) []any {
	return []any{
		string(id), r.MACAddress, r.SSID, r.AuthMode, r.FirstSeen, int32(r.Channel), int32(r.RSSI),
		r.Latitude, r.Longitude, r.Altitude, r.Accuracy, r.Type,
	}
}

func (s *Store) FetchAll(ctx context.Context, id schema.DatasetID) ([]schema.AccessPointRecord, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if err := ensureDataset(ctx, s.pool, id); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT mac_address, ssid, auth_mode, first_seen, channel, rssi,
		       latitude, longitude, altitude, accuracy, type
		FROM access_points
		WHERE dataset_id = $1 AND latitude IS NOT NULL AND longitude IS NOT NULL
		ORDER BY first_seen ASC, id ASC`, string(id))
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (schema.AccessPointRecord, error) {
		var r schema.AccessPointRecord
		err := row.Scan(&r.MACAddress, &r.SSID, &r.AuthMode, &r.FirstSeen, &r.Channel, &r.RSSI,
			&r.Latitude, &r.Longitude, &r.Altitude, &r.Accuracy, &r.Type)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	return out, nil
}

func (s *Store) Stats(ctx context.Context, id schema.DatasetID) (schema.Stats, error) {
	if err := id.Validate(); err != nil {
		return schema.Stats{}, err
	}
	if err := ensureDataset(ctx, s.pool, id); err != nil {
		return schema.Stats{}, err
	}

	var st schema.Stats
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(n), 0)::BIGINT,
		       COUNT(*)::BIGINT,
		       (COALESCE(SUM(n), 0) - COUNT(*))::BIGINT,
		       COALESCE(MAX(n), 0)::BIGINT
		FROM (
			SELECT COUNT(*) AS n
			FROM access_points
			WHERE dataset_id = $1 AND latitude IS NOT NULL AND longitude IS NOT NULL
			GROUP BY latitude, longitude
		) AS locations`, string(id)).Scan(&st.TotalPoints, &st.UniqueLocations, &st.DuplicateLocations, &st.MaxPointsPerLocation)
	if err != nil {
		return schema.Stats{}, fmt.Errorf("compute stats: %w", err)
	}
	return st, nil
}

func (s *Store) CommitCatalog(ctx context.Context, e schema.CatalogEntry) error {
	if err := e.DatasetID.Validate(); err != nil {
		return err
	}
	if err := ensureDataset(ctx, s.pool, e.DatasetID); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO catalog (dataset_id, filename, upload_time, format_version, accepted, malformed, skipped)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(e.DatasetID), e.Filename, e.UploadTime, e.FormatVersion,
		int32(e.Accepted), int32(e.Malformed), int32(e.Skipped))
	if err != nil {
		return fmt.Errorf("commit catalog: %w", err)
	}
	return nil
}

func (s *Store) ListCatalog(ctx context.Context) ([]schema.CatalogEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT dataset_id, filename, upload_time, format_version, accepted, malformed, skipped
		FROM catalog
		ORDER BY upload_time DESC, dataset_id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (schema.CatalogEntry, error) {
		var e schema.CatalogEntry
		var id string
		err := row.Scan(&id, &e.Filename, &e.UploadTime, &e.FormatVersion, &e.Accepted, &e.Malformed, &e.Skipped)
		e.DatasetID = schema.DatasetID(id)
		e.UploadTime = e.UploadTime.UTC()
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan catalog: %w", err)
	}
	return out, nil
}
