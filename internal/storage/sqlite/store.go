// Package sqlite implements the dataset store on a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "modernc.org/sqlite"

	"github.com/JonMunkholm/wardrive/internal/schema"
	"github.com/JonMunkholm/wardrive/internal/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

// maxAllocAttempts bounds retries when a generated id already exists, e.g.
// after a restart with the clock stepped back.
const maxAllocAttempts = 8

// Store is a DatasetStore backed by SQLite.
type Store struct {
	db  *sql.DB
	ids *schema.IDGenerator
}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := "file:" + path + "?" + url.Values{
		"_pragma": {"foreign_keys(1)", "busy_timeout(5000)", "journal_mode(WAL)"},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer at a time; readers queue behind it.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	return New(db), nil
}

// New wraps an existing handle. The caller keeps ownership of migrations.
func New(db *sql.DB) *Store {
	return &Store{db: db, ids: schema.NewIDGenerator()}
}

// Migrate brings the schema up to date.
func (s *Store) Migrate() error {
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migrate driver: %w", err)
	}
	return storage.MigrateUp(migrations, "migrations", "sqlite", driver)
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) CreateDataset(ctx context.Context) (schema.DatasetID, error) {
	for range maxAllocAttempts {
		id := s.ids.Next()
		if err := id.Validate(); err != nil {
			return "", err
		}
		res, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO datasets (id, created_at) VALUES (?, ?)`,
			string(id), time.Now().UnixMilli())
		if err != nil {
			return "", fmt.Errorf("create dataset: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return id, nil
		}
	}
	return "", errors.New("create dataset: could not allocate a unique id")
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func ensureDataset(ctx context.Context, q querier, id schema.DatasetID) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM datasets WHERE id = ?`, string(id)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
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
	err := ensureDataset(ctx, s.db, id)
	if errors.Is(err, schema.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) Insert(ctx context.Context, id schema.DatasetID, rec schema.AccessPointRecord) error {
	return s.InsertBatch(ctx, id, []schema.AccessPointRecord{rec})
}

var insertSQL = `INSERT INTO access_points (` + strings.Join(storage.AccessPointColumns, ", ") +
	`) VALUES (?` + strings.Repeat(", ?", len(storage.AccessPointColumns)-1) + `)`

// InsertBatch writes recs in a single transaction.
func (s *Store) InsertBatch(ctx context.Context, id schema.DatasetID, recs []schema.AccessPointRecord) error {
	if err := id.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	if err := ensureDataset(ctx, tx, id); err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range recs {
		if _, err := stmt.ExecContext(ctx,
			string(id), r.MACAddress, r.SSID, r.AuthMode, r.FirstSeen, r.Channel, r.RSSI,
			r.Latitude, r.Longitude, r.Altitude, r.Accuracy, r.Type,
		); err != nil {
			return fmt.Errorf("insert record %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}

func (s *Store) FetchAll(ctx context.Context, id schema.DatasetID) ([]schema.AccessPointRecord, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if err := ensureDataset(ctx, s.db, id); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT mac_address, ssid, auth_mode, first_seen, channel, rssi,
		       latitude, longitude, altitude, accuracy, type
		FROM access_points
		WHERE dataset_id = ? AND latitude IS NOT NULL AND longitude IS NOT NULL
		ORDER BY first_seen ASC, id ASC`, string(id))
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	out := []schema.AccessPointRecord{}
	for rows.Next() {
		var r schema.AccessPointRecord
		var alt, acc sql.NullFloat64
		if err := rows.Scan(&r.MACAddress, &r.SSID, &r.AuthMode, &r.FirstSeen, &r.Channel, &r.RSSI,
			&r.Latitude, &r.Longitude, &alt, &acc, &r.Type); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Altitude = nullable(alt)
		r.Accuracy = nullable(acc)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func nullable(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

// Stats groups by the raw stored coordinate values.
func (s *Store) Stats(ctx context.Context, id schema.DatasetID) (schema.Stats, error) {
	if err := id.Validate(); err != nil {
		return schema.Stats{}, err
	}
	if err := ensureDataset(ctx, s.db, id); err != nil {
		return schema.Stats{}, err
	}

	var st schema.Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(n), 0),
		       COUNT(*),
		       COALESCE(SUM(n), 0) - COUNT(*),
		       COALESCE(MAX(n), 0)
		FROM (
			SELECT COUNT(*) AS n
			FROM access_points
			WHERE dataset_id = ? AND latitude IS NOT NULL AND longitude IS NOT NULL
			GROUP BY latitude, longitude
		)`, string(id)).Scan(&st.TotalPoints, &st.UniqueLocations, &st.DuplicateLocations, &st.MaxPointsPerLocation)
	if err != nil {
		return schema.Stats{}, fmt.Errorf("compute stats: %w", err)
	}
	return st, nil
}

func (s *Store) CommitCatalog(ctx context.Context, e schema.CatalogEntry) error {
	if err := e.DatasetID.Validate(); err != nil {
		return err
	}
	if err := ensureDataset(ctx, s.db, e.DatasetID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO catalog (dataset_id, filename, upload_time, format_version, accepted, malformed, skipped)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(e.DatasetID), e.Filename, e.UploadTime.UnixMilli(), e.FormatVersion,
		e.Accepted, e.Malformed, e.Skipped)
	if err != nil {
		return fmt.Errorf("commit catalog: %w", err)
	}
	return nil
}

func (s *Store) ListCatalog(ctx context.Context) ([]schema.CatalogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dataset_id, filename, upload_time, format_version, accepted, malformed, skipped
		FROM catalog
		ORDER BY upload_time DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}
	defer rows.Close()

	out := []schema.CatalogEntry{}
	for rows.Next() {
		var e schema.CatalogEntry
		var id string
		var ms int64
		if err := rows.Scan(&id, &e.Filename, &ms, &e.FormatVersion, &e.Accepted, &e.Malformed, &e.Skipped); err != nil {
			return nil, fmt.Errorf("scan catalog: %w", err)
		}
		e.DatasetID = schema.DatasetID(id)
		e.UploadTime = time.UnixMilli(ms).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog: %w", err)
	}
	return out, nil
}
