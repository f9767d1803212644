package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/evidence-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS datasets (
	key          TEXT PRIMARY KEY,
	portal_url   TEXT NOT NULL,
	portal_type  TEXT NOT NULL,
	dataset_id   TEXT,
	title        TEXT NOT NULL,
	payload      TEXT NOT NULL,
	indexed_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS schema_cache (
	dataset_key TEXT PRIMARY KEY,
	schema_hash TEXT NOT NULL,
	field_map   TEXT NOT NULL,
	cached_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS geocode_cache (
	query     TEXT PRIMARY KEY,
	lat       REAL NOT NULL,
	lon       REAL NOT NULL,
	cached_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_datasets_portal_url ON datasets(portal_url);
CREATE INDEX IF NOT EXISTS idx_datasets_portal_type ON datasets(portal_type);
CREATE INDEX IF NOT EXISTS idx_geocode_cache_cached_at ON geocode_cache(cached_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertDataset writes the dataset under its identity key. Re-running
// discovery updates the payload in place instead of duplicating rows.
func (s *SQLiteStore) UpsertDataset(ctx context.Context, d model.Dataset) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal dataset")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO datasets (key, portal_url, portal_type, dataset_id, title, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			portal_url  = excluded.portal_url,
			portal_type = excluded.portal_type,
			dataset_id  = excluded.dataset_id,
			title       = excluded.title,
			payload     = excluded.payload,
			updated_at  = datetime('now')`,
		d.IndexKey(), d.PortalURL, string(d.PortalType), d.ID, d.Title, string(payload),
	)
	return eris.Wrap(err, "sqlite: upsert dataset")
}

func (s *SQLiteStore) GetDataset(ctx context.Context, key string) (*model.Dataset, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM datasets WHERE key = ?`, key).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get dataset")
	}
	var d model.Dataset
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal dataset")
	}
	return &d, nil
}

func (s *SQLiteStore) ListDatasets(ctx context.Context, filter DatasetFilter) ([]model.Dataset, error) {
	query := `SELECT payload FROM datasets WHERE 1=1`
	args := []any{}
	if filter.PortalURL != "" {
		query += ` AND portal_url = ?`
		args = append(args, filter.PortalURL)
	}
	if filter.PortalType != "" {
		query += ` AND portal_type = ?`
		args = append(args, string(filter.PortalType))
	}
	query += ` ORDER BY updated_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list datasets")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Dataset
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dataset")
		}
		var d model.Dataset
		if err := json.Unmarshal([]byte(payload), &d); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal dataset")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate datasets")
}

func (s *SQLiteStore) GetSchema(ctx context.Context, datasetKey string) (*SchemaEntry, error) {
	var entry SchemaEntry
	var fieldMap string
	err := s.db.QueryRowContext(ctx, `
		SELECT dataset_key, schema_hash, field_map, cached_at
		FROM schema_cache WHERE dataset_key = ?`, datasetKey,
	).Scan(&entry.DatasetKey, &entry.SchemaHash, &fieldMap, &entry.CachedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get schema")
	}
	if err := json.Unmarshal([]byte(fieldMap), &entry.FieldMap); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal field map")
	}
	return &entry, nil
}

func (s *SQLiteStore) SetSchema(ctx context.Context, entry SchemaEntry) error {
	fieldMap, err := json.Marshal(entry.FieldMap)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal field map")
	}
	cachedAt := entry.CachedAt
	if cachedAt.IsZero() {
		cachedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schema_cache (dataset_key, schema_hash, field_map, cached_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(dataset_key) DO UPDATE SET
			schema_hash = excluded.schema_hash,
			field_map   = excluded.field_map,
			cached_at   = excluded.cached_at`,
		entry.DatasetKey, entry.SchemaHash, string(fieldMap), cachedAt,
	)
	return eris.Wrap(err, "sqlite: set schema")
}

// GetGeocode returns the cached geocode for the query, or nil when absent
// or older than maxAge.
func (s *SQLiteStore) GetGeocode(ctx context.Context, query string, maxAge time.Duration) (*GeocodeEntry, error) {
	var entry GeocodeEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT query, lat, lon, cached_at FROM geocode_cache WHERE query = ?`, query,
	).Scan(&entry.Query, &entry.Lat, &entry.Lon, &entry.CachedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get geocode")
	}
	if maxAge > 0 && time.Since(entry.CachedAt) > maxAge {
		return nil, nil
	}
	return &entry, nil
}

func (s *SQLiteStore) SetGeocode(ctx context.Context, entry GeocodeEntry) error {
	cachedAt := entry.CachedAt
	if cachedAt.IsZero() {
		cachedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO geocode_cache (query, lat, lon, cached_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(query) DO UPDATE SET
			lat       = excluded.lat,
			lon       = excluded.lon,
			cached_at = excluded.cached_at`,
		entry.Query, entry.Lat, entry.Lon, cachedAt,
	)
	return eris.Wrap(err, "sqlite: set geocode")
}
