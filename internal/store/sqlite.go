package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/costwatch/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Every table is a
// keyed JSON document: primary key plus a doc TEXT column.
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
CREATE TABLE IF NOT EXISTS cost_envelopes (
	project_id TEXT PRIMARY KEY,
	doc        TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS variance_config (
	project_id TEXT PRIMARY KEY,
	doc        TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS variance_cache (
	project_id TEXT PRIMARY KEY,
	doc        TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY,
	doc        TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS tender_boqs (
	tender_id  TEXT PRIMARY KEY,
	doc        TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// getDoc loads one JSON document by key into out. Returns false when the key
// is absent.
func (s *SQLiteStore) getDoc(ctx context.Context, table, keyCol, key string, out any) (bool, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM `+table+` WHERE `+keyCol+` = ?`, key,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: get %s", table)
	}
	if err := json.Unmarshal([]byte(doc), out); err != nil {
		return false, eris.Wrapf(err, "sqlite: unmarshal %s", table)
	}
	return true, nil
}

// putDoc upserts one JSON document under key.
func (s *SQLiteStore) putDoc(ctx context.Context, table, keyCol, key string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return eris.Wrapf(err, "sqlite: marshal %s", table)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+table+` (`+keyCol+`, doc, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(`+keyCol+`) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		key, string(raw), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: put %s", table)
}

func (s *SQLiteStore) GetEnvelope(ctx context.Context, projectID string) (*model.CostEnvelope, error) {
	var env model.CostEnvelope
	ok, err := s.getDoc(ctx, "cost_envelopes", "project_id", projectID, &env)
	if err != nil || !ok {
		return nil, err
	}
	return &env, nil
}

func (s *SQLiteStore) PutEnvelope(ctx context.Context, env *model.CostEnvelope) error {
	return s.putDoc(ctx, "cost_envelopes", "project_id", env.ProjectID, env)
}

func (s *SQLiteStore) GetVarianceConfig(ctx context.Context, projectID string) (*model.ProjectVarianceConfig, error) {
	var cfg model.ProjectVarianceConfig
	ok, err := s.getDoc(ctx, "variance_config", "project_id", projectID, &cfg)
	if err != nil || !ok {
		return nil, err
	}
	return &cfg, nil
}

func (s *SQLiteStore) PutVarianceConfig(ctx context.Context, cfg *model.ProjectVarianceConfig) error {
	return s.putDoc(ctx, "variance_config", "project_id", cfg.ProjectID, cfg)
}

func (s *SQLiteStore) GetVarianceCache(ctx context.Context, projectID string) (*model.VarianceCacheEntry, error) {
	var entry model.VarianceCacheEntry
	ok, err := s.getDoc(ctx, "variance_cache", "project_id", projectID, &entry)
	if err != nil || !ok {
		return nil, err
	}
	return &entry, nil
}

func (s *SQLiteStore) PutVarianceCache(ctx context.Context, entry *model.VarianceCacheEntry) error {
	return s.putDoc(ctx, "variance_cache", "project_id", entry.ProjectID, entry)
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*model.Project, error) {
	var p model.Project
	ok, err := s.getDoc(ctx, "projects", "id", id, &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) PutProject(ctx context.Context, p *model.Project) error {
	return s.putDoc(ctx, "projects", "id", p.ID, p)
}

func (s *SQLiteStore) UpdateProject(ctx context.Context, id string, apply func(*model.Project)) (*model.Project, error) {
	p, err := s.GetProject(ctx, id)
	if err != nil || p == nil {
		return nil, err
	}
	apply(p)
	p.UpdatedAt = time.Now().UTC()
	if err := s.PutProject(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM projects ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list projects")
	}
	defer rows.Close() //nolint:errcheck

	var projects []model.Project
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan project")
		}
		var p model.Project
		if err := json.Unmarshal([]byte(doc), &p); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal project")
		}
		projects = append(projects, p)
	}
	return projects, eris.Wrap(rows.Err(), "sqlite: iterate projects")
}

func (s *SQLiteStore) GetTenderBOQ(ctx context.Context, tenderID string) (*model.BOQSnapshot, error) {
	var snap model.BOQSnapshot
	ok, err := s.getDoc(ctx, "tender_boqs", "tender_id", tenderID, &snap)
	if err != nil || !ok {
		return nil, err
	}
	return &snap, nil
}

func (s *SQLiteStore) PutTenderBOQ(ctx context.Context, tenderID string, snap *model.BOQSnapshot) error {
	return s.putDoc(ctx, "tender_boqs", "tender_id", tenderID, snap)
}
