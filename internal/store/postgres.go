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

	"github.com/sells-group/costwatch/internal/model"
)

// Pool is the subset of pgxpool.Pool the store needs. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// docTables maps each document table to its key column.
var docTables = map[string]string{
	"cost_envelopes":  "project_id",
	"variance_config": "project_id",
	"variance_cache":  "project_id",
	"projects":        "id",
	"tender_boqs":     "tender_id",
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	for table, keyCol := range docTables {
		ddl := `CREATE TABLE IF NOT EXISTS ` + table + ` (
			` + keyCol + ` TEXT PRIMARY KEY,
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return eris.Wrapf(err, "postgres: migrate %s", table)
		}
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) getDoc(ctx context.Context, table, key string, out any) (bool, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM `+table+` WHERE `+docTables[table]+` = $1`, key,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: get %s", table)
	}
	if err := json.Unmarshal(doc, out); err != nil {
		return false, eris.Wrapf(err, "postgres: unmarshal %s", table)
	}
	return true, nil
}

func (s *PostgresStore) putDoc(ctx context.Context, table, key string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return eris.Wrapf(err, "postgres: marshal %s", table)
	}
	keyCol := docTables[table]
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+table+` (`+keyCol+`, doc, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (`+keyCol+`) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
		key, raw, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: put %s", table)
}

func (s *PostgresStore) GetEnvelope(ctx context.Context, projectID string) (*model.CostEnvelope, error) {
	var env model.CostEnvelope
	ok, err := s.getDoc(ctx, "cost_envelopes", projectID, &env)
	if err != nil || !ok {
		return nil, err
	}
	return &env, nil
}

func (s *PostgresStore) PutEnvelope(ctx context.Context, env *model.CostEnvelope) error {
	return s.putDoc(ctx, "cost_envelopes", env.ProjectID, env)
}

func (s *PostgresStore) GetVarianceConfig(ctx context.Context, projectID string) (*model.ProjectVarianceConfig, error) {
	var cfg model.ProjectVarianceConfig
	ok, err := s.getDoc(ctx, "variance_config", projectID, &cfg)
	if err != nil || !ok {
		return nil, err
	}
	return &cfg, nil
}

func (s *PostgresStore) PutVarianceConfig(ctx context.Context, cfg *model.ProjectVarianceConfig) error {
	return s.putDoc(ctx, "variance_config", cfg.ProjectID, cfg)
}

func (s *PostgresStore) GetVarianceCache(ctx context.Context, projectID string) (*model.VarianceCacheEntry, error) {
	var entry model.VarianceCacheEntry
	ok, err := s.getDoc(ctx, "variance_cache", projectID, &entry)
	if err != nil || !ok {
		return nil, err
	}
	return &entry, nil
}

func (s *PostgresStore) PutVarianceCache(ctx context.Context, entry *model.VarianceCacheEntry) error {
	return s.putDoc(ctx, "variance_cache", entry.ProjectID, entry)
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (*model.Project, error) {
	var p model.Project
	ok, err := s.getDoc(ctx, "projects", id, &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) PutProject(ctx context.Context, p *model.Project) error {
	return s.putDoc(ctx, "projects", p.ID, p)
}

func (s *PostgresStore) UpdateProject(ctx context.Context, id string, apply func(*model.Project)) (*model.Project, error) {
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

func (s *PostgresStore) ListProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc FROM projects ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list projects")
	}
	defer rows.Close()

	var projects []model.Project
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "postgres: scan project")
		}
		var p model.Project
		if err := json.Unmarshal(doc, &p); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal project")
		}
		projects = append(projects, p)
	}
	return projects, eris.Wrap(rows.Err(), "postgres: iterate projects")
}

func (s *PostgresStore) GetTenderBOQ(ctx context.Context, tenderID string) (*model.BOQSnapshot, error) {
	var snap model.BOQSnapshot
	ok, err := s.getDoc(ctx, "tender_boqs", tenderID, &snap)
	if err != nil || !ok {
		return nil, err
	}
	return &snap, nil
}

func (s *PostgresStore) PutTenderBOQ(ctx context.Context, tenderID string, snap *model.BOQSnapshot) error {
	return s.putDoc(ctx, "tender_boqs", tenderID, snap)
}
