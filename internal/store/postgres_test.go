package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/costwatch/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgres_Migrate_CreatesAllTables(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	for range docTables {
		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS`).
			WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetEnvelope_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT doc FROM cost_envelopes WHERE project_id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	env, err := s.GetEnvelope(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, env)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetEnvelope_Found(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	doc, err := json.Marshal(&model.CostEnvelope{ProjectID: "p1", Version: 7})
	require.NoError(t, err)
	mock.ExpectQuery(`SELECT doc FROM cost_envelopes`).
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{"doc"}).AddRow(doc))

	env, err := s.GetEnvelope(context.Background(), "p1")
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, int64(7), env.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_PutEnvelope_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO cost_envelopes .+ ON CONFLICT`).
		WithArgs("p1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.PutEnvelope(context.Background(), &model.CostEnvelope{ProjectID: "p1"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetVarianceConfig_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT doc FROM variance_config`).
		WithArgs("p1").
		WillReturnError(pgx.ErrNoRows)

	cfg, err := s.GetVarianceConfig(context.Background(), "p1")
	require.NoError(t, err)
	assert.Nil(t, cfg)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_PutVarianceCache_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO variance_cache .+ ON CONFLICT`).
		WithArgs("p1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.PutVarianceCache(context.Background(), &model.VarianceCacheEntry{ProjectID: "p1"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateProject_ReadModifyWrite(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	doc, err := json.Marshal(&model.Project{ID: "p1", Name: "Bridge", ContractValue: 500})
	require.NoError(t, err)
	mock.ExpectQuery(`SELECT doc FROM projects WHERE id = \$1`).
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{"doc"}).AddRow(doc))
	mock.ExpectExec(`INSERT INTO projects .+ ON CONFLICT`).
		WithArgs("p1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	p, err := s.UpdateProject(context.Background(), "p1", func(p *model.Project) {
		p.ContractValue = 600
	})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.InDelta(t, 600.0, p.ContractValue, 1e-9)
	assert.False(t, p.UpdatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateProject_Missing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT doc FROM projects`).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	p, err := s.UpdateProject(context.Background(), "ghost", func(*model.Project) {})
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListProjects(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	docA, err := json.Marshal(&model.Project{ID: "a", Name: "Airport"})
	require.NoError(t, err)
	docB, err := json.Marshal(&model.Project{ID: "b", Name: "Bridge"})
	require.NoError(t, err)
	mock.ExpectQuery(`SELECT doc FROM projects ORDER BY id`).
		WillReturnRows(pgxmock.NewRows([]string{"doc"}).AddRow(docA).AddRow(docB))

	projects, err := s.ListProjects(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "Airport", projects[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetTenderBOQ_Found(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	doc, err := json.Marshal(&model.BOQSnapshot{ID: "snap-1"})
	require.NoError(t, err)
	mock.ExpectQuery(`SELECT doc FROM tender_boqs WHERE tender_id = \$1`).
		WithArgs("t1").
		WillReturnRows(pgxmock.NewRows([]string{"doc"}).AddRow(doc))

	snap, err := s.GetTenderBOQ(context.Background(), "t1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "snap-1", snap.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
