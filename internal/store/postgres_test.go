package store

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SilasPignotti/KitaMap-Berlin/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock), mock
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), 2026, "estimating", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), 2026)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusEstimating, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, year, status, result, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("routing", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunStatus(context.Background(), "missing", model.RunStatusRouting)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveFacilities_Copy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"facilities"}, facilityColumns).WillReturnResult(2)

	capacity := 85.0
	facilities := []model.Facility{
		{ID: "kita-1", Name: "Kita Sonnenschein", District: "01", Capacity: &capacity, CapacitySource: model.CapacitySourceKnown},
		{ID: "kita-2", Name: "Kita Regenbogen", District: "02"},
	}
	err := s.SaveFacilities(context.Background(), "run-1", facilities)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveDistrictCoverage_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT`).
		WithArgs("run-1", "01", "Mitte", 120.0, 2.5e6, 0.62, 1140.0, 0.58).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SaveDistrictCoverage(context.Background(), "run-1", []model.DistrictCoverage{
		{DistrictID: "01", Name: "Mitte", Capacity: 120, CoveredAreaSqm: 2.5e6,
			CoveredFraction: 0.62, ReachablePopulation: 1140, CoverageRatio: 0.58},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetDistrictCoverage(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows([]string{
		"district_id", "name", "capacity", "covered_area_sqm",
		"covered_fraction", "reachable_population", "coverage_ratio",
	}).AddRow("01", "Mitte", 120.0, 2.5e6, 0.62, 1140.0, 0.58)

	mock.ExpectQuery(`SELECT district_id, name, capacity`).
		WithArgs("run-1").
		WillReturnRows(rows)

	out, err := s.GetDistrictCoverage(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Mitte", out[0].Name)
	assert.InDelta(t, 0.58, out[0].CoverageRatio, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}
