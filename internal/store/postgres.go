package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/SilasPignotti/KitaMap-Berlin/internal/db"
	"github.com/SilasPignotti/KitaMap-Berlin/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_run":        `INSERT INTO runs (id, year, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
	"update_run_status": `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"update_run_result": `UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
	"get_run":           `SELECT id, year, status, result, created_at, updated_at FROM runs WHERE id = $1`,
	"insert_coverage": `INSERT INTO district_coverage
		(run_id, district_id, name, capacity, covered_area_sqm, covered_fraction, reachable_population, coverage_ratio)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id, district_id) DO UPDATE SET
		capacity = EXCLUDED.capacity,
		covered_area_sqm = EXCLUDED.covered_area_sqm,
		covered_fraction = EXCLUDED.covered_fraction,
		reachable_population = EXCLUDED.reachable_population,
		coverage_ratio = EXCLUDED.coverage_ratio`,
	"get_coverage": `SELECT district_id, name, capacity, covered_area_sqm, covered_fraction, reachable_population, coverage_ratio
		FROM district_coverage WHERE run_id = $1 ORDER BY district_id`,
}

// facilityColumns matches the COPY target for SaveFacilities.
var facilityColumns = []string{"run_id", "id", "name", "district", "capacity", "capacity_source", "clamped", "geometry"}

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

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool, used by tests.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	year       INTEGER NOT NULL,
	status     TEXT NOT NULL DEFAULT 'estimating',
	result     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS facilities (
	run_id          TEXT NOT NULL REFERENCES runs(id),
	id              TEXT NOT NULL,
	name            TEXT NOT NULL,
	district        TEXT,
	capacity        DOUBLE PRECISION,
	capacity_source TEXT,
	clamped         BOOLEAN NOT NULL DEFAULT false,
	geometry        BYTEA,
	PRIMARY KEY (run_id, id)
);

CREATE TABLE IF NOT EXISTS district_coverage (
	run_id               TEXT NOT NULL REFERENCES runs(id),
	district_id          TEXT NOT NULL,
	name                 TEXT NOT NULL,
	capacity             DOUBLE PRECISION NOT NULL,
	covered_area_sqm     DOUBLE PRECISION NOT NULL,
	covered_fraction     DOUBLE PRECISION NOT NULL,
	reachable_population DOUBLE PRECISION NOT NULL,
	coverage_ratio       DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, district_id)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_year ON runs(year);
CREATE INDEX IF NOT EXISTS idx_facilities_run_id ON facilities(run_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, year int) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, year, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, year, string(model.RunStatusEstimating), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Year:      year,
		Status:    model.RunStatusEstimating,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
		resultJSON, string(result.Status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run result %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, year, status, result, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	)

	var r model.Run
	var resultJSON []byte
	err := row.Scan(&r.ID, &r.Year, &r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}
	if len(resultJSON) > 0 {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal(resultJSON, r.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, year, status, result, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $1`
	}
	if filter.Year != 0 {
		args = append(args, filter.Year)
		query += ` AND year = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var resultJSON []byte
		if err := rows.Scan(&r.ID, &r.Year, &r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if len(resultJSON) > 0 {
			r.Result = &model.RunResult{}
			if err := json.Unmarshal(resultJSON, r.Result); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal result")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) SaveFacilities(ctx context.Context, runID string, facilities []model.Facility) error {
	rows := make([][]any, 0, len(facilities))
	for i := range facilities {
		f := &facilities[i]
		var geometry []byte
		if f.Geometry != nil {
			var err error
			geometry, err = ewkb.Marshal(f.Geometry, ewkb.NDR)
			if err != nil {
				return eris.Wrapf(err, "postgres: encode facility %s", f.ID)
			}
		}
		var capacity any
		if f.Capacity != nil {
			capacity = *f.Capacity
		}
		rows = append(rows, []any{
			runID, f.ID, f.Name, f.District, capacity, string(f.CapacitySource), f.Clamped, geometry,
		})
	}

	_, err := db.CopyFrom(ctx, s.pool, "facilities", facilityColumns, rows)
	return eris.Wrap(err, "postgres: save facilities")
}

func (s *PostgresStore) SaveDistrictCoverage(ctx context.Context, runID string, coverage []model.DistrictCoverage) error {
	for _, dc := range coverage {
		if _, err := s.pool.Exec(ctx, preparedStatements["insert_coverage"],
			runID, dc.DistrictID, dc.Name, dc.Capacity, dc.CoveredAreaSqm,
			dc.CoveredFraction, dc.ReachablePopulation, dc.CoverageRatio,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert coverage %s", dc.DistrictID)
		}
	}
	return nil
}

func (s *PostgresStore) GetDistrictCoverage(ctx context.Context, runID string) ([]model.DistrictCoverage, error) {
	rows, err := s.pool.Query(ctx, preparedStatements["get_coverage"], runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get coverage")
	}
	defer rows.Close()

	var out []model.DistrictCoverage
	for rows.Next() {
		var dc model.DistrictCoverage
		if err := rows.Scan(&dc.DistrictID, &dc.Name, &dc.Capacity, &dc.CoveredAreaSqm,
			&dc.CoveredFraction, &dc.ReachablePopulation, &dc.CoverageRatio); err != nil {
			return nil, eris.Wrap(err, "postgres: scan coverage")
		}
		out = append(out, dc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: get coverage iterate")
}

