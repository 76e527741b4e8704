package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/ewkb"
	_ "modernc.org/sqlite"

	"github.com/SilasPignotti/KitaMap-Berlin/internal/model"
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
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	year       INTEGER NOT NULL,
	status     TEXT NOT NULL DEFAULT 'estimating',
	result     TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS facilities (
	run_id          TEXT NOT NULL REFERENCES runs(id),
	id              TEXT NOT NULL,
	name            TEXT NOT NULL,
	district        TEXT,
	capacity        REAL,
	capacity_source TEXT,
	clamped         INTEGER NOT NULL DEFAULT 0,
	geometry        BLOB,
	PRIMARY KEY (run_id, id)
);

CREATE TABLE IF NOT EXISTS district_coverage (
	run_id               TEXT NOT NULL REFERENCES runs(id),
	district_id          TEXT NOT NULL,
	name                 TEXT NOT NULL,
	capacity             REAL NOT NULL,
	covered_area_sqm     REAL NOT NULL,
	covered_fraction     REAL NOT NULL,
	reachable_population REAL NOT NULL,
	coverage_ratio       REAL NOT NULL,
	PRIMARY KEY (run_id, district_id)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_year ON runs(year);
CREATE INDEX IF NOT EXISTS idx_facilities_run_id ON facilities(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, year int) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, year, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, year, string(model.RunStatusEstimating), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Year:      year,
		Status:    model.RunStatusEstimating,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET result = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), string(result.Status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run result %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, year, status, result, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, year, status, result, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Year != 0 {
		query += ` AND year = ?`
		args = append(args, filter.Year)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveFacilities(ctx context.Context, runID string, facilities []model.Facility) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin facilities tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO facilities
		 (run_id, id, name, district, capacity, capacity_source, clamped, geometry)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare facilities insert")
	}
	defer stmt.Close()

	for i := range facilities {
		f := &facilities[i]
		var geometry []byte
		if f.Geometry != nil {
			geometry, err = ewkb.Marshal(f.Geometry, ewkb.NDR)
			if err != nil {
				return eris.Wrapf(err, "sqlite: encode facility %s", f.ID)
			}
		}
		var capacity any
		if f.Capacity != nil {
			capacity = *f.Capacity
		}
		if _, err := stmt.ExecContext(ctx,
			runID, f.ID, f.Name, f.District, capacity, string(f.CapacitySource), f.Clamped, geometry,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert facility %s", f.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit facilities")
}

func (s *SQLiteStore) SaveDistrictCoverage(ctx context.Context, runID string, coverage []model.DistrictCoverage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin coverage tx")
	}
	defer tx.Rollback()

	for _, dc := range coverage {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO district_coverage
			 (run_id, district_id, name, capacity, covered_area_sqm, covered_fraction, reachable_population, coverage_ratio)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, dc.DistrictID, dc.Name, dc.Capacity, dc.CoveredAreaSqm,
			dc.CoveredFraction, dc.ReachablePopulation, dc.CoverageRatio,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert coverage %s", dc.DistrictID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit coverage")
}

func (s *SQLiteStore) GetDistrictCoverage(ctx context.Context, runID string) ([]model.DistrictCoverage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT district_id, name, capacity, covered_area_sqm, covered_fraction, reachable_population, coverage_ratio
		 FROM district_coverage WHERE run_id = ? ORDER BY district_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get coverage")
	}
	defer rows.Close()

	var out []model.DistrictCoverage
	for rows.Next() {
		var dc model.DistrictCoverage
		if err := rows.Scan(&dc.DistrictID, &dc.Name, &dc.Capacity, &dc.CoveredAreaSqm,
			&dc.CoveredFraction, &dc.ReachablePopulation, &dc.CoverageRatio); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan coverage")
		}
		out = append(out, dc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: get coverage iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var resultJSON sql.NullString

	err := row.Scan(&r.ID, &r.Year, &r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if resultJSON.Valid {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
	}
	return &r, nil
}
