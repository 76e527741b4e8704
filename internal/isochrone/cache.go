// Package isochrone builds walking-distance catchment polygons per facility,
// caching results so the scarce routing budget is never spent twice.
package isochrone

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	_ "modernc.org/sqlite"
)

// Cache persists catchment polygons keyed by (facility_id, radius) in a
// SQLite database. A warm cache lets repeated runs over unchanged inputs
// skip network calls entirely.
type Cache struct {
	db *sql.DB
}

// OpenCache opens (and migrates) the isochrone cache at the given path.
func OpenCache(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "isochrone: open cache")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "isochrone: exec %s", pragma)
		}
	}

	const migration = `
CREATE TABLE IF NOT EXISTS isochrones (
	facility_id TEXT NOT NULL,
	radius_m    REAL NOT NULL,
	geometry    BLOB NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (facility_id, radius_m)
);`
	if _, err := db.Exec(migration); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "isochrone: migrate cache")
	}

	return &Cache{db: db}, nil
}

// Get looks up a cached catchment polygon.
func (c *Cache) Get(ctx context.Context, facilityID string, radiusMeters float64) (geom.T, bool, error) {
	var data []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT geometry FROM isochrones WHERE facility_id = ? AND radius_m = ?`,
		facilityID, radiusMeters,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "isochrone: cache get")
	}

	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, false, eris.Wrapf(err, "isochrone: decode cached geometry for %s", facilityID)
	}
	return g, true, nil
}

// Put stores a catchment polygon, replacing any previous entry.
func (c *Cache) Put(ctx context.Context, facilityID string, radiusMeters float64, g geom.T) error {
	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return eris.Wrap(err, "isochrone: encode geometry")
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO isochrones (facility_id, radius_m, geometry, created_at) VALUES (?, ?, ?, ?)`,
		facilityID, radiusMeters, data, time.Now().UTC(),
	)
	return eris.Wrap(err, "isochrone: cache put")
}

// Count returns the number of cached entries for a radius.
func (c *Cache) Count(ctx context.Context, radiusMeters float64) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		`SELECT count(*) FROM isochrones WHERE radius_m = ?`, radiusMeters,
	).Scan(&n)
	return n, eris.Wrap(err, "isochrone: cache count")
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}
