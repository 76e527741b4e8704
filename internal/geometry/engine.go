// Package geometry bridges the go-geom geometry model used for encoding with
// the GEOS engine used for boolean set operations. All operations treat
// geometries as immutable: every result is a new geometry.
package geometry

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"github.com/twpayne/go-geos"
)

// ErrInvalidGeometry marks malformed input geometry (self-intersecting or
// empty). Facilities with invalid geometry are excluded with a warning, not
// a pipeline failure.
var ErrInvalidGeometry = eris.New("geometry: invalid geometry")

// Engine owns a GEOS context for one pipeline run. The context serializes
// its own operations, so an Engine may be shared, but geometry work is
// expected to stay single-threaded per run.
type Engine struct {
	ctx *geos.Context
}

// NewEngine creates an Engine with a fresh GEOS context.
func NewEngine() *Engine {
	return &Engine{ctx: geos.NewContext()}
}

// FromGeom converts a go-geom geometry into a GEOS geometry via WKB.
func (e *Engine) FromGeom(g geom.T) (*geos.Geom, error) {
	if g == nil {
		return nil, eris.Wrap(ErrInvalidGeometry, "geometry: nil geometry")
	}
	data, err := wkb.Marshal(g, wkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geometry: marshal WKB")
	}
	gg, err := e.ctx.NewGeomFromWKB(data)
	if err != nil {
		return nil, eris.Wrap(err, "geometry: parse WKB")
	}
	return gg, nil
}

// ToGeom converts a GEOS geometry back into a go-geom geometry via WKB.
func (e *Engine) ToGeom(g *geos.Geom) (geom.T, error) {
	out, err := wkb.Unmarshal(g.ToWKB())
	if err != nil {
		return nil, eris.Wrap(err, "geometry: unmarshal WKB")
	}
	return out, nil
}

// Validate checks a facility or district geometry for topological validity.
// Empty and self-intersecting geometries fail with ErrInvalidGeometry.
func (e *Engine) Validate(g geom.T) error {
	gg, err := e.FromGeom(g)
	if err != nil {
		return err
	}
	defer gg.Destroy()
	if gg.IsEmpty() {
		return eris.Wrap(ErrInvalidGeometry, "geometry: empty geometry")
	}
	if !gg.IsValid() {
		return eris.Wrap(ErrInvalidGeometry, "geometry: self-intersecting geometry")
	}
	return nil
}

// Repair returns a valid version of g, fixing self-intersections where GEOS
// can. Used for routing-service polygons before they enter overlap math.
func (e *Engine) Repair(g *geos.Geom) *geos.Geom {
	if g.IsValid() {
		return g
	}
	return g.MakeValid()
}

// Components decomposes a (multi)polygon into its maximal connected parts.
// A plain polygon yields itself; empty parts are dropped.
func Components(g *geos.Geom) []*geos.Geom {
	n := g.NumGeometries()
	parts := make([]*geos.Geom, 0, n)
	for i := 0; i < n; i++ {
		part := g.Geometry(i).Clone()
		if part.IsEmpty() {
			continue
		}
		parts = append(parts, part)
	}
	return parts
}

// BoundsCenter returns the bounding-box center of a geometry, used as the
// routing origin for polygon-geometry facilities.
func BoundsCenter(g geom.T) (lon, lat float64) {
	b := g.Bounds()
	return (b.Min(0) + b.Max(0)) / 2, (b.Min(1) + b.Max(1)) / 2
}
