package geometry

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

const earthRadiusMeters = 6371008.8

// BerlinLat and BerlinLon anchor the metric projection at the city center.
const (
	BerlinLat = 52.52
	BerlinLon = 13.405
)

// Projection is a local equirectangular projection used for all area and
// overlap math. Inputs stay EPSG:4326; at Berlin's extent the area error of
// this projection is far below the overlap epsilon.
type Projection struct {
	lat0, lon0 float64
	cosLat0    float64
}

// NewProjection creates a Projection centered at the given latitude and
// longitude (degrees).
func NewProjection(lat0, lon0 float64) *Projection {
	return &Projection{
		lat0:    lat0,
		lon0:    lon0,
		cosLat0: math.Cos(lat0 * math.Pi / 180),
	}
}

// BerlinProjection returns the projection used by the pipeline.
func BerlinProjection() *Projection {
	return NewProjection(BerlinLat, BerlinLon)
}

func (p *Projection) forward(lon, lat float64) (x, y float64) {
	x = earthRadiusMeters * p.cosLat0 * (lon - p.lon0) * math.Pi / 180
	y = earthRadiusMeters * (lat - p.lat0) * math.Pi / 180
	return x, y
}

func (p *Projection) inverse(x, y float64) (lon, lat float64) {
	lon = p.lon0 + x/(earthRadiusMeters*p.cosLat0)*180/math.Pi
	lat = p.lat0 + y/earthRadiusMeters*180/math.Pi
	return lon, lat
}

// Project transforms a geographic geometry into local metric coordinates.
func (p *Projection) Project(g geom.T) (geom.T, error) {
	return p.transform(g, p.forward)
}

// Unproject transforms a metric geometry back to geographic coordinates.
func (p *Projection) Unproject(g geom.T) (geom.T, error) {
	return p.transform(g, p.inverse)
}

func (p *Projection) transform(g geom.T, fn func(a, b float64) (float64, float64)) (geom.T, error) {
	if g == nil {
		return nil, eris.Wrap(ErrInvalidGeometry, "geometry: nil geometry")
	}

	layout := g.Layout()
	stride := layout.Stride()
	transformFlat := func(src []float64) []float64 {
		dst := make([]float64, len(src))
		copy(dst, src)
		for i := 0; i+1 < len(dst); i += stride {
			dst[i], dst[i+1] = fn(dst[i], dst[i+1])
		}
		return dst
	}

	switch t := g.(type) {
	case *geom.Point:
		return geom.NewPointFlat(layout, transformFlat(t.FlatCoords())), nil
	case *geom.LineString:
		return geom.NewLineStringFlat(layout, transformFlat(t.FlatCoords())), nil
	case *geom.Polygon:
		return geom.NewPolygonFlat(layout, transformFlat(t.FlatCoords()), t.Ends()), nil
	case *geom.MultiPolygon:
		return geom.NewMultiPolygonFlat(layout, transformFlat(t.FlatCoords()), t.Endss()), nil
	case *geom.MultiLineString:
		return geom.NewMultiLineStringFlat(layout, transformFlat(t.FlatCoords()), t.Ends()), nil
	default:
		return nil, eris.Errorf("geometry: unsupported geometry type %T", g)
	}
}
