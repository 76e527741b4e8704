package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func square(x0, y0, size float64) *geom.Polygon {
	return geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{
		{{x0, y0}, {x0 + size, y0}, {x0 + size, y0 + size}, {x0, y0 + size}, {x0, y0}},
	})
}

func TestEngine_RoundTrip(t *testing.T) {
	e := NewEngine()

	gg, err := e.FromGeom(square(0, 0, 10))
	require.NoError(t, err)
	defer gg.Destroy()

	assert.InDelta(t, 100.0, gg.Area(), 1e-9)

	back, err := e.ToGeom(gg)
	require.NoError(t, err)
	_, ok := back.(*geom.Polygon)
	assert.True(t, ok)
}

func TestEngine_UnionComponents(t *testing.T) {
	e := NewEngine()

	// Two overlapping squares plus one far away: union has two connected
	// components.
	a, err := e.FromGeom(square(0, 0, 10))
	require.NoError(t, err)
	b, err := e.FromGeom(square(5, 0, 10))
	require.NoError(t, err)
	c, err := e.FromGeom(square(100, 100, 10))
	require.NoError(t, err)

	u := a.Union(b).Union(c)
	parts := Components(u)
	require.Len(t, parts, 2)

	total := 0.0
	for _, p := range parts {
		total += p.Area()
	}
	// 10x10 + 10x10 overlapping by 5x10, plus a detached 10x10.
	assert.InDelta(t, 150+100, total, 1e-9)
}

func TestEngine_ComponentsOfPlainPolygon(t *testing.T) {
	e := NewEngine()

	g, err := e.FromGeom(square(0, 0, 1))
	require.NoError(t, err)

	parts := Components(g)
	require.Len(t, parts, 1)
	assert.InDelta(t, 1.0, parts[0].Area(), 1e-9)
}

func TestEngine_ValidateRejectsBowtie(t *testing.T) {
	e := NewEngine()

	bowtie := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{
		{{0, 0}, {2, 2}, {2, 0}, {0, 2}, {0, 0}},
	})
	err := e.Validate(bowtie)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidGeometry)
}

func TestEngine_ValidateAcceptsSquare(t *testing.T) {
	e := NewEngine()
	assert.NoError(t, e.Validate(square(0, 0, 1)))
}

func TestEngine_ValidateNil(t *testing.T) {
	e := NewEngine()
	err := e.Validate(nil)
	assert.ErrorIs(t, err, ErrInvalidGeometry)
}
