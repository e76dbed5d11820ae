package measure

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func square(x, y, size float64) *geom.Polygon {
	return geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y},
	}})
}

func TestCalculateMetrics(t *testing.T) {
	m, err := New().CalculateMetrics(square(0, 0, 10))
	require.NoError(t, err)
	assert.InDelta(t, 40.0, m.Length, 1e-9)
	assert.InDelta(t, 100.0, m.Area, 1e-9)
	assert.Nil(t, m.TreeCount)
}

func TestExtendRoadGrowsArea(t *testing.T) {
	e := New()
	ext, err := e.ExtendRoad(square(0, 0, 10), 1)
	require.NoError(t, err)
	p, ok := ext.(*geom.Polygon)
	require.True(t, ok)
	// 100 + 4*10*1 + π*1², 圆角由多段折线近似
	assert.InDelta(t, 140+math.Pi, p.Area(), 0.1)
	assert.True(t, p.Bounds().OverlapsPoint(geom.XY, geom.Coord{-0.5, 5}))
}

func TestExtendRoadZeroWidthKeepsShape(t *testing.T) {
	ext, err := New().ExtendRoad(square(0, 0, 10), 0)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, ext.(*geom.Polygon).Area(), 1e-9)
}

func TestExtendRoadRejectsNaN(t *testing.T) {
	_, err := New().ExtendRoad(square(0, 0, 1), math.NaN())
	assert.ErrorIs(t, err, ErrInvalidWidth)
}

func TestCountTrees(t *testing.T) {
	e := New()
	road := square(0, 0, 10)
	trees := Polygons([]*geom.Polygon{
		square(2, 2, 1),    // 道路内
		square(10.5, 0, 1), // 道路外 1 个单位内
		square(50, 50, 1),  // 远离道路
	})

	n, err := e.CountTrees(trees, road)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ext, err := e.ExtendRoad(road, 1)
	require.NoError(t, err)
	n, err = e.CountTrees(trees, ext)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCountUniqueTrees(t *testing.T) {
	e := New()
	trees := Polygons([]*geom.Polygon{square(4, 4, 2), square(100, 100, 1)})
	regions := []geom.T{square(0, 0, 5), square(5, 5, 5)}

	total := 0
	for _, r := range regions {
		n, err := e.CountTrees(trees, r)
		require.NoError(t, err)
		total += n
	}
	assert.Equal(t, 2, total)

	unique, err := e.CountUniqueTrees(trees, regions)
	require.NoError(t, err)
	assert.Equal(t, 1, unique)
}
