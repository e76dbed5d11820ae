package shape

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func TestObjectPolygonUsesExteriorRing(t *testing.T) {
	var o Object
	require.NoError(t, json.Unmarshal([]byte(`{
		"type":"Polygon",
		"coordinates":[
			[[0,0],[10,0],[10,10],[0,10],[0,0]],
			[[2,2],[3,2],[3,3],[2,2]]
		]}`), &o))
	p, err := o.Polygon()
	require.NoError(t, err)
	assert.Equal(t, 1, p.NumLinearRings())
	assert.InDelta(t, 100.0, p.Area(), 1e-9)
}

func TestObjectPolygonClosesRing(t *testing.T) {
	o := Object{Coordinates: [][][]float64{{{0, 0}, {4, 0}, {4, 4, 7}}}}
	p, err := o.Polygon()
	require.NoError(t, err)
	coords := p.LinearRing(0).Coords()
	require.Len(t, coords, 4)
	assert.Equal(t, geom.Coord{0, 0}, coords[3])
	assert.InDelta(t, 8.0, p.Area(), 1e-9)
}

func TestObjectPolygonErrors(t *testing.T) {
	cases := map[string]Object{
		"no rings":     {},
		"short ring":   {Coordinates: [][][]float64{{{0, 0}, {1, 1}}}},
		"bad position": {Coordinates: [][][]float64{{{0, 0}, {1}, {1, 1}, {0, 0}}}},
	}
	for name, o := range cases {
		_, err := o.Polygon()
		assert.ErrorIs(t, err, ErrInvalidPolygon, name)
	}
}

func TestPolygonsReportsIndex(t *testing.T) {
	good := Object{Coordinates: [][][]float64{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}}
	_, err := Polygons([]Object{good, {}})
	assert.ErrorContains(t, err, "polygon 1")
}

func TestEncodeAllFeedsBackIntoObjects(t *testing.T) {
	p := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{{0, 0}, {2, 0}, {2, 2}, {0, 0}}})
	gjs, err := EncodeAll([]*geom.Polygon{p})
	require.NoError(t, err)
	require.Len(t, gjs, 1)
	assert.Equal(t, "Polygon", gjs[0].Type)

	b, err := json.Marshal(gjs)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"type":"Polygon","coordinates":[[[0,0],[2,0],[2,2],[0,0]]]}]`, string(b))

	var objs []Object
	require.NoError(t, json.Unmarshal(b, &objs))
	back, err := Polygons(objs)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, back[0].Area(), 1e-9)
}
