// 包 shape：请求/响应中的 GeoJSON 几何与 go-geom 对象互转
package shape

import (
	"errors"
	"fmt"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

var ErrInvalidPolygon = errors.New("invalid polygon")

// Object：请求中的多边形对象，只读取 coordinates
// 约束：type 字段可省略；仅使用第一个环（外环），洞被忽略
type Object struct {
	Type        string        `json:"type,omitempty"`
	Coordinates [][][]float64 `json:"coordinates"`
}

// Polygon：由外环构建平面多边形；未闭合的环自动闭合
// 约束：闭合后至少 4 个位置；每个位置至少包含 x,y，多余维度丢弃
func (o Object) Polygon() (*geom.Polygon, error) {
	if len(o.Coordinates) == 0 {
		return nil, fmt.Errorf("%w: no rings", ErrInvalidPolygon)
	}
	ring := o.Coordinates[0]
	flat := make([]float64, 0, 2*(len(ring)+1))
	for i, pos := range ring {
		if len(pos) < 2 {
			return nil, fmt.Errorf("%w: position %d has %d values", ErrInvalidPolygon, i, len(pos))
		}
		flat = append(flat, pos[0], pos[1])
	}
	if n := len(flat); n >= 2 && (flat[0] != flat[n-2] || flat[1] != flat[n-1]) {
		flat = append(flat, flat[0], flat[1])
	}
	if len(flat) < 8 {
		return nil, fmt.Errorf("%w: ring needs at least 4 positions, got %d", ErrInvalidPolygon, len(flat)/2)
	}
	return geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)}), nil
}

// Polygons：批量转换，错误信息带上序号
func Polygons(objs []Object) ([]*geom.Polygon, error) {
	out := make([]*geom.Polygon, 0, len(objs))
	for i, o := range objs {
		p, err := o.Polygon()
		if err != nil {
			return nil, fmt.Errorf("polygon %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// EncodeAll：批量编码为 GeoJSON 几何对象（type + coordinates）
func EncodeAll[T geom.T](gs []T) ([]*geojson.Geometry, error) {
	out := make([]*geojson.Geometry, 0, len(gs))
	for _, g := range gs {
		gj, err := geojson.Encode(g)
		if err != nil {
			return nil, err
		}
		out = append(out, gj)
	}
	return out, nil
}
