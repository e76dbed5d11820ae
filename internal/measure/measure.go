// 包 measure：道路多边形的长度/面积、道路外扩（缓冲区）与缓冲区内树木计数
// 几何运算全部交给 GEOS；go-geom 对象经 WKB 传入传出
package measure

import (
	"errors"
	"fmt"
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"github.com/twpayne/go-geos"
)

// 缓冲区圆弧的四分之一圆分段数，与 GEOS/Shapely 默认一致
const quadSegs = 8

var ErrInvalidWidth = errors.New("extension width must be a finite number")

// Metrics：单个道路多边形的度量（单位为影像 CRS 的单位）
// Length 为多边形边界总长，Area 为平面面积；TreeCount 仅在指定外扩宽度时给出
type Metrics struct {
	Length    float64 `json:"length"`
	Area      float64 `json:"area"`
	TreeCount *int    `json:"tree_count,omitempty"`
}

// Engine：持有独立的 GEOS 上下文
// 约束：GEOS 上下文不可跨协程共享，每个请求各自 New 一个
type Engine struct {
	ctx *geos.Context
}

func New() *Engine { return &Engine{ctx: geos.NewContext()} }

func (e *Engine) toGEOS(g geom.T) (*geos.Geom, error) {
	b, err := wkb.Marshal(g, wkb.NDR)
	if err != nil {
		return nil, fmt.Errorf("encode wkb: %w", err)
	}
	gg, err := e.ctx.NewGeomFromWKB(b)
	if err != nil {
		return nil, fmt.Errorf("geos from wkb: %w", err)
	}
	return gg, nil
}

func fromGEOS(g *geos.Geom) (geom.T, error) {
	t, err := wkb.Unmarshal(g.ToWKB())
	if err != nil {
		return nil, fmt.Errorf("decode wkb: %w", err)
	}
	return t, nil
}

// CalculateMetrics：计算边界长度与面积
func (e *Engine) CalculateMetrics(p geom.T) (Metrics, error) {
	g, err := e.toGEOS(p)
	if err != nil {
		return Metrics{}, err
	}
	defer g.Destroy()
	return Metrics{Length: g.Length(), Area: g.Area()}, nil
}

// ExtendRoad：按宽度外扩道路多边形；负宽度收缩，可能得到空多边形
func (e *Engine) ExtendRoad(p geom.T, width float64) (geom.T, error) {
	if math.IsNaN(width) || math.IsInf(width, 0) {
		return nil, ErrInvalidWidth
	}
	g, err := e.toGEOS(p)
	if err != nil {
		return nil, err
	}
	defer g.Destroy()
	buf := g.Buffer(width, quadSegs)
	defer buf.Destroy()
	return fromGEOS(buf)
}

// CountTrees：与区域相交的树木多边形数量
// 先用包围盒过滤，再做 GEOS 相交判定
func (e *Engine) CountTrees(trees []geom.T, region geom.T) (int, error) {
	hits, err := e.intersecting(trees, region)
	if err != nil {
		return 0, err
	}
	return len(hits), nil
}

// CountUniqueTrees：与任一区域相交的树木数量，每棵树只计一次
func (e *Engine) CountUniqueTrees(trees []geom.T, regions []geom.T) (int, error) {
	seen := make(map[int]struct{})
	for _, r := range regions {
		hits, err := e.intersecting(trees, r)
		if err != nil {
			return 0, err
		}
		for _, i := range hits {
			seen[i] = struct{}{}
		}
	}
	return len(seen), nil
}

func (e *Engine) intersecting(trees []geom.T, region geom.T) ([]int, error) {
	rb := region.Bounds()
	if rb.IsEmpty() {
		return nil, nil
	}
	rg, err := e.toGEOS(region)
	if err != nil {
		return nil, err
	}
	defer rg.Destroy()
	var out []int
	for i, t := range trees {
		if !rb.Overlaps(geom.XY, t.Bounds()) {
			continue
		}
		tg, err := e.toGEOS(t)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		if rg.Intersects(tg) {
			out = append(out, i)
		}
		tg.Destroy()
	}
	return out, nil
}

// Polygons：把 []*geom.Polygon 转为 []geom.T 以便统一计数
func Polygons(ps []*geom.Polygon) []geom.T {
	out := make([]geom.T, len(ps))
	for i, p := range ps {
		out[i] = p
	}
	return out
}
