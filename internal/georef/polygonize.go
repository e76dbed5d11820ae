package georef

import (
	"fmt"

	"github.com/airbusgeo/godal"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
)

// Mask：按行存储的二值掩膜，1 表示前景
type Mask struct {
	Width  int
	Height int
	Pix    []uint8
}

func NewMask(w, h int) *Mask { return &Mask{Width: w, Height: h, Pix: make([]uint8, w*h)} }

func (m *Mask) Set(x, y int, v uint8) { m.Pix[y*m.Width+x] = v }

func (m *Mask) At(x, y int) uint8 { return m.Pix[y*m.Width+x] }

// Count：前景像素数
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Pix {
		if v != 0 {
			n++
		}
	}
	return n
}

// Polygonize：把掩膜写入带有 info 仿射与坐标系的内存栅格，调用 GDAL 矢量化
// 约束：0 作为 nodata 不参与矢量化；每个连通前景区域输出一个多边形（可能含洞）
func Polygonize(m *Mask, info Info) ([]*geom.Polygon, error) {
	if m == nil || m.Count() == 0 {
		return nil, nil
	}
	if len(m.Pix) != m.Width*m.Height {
		return nil, fmt.Errorf("mask size mismatch: %d pixels for %dx%d", len(m.Pix), m.Width, m.Height)
	}
	Register()
	mem, err := godal.Create(godal.Memory, "", 1, godal.Byte, m.Width, m.Height)
	if err != nil {
		return nil, fmt.Errorf("create mem raster: %w", err)
	}
	defer mem.Close()
	if err := mem.SetGeoTransform(scaledTransform(info, m.Width, m.Height)); err != nil {
		return nil, fmt.Errorf("set geotransform: %w", err)
	}
	var sr *godal.SpatialRef
	if info.WKT != "" {
		if sr, err = godal.NewSpatialRefFromWKT(info.WKT); err != nil {
			return nil, fmt.Errorf("parse crs: %w", err)
		}
		defer sr.Close()
		if err := mem.SetSpatialRef(sr); err != nil {
			return nil, fmt.Errorf("set crs: %w", err)
		}
	}
	band := mem.Bands()[0]
	if err := band.Write(0, 0, m.Pix, m.Width, m.Height); err != nil {
		return nil, fmt.Errorf("write mask: %w", err)
	}
	if err := band.SetNoData(0); err != nil {
		return nil, fmt.Errorf("set nodata: %w", err)
	}

	vds, err := godal.CreateVector(godal.Memory, "")
	if err != nil {
		return nil, fmt.Errorf("create mem vector: %w", err)
	}
	defer vds.Close()
	lyr, err := vds.CreateLayer("shapes", sr, godal.GTPolygon, godal.NewFieldDefinition("DN", godal.FTInt))
	if err != nil {
		return nil, fmt.Errorf("create layer: %w", err)
	}
	if err := band.Polygonize(lyr, godal.PixelValueFieldIndex(0)); err != nil {
		return nil, fmt.Errorf("polygonize: %w", err)
	}

	var out []*geom.Polygon
	lyr.ResetReading()
	for {
		f := lyr.NextFeature()
		if f == nil {
			break
		}
		p, err := featurePolygon(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		if p != nil {
			out = append(out, p)
		}
	}
	return out, nil
}

func featurePolygon(f *godal.Feature) (*geom.Polygon, error) {
	g := f.Geometry()
	if g == nil {
		return nil, nil
	}
	defer g.Close()
	b, err := g.WKB()
	if err != nil {
		return nil, fmt.Errorf("feature wkb: %w", err)
	}
	t, err := wkb.Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("decode feature wkb: %w", err)
	}
	p, ok := t.(*geom.Polygon)
	if !ok {
		return nil, fmt.Errorf("unexpected geometry %T from polygonize", t)
	}
	return p, nil
}

// scaledTransform：掩膜与影像尺寸不同时按比例缩放像元大小，保持地理范围一致
func scaledTransform(info Info, w, h int) [6]float64 {
	gt := info.Transform
	if info.Width == 0 || info.Height == 0 || (info.Width == w && info.Height == h) {
		return gt
	}
	sx := float64(info.Width) / float64(w)
	sy := float64(info.Height) / float64(h)
	return [6]float64{gt[0], gt[1] * sx, gt[2] * sy, gt[3], gt[4] * sx, gt[5] * sy}
}
