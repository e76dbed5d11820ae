// 包 georef：通过 GDAL 读取影像地理参考信息，并把二值掩膜矢量化为地理坐标多边形
package georef

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/airbusgeo/godal"
	"github.com/twpayne/go-geom"
)

var registerOnce sync.Once

// Register：注册 GDAL/OGR 驱动，进程内只执行一次
func Register() { registerOnce.Do(godal.RegisterAll) }

var ErrUnreadable = errors.New("raster is not readable")

// 无地理参考时 GDAL 的默认仿射：像素坐标即输出坐标
var identityTransform = [6]float64{0, 1, 0, 0, 0, 1}

// Info：影像的地理参考与尺寸
// CRS 优先输出 "权威:编码"（如 EPSG:32633），无法识别时为 WKT；无坐标系时为空
// Transform 采用 GDAL 顺序 [x0, dx, rx, y0, ry, dy]；Bounds 为 [minx, miny, maxx, maxy]
type Info struct {
	CRS           string     `json:"crs"`
	WKT           string     `json:"-"`
	Transform     [6]float64 `json:"transform"`
	Bounds        [4]float64 `json:"bounds"`
	Width         int        `json:"width"`
	Height        int        `json:"height"`
	Georeferenced bool       `json:"georeferenced"`
}

// Read：打开影像读取坐标系、仿射变换与范围
func Read(path string) (Info, error) {
	Register()
	ds, err := godal.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer ds.Close()
	st := ds.Structure()
	info := Info{Width: st.SizeX, Height: st.SizeY, Transform: identityTransform}
	if info.Width <= 0 || info.Height <= 0 {
		return Info{}, fmt.Errorf("%w: empty raster %dx%d", ErrUnreadable, info.Width, info.Height)
	}
	if gt, err := ds.GeoTransform(); err == nil && gt != ([6]float64{}) {
		info.Transform = gt
		info.Georeferenced = gt != identityTransform
	}
	// 无坐标系时 SpatialRef 包装空句柄，以导出 WKT 的结果为准
	sr := ds.SpatialRef()
	defer sr.Close()
	if wkt, err := sr.WKT(); err == nil && wkt != "" {
		info.WKT = wkt
		info.CRS = crsString(sr, wkt)
	}
	info.Bounds = Bounds(info.Transform, info.Width, info.Height)
	return info, nil
}

func crsString(sr *godal.SpatialRef, wkt string) string {
	name, code := sr.AuthorityName(""), sr.AuthorityCode("")
	if name != "" && code != "" {
		return name + ":" + code
	}
	return wkt
}

// Bounds：按仿射把四个角点投影后取外包矩形
func Bounds(gt [6]float64, width, height int) [4]float64 {
	b := [4]float64{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for _, c := range [][2]float64{{0, 0}, {float64(width), 0}, {0, float64(height)}, {float64(width), float64(height)}} {
		x, y := PixelToGeo(gt, c[0], c[1])
		b[0] = math.Min(b[0], x)
		b[1] = math.Min(b[1], y)
		b[2] = math.Max(b[2], x)
		b[3] = math.Max(b[3], y)
	}
	return b
}

// PixelToGeo：像素（列、行）到地理坐标
func PixelToGeo(gt [6]float64, col, row float64) (float64, float64) {
	return gt[0] + col*gt[1] + row*gt[2], gt[3] + col*gt[4] + row*gt[5]
}

// GDAL：把包级函数包装为接口实现，便于上层注入替身
type GDAL struct{}

func (GDAL) Read(path string) (Info, error) { return Read(path) }

func (GDAL) RGB(path string) (*image.NRGBA, error) { return ReadRGB(path) }

func (GDAL) Polygonize(m *Mask, info Info) ([]*geom.Polygon, error) { return Polygonize(m, info) }
