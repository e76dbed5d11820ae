package georef

import (
	"fmt"
	"image"
	"math"

	"github.com/airbusgeo/godal"
)

// 文档注释：读取分割输入像素
// 背景：航拍/卫星 GeoTIFF 常见 4 波段 RGB+NIR、JPEG 压缩与浮点样本，统一交给 GDAL 解码。
// 约束：取前三个波段为 RGB，单/双波段按第一波段灰度复制；非 Byte 类型按波段有效值最小/最大线性拉伸到 0..255，nodata 记为 0。
func ReadRGB(path string) (*image.NRGBA, error) {
	Register()
	ds, err := godal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer ds.Close()
	st := ds.Structure()
	w, h := st.SizeX, st.SizeY
	bands := ds.Bands()
	if w <= 0 || h <= 0 || len(bands) == 0 {
		return nil, fmt.Errorf("%w: empty raster %dx%d with %d bands", ErrUnreadable, w, h, len(bands))
	}
	order := []int{0, 1, 2}
	if len(bands) < 3 {
		order = []int{0, 0, 0}
	}
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for c, bi := range order {
		px, err := readBand8(bands[bi], w, h)
		if err != nil {
			return nil, fmt.Errorf("read band %d: %w", bi+1, err)
		}
		for i, v := range px {
			img.Pix[i*4+c] = v
		}
	}
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	return img, nil
}

func readBand8(b godal.Band, w, h int) ([]uint8, error) {
	if b.Structure().DataType == godal.Byte {
		buf := make([]uint8, w*h)
		if err := b.Read(0, 0, buf, w, h); err != nil {
			return nil, err
		}
		return buf, nil
	}
	buf := make([]float64, w*h)
	if err := b.Read(0, 0, buf, w, h); err != nil {
		return nil, err
	}
	nodata, hasNoData := b.NoData()
	return stretch8(buf, nodata, hasNoData), nil
}

// stretch8：线性拉伸到 0..255；常量波段输出全 0
func stretch8(v []float64, nodata float64, hasNoData bool) []uint8 {
	valid := func(x float64) bool {
		return !math.IsNaN(x) && !math.IsInf(x, 0) && !(hasNoData && x == nodata)
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, x := range v {
		if valid(x) {
			lo = math.Min(lo, x)
			hi = math.Max(hi, x)
		}
	}
	out := make([]uint8, len(v))
	if !(hi > lo) {
		return out
	}
	scale := 255 / (hi - lo)
	for i, x := range v {
		if valid(x) {
			out[i] = uint8(math.Round((x - lo) * scale))
		}
	}
	return out
}
