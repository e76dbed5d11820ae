package segment

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"roadscan-api/internal/georef"
	"roadscan-api/internal/models"
)

// ToTensor：缩放到 size x size 并归一化到 [0,1] 的 RGB 张量
func ToTensor(img image.Image, size int) models.Image {
	rs := imaging.Resize(img, size, size, imaging.Linear)
	out := make(models.Image, size)
	for y := 0; y < size; y++ {
		row := make([][]float32, size)
		for x := 0; x < size; x++ {
			i := rs.PixOffset(x, y)
			row[x] = []float32{
				float32(rs.Pix[i]) / 255,
				float32(rs.Pix[i+1]) / 255,
				float32(rs.Pix[i+2]) / 255,
			}
		}
		out[y] = row
	}
	return out
}

// ToMask：取预测第 0 通道按阈值二值化，再用最近邻缩放回 w x h
// 约束：概率严格大于阈值才算前景
func ToMask(pred models.Image, threshold float64, w, h int) (*georef.Mask, error) {
	ph := len(pred)
	if ph == 0 || len(pred[0]) == 0 {
		return nil, fmt.Errorf("empty prediction")
	}
	pw := len(pred[0])
	small := image.NewGray(image.Rect(0, 0, pw, ph))
	for y, row := range pred {
		if len(row) != pw {
			return nil, fmt.Errorf("ragged prediction row %d: %d != %d", y, len(row), pw)
		}
		for x, px := range row {
			if len(px) == 0 {
				return nil, fmt.Errorf("prediction pixel (%d,%d) has no channels", x, y)
			}
			if float64(px[0]) > threshold {
				small.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	m := georef.NewMask(w, h)
	full := imaging.Resize(small, w, h, imaging.NearestNeighbor)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if full.Pix[full.PixOffset(x, y)] > 127 {
				m.Set(x, y, 1)
			}
		}
	}
	return m, nil
}
