// 包 segment：道路/树木分割，影像 -> 模型推理 -> 与原图同尺寸的二值掩膜
package segment

import (
	"context"
	"fmt"
	"image"

	"golang.org/x/sync/errgroup"

	"roadscan-api/internal/config"
	"roadscan-api/internal/georef"
	"roadscan-api/internal/models"
)

// Predictor：按角色推理，models.Manager 实现该接口
type Predictor interface {
	Predict(ctx context.Context, role string, img models.Image) (models.Image, error)
}

type Segmenter struct {
	pred   Predictor
	models map[string]config.ModelConfig
}

func New(pred Predictor, cfg map[string]config.ModelConfig) *Segmenter {
	return &Segmenter{pred: pred, models: cfg}
}

// Detect：对已解码影像执行指定角色的分割
func (s *Segmenter) Detect(ctx context.Context, role string, img image.Image) (*georef.Mask, error) {
	mc, ok := s.models[role]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownRole, role)
	}
	b := img.Bounds()
	out, err := s.pred.Predict(ctx, role, ToTensor(img, mc.InputSize))
	if err != nil {
		return nil, fmt.Errorf("%s inference: %w", role, err)
	}
	return ToMask(out, mc.Threshold, b.Dx(), b.Dy())
}

func (s *Segmenter) DetectRoad(ctx context.Context, img image.Image) (*georef.Mask, error) {
	return s.Detect(ctx, config.RoleRoad, img)
}

func (s *Segmenter) DetectTrees(ctx context.Context, img image.Image) (*georef.Mask, error) {
	return s.Detect(ctx, config.RoleTree, img)
}

// DetectBoth：道路与树木并发推理，任一失败即取消另一路
func (s *Segmenter) DetectBoth(ctx context.Context, img image.Image) (road, trees *georef.Mask, err error) {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		m, err := s.DetectRoad(egCtx, img)
		road = m
		return err
	})
	eg.Go(func() error {
		m, err := s.DetectTrees(egCtx, img)
		trees = m
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}
	return road, trees, nil
}
