// 包 service：上传影像分析与道路外扩计数的业务编排
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"roadscan-api/internal/cache"
	"roadscan-api/internal/config"
	"roadscan-api/internal/georef"
	"roadscan-api/internal/logger"
	"roadscan-api/internal/measure"
	"roadscan-api/internal/metrics"
	"roadscan-api/internal/segment"
	"roadscan-api/internal/shape"
	"roadscan-api/internal/store"
)

var (
	ErrNoImage  = errors.New("no image data provided")
	ErrBadImage = errors.New("image could not be decoded")
)

// Raster：地理参考读取与掩膜矢量化，georef.GDAL 实现
type Raster interface {
	Read(path string) (georef.Info, error)
	RGB(path string) (*image.NRGBA, error)
	Polygonize(m *georef.Mask, info georef.Info) ([]*geom.Polygon, error)
}

// Detector：道路/树木分割，segment.Segmenter 实现
type Detector interface {
	DetectBoth(ctx context.Context, img image.Image) (road, trees *georef.Mask, err error)
}

// Recorder：分析结果持久化，store.Store 实现
type Recorder interface {
	SaveAnalysis(ctx context.Context, r *store.Record) error
}

type Upload struct {
	Filename       string
	Data           []byte
	ExtensionWidth *float64
}

// Analysis：/upload 的响应体
type Analysis struct {
	ID             string              `json:"id"`
	CRS            string              `json:"crs"`
	Bounds         [4]float64          `json:"bounds"`
	RoadPolygons   []*geojson.Geometry `json:"road_polygons"`
	TreePolygons   []*geojson.Geometry `json:"tree_polygons"`
	Metrics        []measure.Metrics   `json:"metrics"`
	ExtensionWidth *float64            `json:"extension_width,omitempty"`
	TreeCount      *int                `json:"tree_count,omitempty"`
}

// ExtendResult：/extend 的响应体
type ExtendResult struct {
	ExtendedPolygons []*geojson.Geometry `json:"extended_polygons"`
	TreeCount        int                 `json:"tree_count"`
	UniqueTreeCount  int                 `json:"unique_tree_count"`
}

type Analyzer struct {
	uploadDir   string
	keepUploads bool
	raster      Raster
	detector    Detector
	recorder    Recorder
	cache       cache.Cache
}

type Option func(*Analyzer)

func WithRecorder(r Recorder) Option { return func(a *Analyzer) { a.recorder = r } }

func WithCache(c cache.Cache) Option { return func(a *Analyzer) { a.cache = c } }

func WithKeepUploads(keep bool) Option { return func(a *Analyzer) { a.keepUploads = keep } }

func NewAnalyzer(uploadDir string, raster Raster, detector Detector, opts ...Option) *Analyzer {
	a := &Analyzer{uploadDir: uploadDir, keepUploads: true, raster: raster, detector: detector}
	for _, o := range opts {
		o(a)
	}
	return a
}

// NewDefault：按配置组装 GDAL + 模型分割的分析器
func NewDefault(cfg *config.Config, pred segment.Predictor, opts ...Option) *Analyzer {
	opts = append([]Option{WithKeepUploads(cfg.KeepUploads)}, opts...)
	return NewAnalyzer(cfg.UploadFolder, georef.GDAL{}, segment.New(pred, cfg.Models), opts...)
}

// Analyze：保存影像 -> 读取地理参考 -> 道路/树木分割 -> 矢量化 -> 度量
// 相同内容与外扩宽度的请求直接返回缓存结果
func (a *Analyzer) Analyze(ctx context.Context, up Upload) (*Analysis, error) {
	if len(up.Data) == 0 {
		return nil, ErrNoImage
	}
	key := cache.UploadKey(up.Data, up.ExtensionWidth)
	if a.cache != nil {
		if b, ok := a.cache.Get(ctx, key); ok {
			var cached Analysis
			if err := json.Unmarshal(b, &cached); err == nil {
				logger.L().Debug("upload_cache_hit", "id", cached.ID)
				return &cached, nil
			}
		}
	}

	path, err := a.save(up)
	if err != nil {
		return nil, err
	}
	if !a.keepUploads {
		defer os.Remove(path)
	}

	info, err := a.raster.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read georeference: %w", err)
	}
	img, err := a.raster.RGB(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	roadMask, treeMask, err := a.detector.DetectBoth(ctx, img)
	if err != nil {
		return nil, err
	}
	roads, err := a.raster.Polygonize(roadMask, info)
	if err != nil {
		return nil, fmt.Errorf("road polygons: %w", err)
	}
	trees, err := a.raster.Polygonize(treeMask, info)
	if err != nil {
		return nil, fmt.Errorf("tree polygons: %w", err)
	}
	metrics.PolygonsTotal.WithLabelValues(config.RoleRoad).Add(float64(len(roads)))
	metrics.PolygonsTotal.WithLabelValues(config.RoleTree).Add(float64(len(trees)))

	res, err := a.describe(info, roads, trees, up.ExtensionWidth)
	if err != nil {
		return nil, err
	}
	res.ID = uuid.NewString()
	logger.L().Info("upload_analyzed", "id", res.ID, "file", up.Filename, "crs", info.CRS, "roads", len(roads), "trees", len(trees))

	body, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode analysis: %w", err)
	}
	a.persist(ctx, up, res, len(trees), body)
	if a.cache != nil {
		a.cache.Set(ctx, key, body)
	}
	return res, nil
}

func (a *Analyzer) describe(info georef.Info, roads, trees []*geom.Polygon, width *float64) (*Analysis, error) {
	eng := measure.New()
	res := &Analysis{CRS: info.CRS, Bounds: info.Bounds, ExtensionWidth: width, Metrics: make([]measure.Metrics, 0, len(roads))}
	treeGeoms := measure.Polygons(trees)
	total := 0
	for i, p := range roads {
		m, err := eng.CalculateMetrics(p)
		if err != nil {
			return nil, fmt.Errorf("road %d metrics: %w", i, err)
		}
		if width != nil {
			ext, err := eng.ExtendRoad(p, *width)
			if err != nil {
				return nil, fmt.Errorf("road %d extend: %w", i, err)
			}
			n, err := eng.CountTrees(treeGeoms, ext)
			if err != nil {
				return nil, fmt.Errorf("road %d tree count: %w", i, err)
			}
			m.TreeCount = &n
			total += n
		}
		res.Metrics = append(res.Metrics, m)
	}
	if width != nil {
		res.TreeCount = &total
	}
	var err error
	if res.RoadPolygons, err = shape.EncodeAll(roads); err != nil {
		return nil, err
	}
	if res.TreePolygons, err = shape.EncodeAll(trees); err != nil {
		return nil, err
	}
	return res, nil
}

// persist：写库失败只记录日志，不影响本次响应
func (a *Analyzer) persist(ctx context.Context, up Upload, res *Analysis, treeCount int, body []byte) {
	if a.recorder == nil {
		return
	}
	sum := sha256.Sum256(up.Data)
	rec := &store.Record{
		ID:             uuid.MustParse(res.ID),
		Filename:       up.Filename,
		SHA256:         hex.EncodeToString(sum[:]),
		CRS:            res.CRS,
		RoadCount:      len(res.RoadPolygons),
		TreeCount:      treeCount,
		ExtensionWidth: up.ExtensionWidth,
		Result:         body,
	}
	if err := a.recorder.SaveAnalysis(ctx, rec); err != nil {
		logger.L().Error("analysis_save_error", "id", res.ID, "err", err)
	}
}

// save：写入上传目录；文件名取客户端名称的最后一段并加 uuid 前缀
func (a *Analyzer) save(up Upload) (string, error) {
	if err := os.MkdirAll(a.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(a.uploadDir, uuid.NewString()+"_"+SafeName(up.Filename))
	if err := os.WriteFile(path, up.Data, 0o644); err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	logger.L().Debug("upload_saved", "path", path, "bytes", len(up.Data))
	return path, nil
}

// SafeName：去掉目录部分与不可见字符，空名回退为 upload
func SafeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := filepath.Base(name)
	base = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, base)
	if base == "." || base == "/" || base == ".." || base == "" {
		return "upload"
	}
	return base
}

// Extend：道路外扩并统计缓冲区内树木
// tree_count 为各缓冲区计数之和，同一棵树落在多个缓冲区会重复计数；unique_tree_count 去重
func (a *Analyzer) Extend(ctx context.Context, roads, trees []*geom.Polygon, width float64) (*ExtendResult, error) {
	eng := measure.New()
	treeGeoms := measure.Polygons(trees)
	extended := make([]geom.T, 0, len(roads))
	total := 0
	for i, p := range roads {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ext, err := eng.ExtendRoad(p, width)
		if err != nil {
			return nil, fmt.Errorf("road %d: %w", i, err)
		}
		n, err := eng.CountTrees(treeGeoms, ext)
		if err != nil {
			return nil, fmt.Errorf("road %d: %w", i, err)
		}
		extended = append(extended, ext)
		total += n
	}
	unique, err := eng.CountUniqueTrees(treeGeoms, extended)
	if err != nil {
		return nil, err
	}
	polys, err := shape.EncodeAll(extended)
	if err != nil {
		return nil, err
	}
	logger.L().Debug("roads_extended", "roads", len(roads), "trees", len(trees), "width", width, "count", total)
	return &ExtendResult{ExtendedPolygons: polys, TreeCount: total, UniqueTreeCount: unique}, nil
}
