// 包 api：集中注册 HTTP API 路由以解耦主入口，便于后续扩展与替换
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/twpayne/go-geom"

	"roadscan-api/internal/georef"
	"roadscan-api/internal/logger"
	"roadscan-api/internal/measure"
	"roadscan-api/internal/metrics"
	"roadscan-api/internal/models"
	"roadscan-api/internal/service"
	"roadscan-api/internal/shape"
	"roadscan-api/internal/store"
)

// Analyzer：service.Analyzer 实现
type Analyzer interface {
	Analyze(ctx context.Context, up service.Upload) (*service.Analysis, error)
	Extend(ctx context.Context, roads, trees []*geom.Polygon, width float64) (*service.ExtendResult, error)
}

// Store：store.Store 实现；未启用数据库时传 nil
type Store interface {
	GetAnalysis(ctx context.Context, id uuid.UUID) (*store.Record, error)
	GetTotals(ctx context.Context) (*store.Totals, error)
	IncrStats(ctx context.Context, endpoint string) error
}

// HealthReporter：models.Manager 实现
type HealthReporter interface {
	Status() map[string]bool
}

type Deps struct {
	Analyzer    Analyzer
	Store       Store
	Models      HealthReporter
	MaxUploadMB int64
}

type handlers struct {
	Deps
	maxBytes int64
}

// 构建并返回 API 路由：独立 ServeMux 便于在主入口挂载到 API_BASE 前缀
func BuildRoutes(d Deps) *http.ServeMux {
	h := &handlers{Deps: d, maxBytes: d.MaxUploadMB << 20}
	if h.maxBytes <= 0 {
		h.maxBytes = 50 << 20
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", h.instrument("upload", h.upload))
	mux.HandleFunc("POST /extend", h.instrument("extend", h.extend))
	mux.HandleFunc("GET /health", h.instrument("health", h.health))
	mux.HandleFunc("GET /analyses/{id}", h.instrument("analyses", h.analysis))
	mux.HandleFunc("GET /stats", h.instrument("stats", h.stats))
	return mux
}

// statusWriter：记录状态码供指标使用
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// instrument：记录请求数、耗时与按日接口统计
func (h *handlers) instrument(endpoint string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t0 := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		fn(sw, r)
		metrics.RequestsTotal.WithLabelValues(endpoint, strconv.Itoa(sw.code)).Inc()
		metrics.RequestDurationMs.WithLabelValues(endpoint).Observe(float64(time.Since(t0).Milliseconds()))
		if h.Store != nil && (endpoint == "upload" || endpoint == "extend") {
			if err := h.Store.IncrStats(r.Context(), endpoint); err != nil {
				logger.L().Debug("stats_incr_error", "endpoint", endpoint, "err", err)
			}
		}
	}
}

func (h *handlers) upload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.maxBytes {
		respondError(w, http.StatusRequestEntityTooLarge, errors.New("upload exceeds size limit"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			respondError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		if !errors.Is(err, http.ErrNotMultipart) {
			respondError(w, http.StatusBadRequest, err)
			return
		}
	}
	f, fh, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, errNoFile)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if len(data) == 0 {
		respondError(w, http.StatusBadRequest, errNoFile)
		return
	}
	width, err := formWidth(r.FormValue("extension_width"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	res, err := h.Analyzer.Analyze(r.Context(), service.Upload{Filename: fh.Filename, Data: data, ExtensionWidth: width})
	if err != nil {
		code := uploadStatus(err)
		logger.L().Error("upload_error", "file", fh.Filename, "code", code, "err", err)
		respondError(w, code, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func uploadStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrNoImage):
		return http.StatusBadRequest
	case errors.Is(err, georef.ErrUnreadable), errors.Is(err, service.ErrBadImage):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) extend(w http.ResponseWriter, r *http.Request) {
	var req extendRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBytes))
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	width, err := ParseWidth(req.ExtensionWidth)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	roads, err := shape.Polygons(req.RoadPolygons)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	trees, err := shape.Polygons(req.TreePolygons)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	res, err := h.Analyzer.Extend(r.Context(), roads, trees, width)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, measure.ErrInvalidWidth) {
			code = http.StatusBadRequest
		}
		logger.L().Error("extend_error", "code", code, "err", err)
		respondError(w, code, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	body := healthBody{Status: "ok", Models: map[string]bool{}}
	if h.Models != nil {
		body.Models = h.Models.Status()
	}
	for _, ok := range body.Models {
		if !ok {
			body.Status = "degraded"
		}
	}
	respondJSON(w, http.StatusOK, body)
}

func (h *handlers) analysis(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		respondError(w, http.StatusServiceUnavailable, errors.New("storage disabled"))
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := h.Store.GetAnalysis(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		logger.L().Error("analysis_get_error", "id", id, "err", err)
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		respondJSON(w, http.StatusOK, store.Totals{})
		return
	}
	t, err := h.Store.GetTotals(r.Context())
	if err != nil {
		logger.L().Error("stats_error", "err", err)
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, code int, err error) {
	respondJSON(w, code, errorBody{Error: err.Error()})
}
