// 包 store：PostgreSQL 数据访问层，保存上传分析结果与按日请求统计
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"roadscan-api/internal/logger"
)

var ErrNotFound = errors.New("analysis not found")

type Store struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) DB() *sql.DB { return s.db }

// Record：一次上传分析的持久化记录；Result 为返回给客户端的完整 JSON
type Record struct {
	ID             uuid.UUID       `json:"id"`
	Filename       string          `json:"filename"`
	SHA256         string          `json:"sha256"`
	CRS            string          `json:"crs"`
	RoadCount      int             `json:"road_count"`
	TreeCount      int             `json:"tree_count"`
	ExtensionWidth *float64        `json:"extension_width,omitempty"`
	Result         json.RawMessage `json:"result"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (s *Store) SaveAnalysis(ctx context.Context, r *Record) error {
	var width sql.NullFloat64
	if r.ExtensionWidth != nil {
		width = sql.NullFloat64{Float64: *r.ExtensionWidth, Valid: true}
	}
	err := s.db.QueryRowContext(ctx, `INSERT INTO _rs_analyses(id, filename, sha256, crs, road_count, tree_count, extension_width, result)
        VALUES($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING created_at`,
		r.ID, r.Filename, r.SHA256, r.CRS, r.RoadCount, r.TreeCount, width, []byte(r.Result),
	).Scan(&r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	logger.L().Debug("db_analysis_saved", "id", r.ID, "roads", r.RoadCount, "trees", r.TreeCount)
	return nil
}

func (s *Store) GetAnalysis(ctx context.Context, id uuid.UUID) (*Record, error) {
	var r Record
	var width sql.NullFloat64
	var result []byte
	err := s.db.QueryRowContext(ctx, `SELECT id, filename, sha256, crs, road_count, tree_count, extension_width, result, created_at
        FROM _rs_analyses WHERE id=$1`, id).
		Scan(&r.ID, &r.Filename, &r.SHA256, &r.CRS, &r.RoadCount, &r.TreeCount, &width, &result, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select analysis: %w", err)
	}
	if width.Valid {
		w := width.Float64
		r.ExtensionWidth = &w
	}
	r.Result = result
	return &r, nil
}

// IncrStats：当日该接口请求数 +1
func (s *Store) IncrStats(ctx context.Context, endpoint string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO _rs_stats_daily(day, endpoint, requests) VALUES(current_date, $1, 1)
        ON CONFLICT (day, endpoint) DO UPDATE SET requests=_rs_stats_daily.requests+1`, endpoint)
	if err != nil {
		return fmt.Errorf("incr stats: %w", err)
	}
	return nil
}

type Totals struct {
	Total int64 `json:"total"`
	Today int64 `json:"today"`
}

// GetTotals：上传分析累计数与当日数
func (s *Store) GetTotals(ctx context.Context) (*Totals, error) {
	var t Totals
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1), COUNT(1) FILTER (WHERE created_at >= current_date) FROM _rs_analyses`).
		Scan(&t.Total, &t.Today)
	if err != nil {
		return nil, fmt.Errorf("select totals: %w", err)
	}
	return &t, nil
}

// PruneAnalyses：删除早于 before 的分析记录，返回删除行数
func (s *Store) PruneAnalyses(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM _rs_analyses WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune analyses: %w", err)
	}
	return res.RowsAffected()
}
