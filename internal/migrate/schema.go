package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"roadscan-api/internal/logger"
)

// EnsureSchema：首次运行创建分析记录与统计表
// 约束：全部语句为 IF NOT EXISTS，可重复执行
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _rs_analyses (
            id UUID PRIMARY KEY,
            filename TEXT NOT NULL,
            sha256 TEXT NOT NULL,
            crs TEXT NOT NULL DEFAULT '',
            road_count INT NOT NULL DEFAULT 0,
            tree_count INT NOT NULL DEFAULT 0,
            extension_width DOUBLE PRECISION,
            result JSONB NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
		`CREATE INDEX IF NOT EXISTS idx_rs_analyses_sha ON _rs_analyses(sha256)`,
		`CREATE INDEX IF NOT EXISTS idx_rs_analyses_created ON _rs_analyses(created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS _rs_stats_daily (
            day DATE NOT NULL,
            endpoint TEXT NOT NULL,
            requests BIGINT NOT NULL DEFAULT 0,
            PRIMARY KEY (day, endpoint)
        )`,
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("schema stmt %d: %w", i, err)
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
