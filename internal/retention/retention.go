// 包 retention：按保留期清理上传目录与历史分析记录，运行在服务进程内的后台协程
package retention

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"roadscan-api/internal/logger"
)

// Pruner：删除早于 before 的分析记录，store.Store 实现
type Pruner interface {
	PruneAnalyses(ctx context.Context, before time.Time) (int64, error)
}

// nextDailyAt：下一个整点 hour 的时间点（不含当天已过时的时刻）
func nextDailyAt(now time.Time, hour int) time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// SweepUploads：删除目录下修改时间早于 before 的普通文件，返回删除数量
// 约束：不递归子目录；单个文件删除失败不影响其余文件
func SweepUploads(dir string, before time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read upload dir: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(before) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if err := os.Remove(p); err != nil {
			logger.L().Warn("retention_remove_error", "path", p, "err", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// Run：执行一次清理；pr 为 nil 时只清理文件
func Run(ctx context.Context, dir string, maxAge time.Duration, pr Pruner) {
	l := logger.L()
	before := time.Now().Add(-maxAge)
	n, err := SweepUploads(dir, before)
	if err != nil {
		l.Error("retention_sweep_error", "err", err)
	} else {
		l.Info("retention_sweep_done", "removed", n, "before", before)
	}
	if pr == nil {
		return
	}
	rows, err := pr.PruneAnalyses(ctx, before)
	if err != nil {
		l.Error("retention_prune_error", "err", err)
		return
	}
	l.Info("retention_prune_done", "rows", rows)
}

// Start：每天 hour 点清理一次，ctx 取消时退出
// 约束：maxAge <= 0 时不启动
func Start(ctx context.Context, dir string, maxAge time.Duration, hour int, pr Pruner) {
	if maxAge <= 0 {
		return
	}
	next := nextDailyAt(time.Now(), hour)
	logger.L().Info("retention_scheduled", "next", next, "max_age", maxAge.String())
	go func() {
		for {
			t := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			Run(ctx, dir, maxAge, pr)
			next = nextDailyAt(time.Now(), hour)
		}
	}()
}
