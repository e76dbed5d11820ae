// 包 bootstrap：服务与命令行工具共用的依赖组装（数据库、缓存、模型后端）
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"

	"roadscan-api/internal/cache"
	"roadscan-api/internal/config"
	"roadscan-api/internal/logger"
	"roadscan-api/internal/migrate"
	"roadscan-api/internal/models"
	"roadscan-api/internal/store"
	"roadscan-api/internal/utils"
)

// Env：已打开的外部依赖；DB/Redis 未启用时为 nil
type Env struct {
	DB    *sql.DB
	Redis *redis.Client
	Store *store.Store
	Cache cache.Cache
}

// Open：按配置打开 PostgreSQL 与 Redis
// 背景：数据库不可用时仍可提供分析服务，只是不落库；Redis 不可用时回退到进程内 LRU。
func Open(ctx context.Context, cfg *config.Config) (*Env, error) {
	l := logger.L()
	env := &Env{}
	if cfg.PGEnable {
		db, err := utils.OpenPostgresFromEnv()
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			l.Error("db_ping_error", "err", err)
			_ = db.Close()
		} else {
			l.Info("db_ping_ok")
			if err := migrate.EnsureSchema(ctx, db); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("ensure schema: %w", err)
			}
			env.DB = db
			env.Store = store.AttachDB(db)
		}
	} else {
		l.Info("db_disabled")
	}
	if cfg.RedisEnable {
		rc := utils.OpenRedisFromEnv()
		if err := rc.Ping(ctx).Err(); err != nil {
			l.Error("redis_ping_error", "err", err)
			_ = rc.Close()
		} else {
			l.Info("redis_ping_ok")
			env.Redis = rc
		}
	} else {
		l.Info("redis_disabled")
	}
	env.Cache = cache.New(env.Redis, cfg.CacheTTL)
	return env, nil
}

func (e *Env) Close() {
	if e.DB != nil {
		_ = e.DB.Close()
	}
	if e.Redis != nil {
		_ = e.Redis.Close()
	}
}

// Models：为每个角色注册 TF Serving 后端
func Models(cfg *config.Config) *models.Manager {
	m := models.NewManager()
	for role, mc := range cfg.Models {
		m.Register(role, models.NewTFServing(mc.URL, mc.Name, mc.Timeout()))
		logger.L().Info("model_register", "role", role, "name", mc.Name, "url", mc.URL)
	}
	return m
}
