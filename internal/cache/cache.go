// 包 cache：上传分析结果缓存；优先 Redis，未配置时退回进程内 LRU
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"roadscan-api/internal/logger"
	"roadscan-api/internal/metrics"
)

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte)
}

// Redis：键统一加 "roadscan:" 前缀
// 约束：读写失败只记日志，不影响主流程
type Redis struct {
	rc  *redis.Client
	ttl time.Duration
}

func NewRedis(rc *redis.Client, ttl time.Duration) *Redis { return &Redis{rc: rc, ttl: ttl} }

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := r.rc.Get(ctx, "roadscan:"+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.L().Warn("redis_get_error", "key", key, "err", err)
		}
		return nil, false
	}
	return b, true
}

func (r *Redis) Set(ctx context.Context, key string, val []byte) {
	if err := r.rc.Set(ctx, "roadscan:"+key, val, r.ttl).Err(); err != nil {
		logger.L().Warn("redis_set_error", "key", key, "err", err)
	}
}

// New：rc 为 nil 时返回容量 512 的 LRU
func New(rc *redis.Client, ttl time.Duration) Cache {
	if rc == nil {
		return Counted{NewLRU(512, ttl)}
	}
	return Counted{NewRedis(rc, ttl)}
}

// Counted：统计命中与未命中
type Counted struct{ Cache }

func (c Counted) Get(ctx context.Context, key string) ([]byte, bool) {
	b, ok := c.Cache.Get(ctx, key)
	if ok {
		metrics.CacheHitsTotal.Inc()
	} else {
		metrics.CacheMissesTotal.Inc()
	}
	return b, ok
}

// UploadKey：影像内容摘要 + 外扩宽度；宽度为 nil 表示未请求树木计数
func UploadKey(data []byte, width *float64) string {
	sum := sha256.Sum256(data)
	k := "upload:" + hex.EncodeToString(sum[:])
	if width != nil {
		k += ":w" + strconv.FormatFloat(*width, 'g', -1, 64)
	}
	return k
}
