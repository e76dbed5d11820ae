package middleware

import (
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"roadscan-api/internal/logger"
)

// 文档注释：令牌桶限流（每秒重置）
// 背景：上传接口会触发两次模型推理，入口限速避免把模型服务压垮。
// 约束：不排队，超出即返回 429；容量即每秒允许的请求数。
type TokenBucket struct {
	mu       sync.Mutex
	capacity int
	tokens   int
	lastSec  int64
	now      func() time.Time
}

func NewTokenBucket(qps int) *TokenBucket {
	tb := &TokenBucket{capacity: qps, tokens: qps, now: time.Now}
	tb.lastSec = tb.now().Unix()
	return tb
}

func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	sec := tb.now().Unix()
	if sec != tb.lastSec {
		tb.lastSec = sec
		tb.tokens = tb.capacity
	}
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// RateLimit：按桶放行请求，桶为 nil 时直接透传
func RateLimit(tb *TokenBucket) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if tb == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !tb.Allow() {
				logger.L().Debug("rate_limited", "path", r.URL.Path, "ip", r.RemoteAddr)
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Wrap：按环境变量组装中间件链（CORS -> 白名单 -> 限流 -> 业务）
func Wrap(next http.Handler, corsOrigin string) http.Handler {
	h := next
	if os.Getenv("RATE_LIMIT_ENABLED") == "true" {
		qps := 20
		if s := os.Getenv("RATE_LIMIT_QPS"); s != "" {
			if n, e := strconv.Atoi(s); e == nil && n > 0 {
				qps = n
			}
		}
		logger.L().Info("rate_limit_enabled", "qps", qps)
		h = RateLimit(NewTokenBucket(qps))(h)
	}
	if os.Getenv("ACCESS_ALLOWLIST_ENABLE") == "true" {
		logger.L().Info("allowlist_enabled")
		h = AllowlistFromEnv().Handler(h)
	}
	return CORS(corsOrigin)(h)
}
