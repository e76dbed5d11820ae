// 程序入口：仅负责读取配置、初始化依赖并启动服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"roadscan-api/internal/api"
	"roadscan-api/internal/bootstrap"
	"roadscan-api/internal/config"
	"roadscan-api/internal/georef"
	"roadscan-api/internal/logger"
	"roadscan-api/internal/metrics"
	"roadscan-api/internal/middleware"
	"roadscan-api/internal/retention"
	"roadscan-api/internal/service"
	"roadscan-api/internal/utils"
)

func main() {
	config.LoadDotenv()
	l := logger.Setup()
	l.Debug("log_init_ok")
	cfg, err := config.Load()
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	l.Debug("config_api_base", "base", cfg.APIBase)
	if err := os.MkdirAll(cfg.UploadFolder, 0o755); err != nil {
		l.Error("upload_dir_error", "dir", cfg.UploadFolder, "err", err)
		os.Exit(1)
	}
	georef.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		l.Error("deps_open_error", "err", err)
		os.Exit(1)
	}
	defer env.Close()

	// 文档注释：模型管理器初始化
	// 背景：道路/树木两个分割后端统一登记，后台心跳；不健康的后端直接拒绝推理。
	mm := bootstrap.Models(cfg)
	mm.Start(ctx)

	// 文档注释：保留期清理（RETENTION_DAYS > 0 时启用）
	var pruner retention.Pruner
	if env.Store != nil {
		pruner = env.Store
	}
	retention.Start(ctx, cfg.UploadFolder, time.Duration(cfg.RetentionDays)*24*time.Hour, cfg.RetentionHour, pruner)

	opts := []service.Option{service.WithCache(env.Cache)}
	deps := api.Deps{Models: mm, MaxUploadMB: cfg.MaxUploadMB}
	if env.Store != nil {
		opts = append(opts, service.WithRecorder(env.Store))
		deps.Store = env.Store
	}
	deps.Analyzer = service.NewDefault(cfg, mm, opts...)

	mux := http.NewServeMux()
	apiMux := api.BuildRoutes(deps)
	mux.Handle(cfg.APIBase+"/metrics", metrics.Handler())
	if cfg.APIBase == "" {
		mux.Handle("/", apiMux)
	} else {
		mux.Handle(cfg.APIBase+"/", http.StripPrefix(cfg.APIBase, apiMux))
	}

	s := &http.Server{Addr: cfg.Addr, Handler: buildHandler(l, mux, cfg.CORSOrigin), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		l.Info("shutdown_begin")
		_ = s.Shutdown(sctx)
	}()

	if cfg.TLSEnable {
		if err := utils.EnsureSelfSignedCert(cfg.TLSCert, cfg.TLSKey, "roadscan.local"); err != nil {
			l.Error("tls_cert_error", "err", err)
			os.Exit(1)
		}
		// 可选：启动HTTP重定向到HTTPS（不改变HTTPS运行端口）
		if os.Getenv("TLS_REDIRECT_ENABLE") == "true" {
			go redirectToHTTPS(l, cfg.Addr)
		}
		l.Info("listening_tls", "addr", cfg.Addr, "cert", cfg.TLSCert)
		serveDone(l, s.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey))
		return
	}
	l.Info("listening", "addr", cfg.Addr)
	serveDone(l, s.ListenAndServe())
}

// buildHandler：访问日志在最外层，限流与白名单拒绝的请求同样记录
func buildHandler(l *slog.Logger, mux http.Handler, corsOrigin string) http.Handler {
	return logger.AccessMiddleware(l)(middleware.Wrap(mux, corsOrigin))
}

func serveDone(l *slog.Logger, err error) {
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.Error("server_error", "err", err)
		os.Exit(1)
	}
}

func redirectToHTTPS(l *slog.Logger, addr string) {
	redirAddr := os.Getenv("TLS_REDIRECT_ADDR")
	if redirAddr == "" {
		redirAddr = ":80"
	}
	httpsPort := strings.TrimPrefix(addr, ":")
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if i := strings.LastIndex(host, ":"); i != -1 {
			host = host[:i]
		}
		if httpsPort != "" {
			host = host + ":" + httpsPort
		}
		target := "https://" + host + r.URL.RequestURI()
		http.Redirect(w, r, target, http.StatusMovedPermanently)
		l.Debug("http_redirect", "from", r.Host, "to", target)
	})
	l.Info("http_redirect_listening", "addr", redirAddr, "to", "https"+addr)
	srv := &http.Server{Addr: redirAddr, Handler: logger.AccessMiddleware(l)(mux), ReadHeaderTimeout: 10 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		l.Error("http_redirect_error", "err", err)
	}
}
