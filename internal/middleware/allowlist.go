package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"os"
	"strings"

	"roadscan-api/internal/logger"
)

// 文档注释：来源 IP 白名单
// 背景：推理代价高，部署在内网网关之后时只允许网关与调试机直连；其他来源统一 403。
// 约束：支持 IPv4/IPv6 单 IP 与 CIDR；来源 IP 默认取 RemoteAddr，指定 realIPHeader 时取该头的首个有效 IP。
type Allowlist struct {
	prefixes     []netip.Prefix
	realIPHeader string
}

// NewAllowlist：单 IP 视为 /32 或 /128；无法解析的条目忽略并记录日志
func NewAllowlist(entries []string, realIPHeader string) *Allowlist {
	a := &Allowlist{realIPHeader: strings.TrimSpace(realIPHeader)}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if p, err := netip.ParsePrefix(e); err == nil {
			a.prefixes = append(a.prefixes, p.Masked())
			continue
		}
		if ip, err := netip.ParseAddr(e); err == nil {
			a.prefixes = append(a.prefixes, netip.PrefixFrom(ip.Unmap(), ip.Unmap().BitLen()))
			continue
		}
		logger.L().Warn("allowlist_entry_invalid", "entry", e)
	}
	return a
}

// AllowlistFromEnv：ACCESS_ALLOW_IPS / ACCESS_ALLOW_CIDRS 逗号分隔；ACCESS_ALLOW_LOCAL=true 放行回环地址
func AllowlistFromEnv() *Allowlist {
	var entries []string
	entries = append(entries, strings.Split(os.Getenv("ACCESS_ALLOW_IPS"), ",")...)
	entries = append(entries, strings.Split(os.Getenv("ACCESS_ALLOW_CIDRS"), ",")...)
	if os.Getenv("ACCESS_ALLOW_LOCAL") == "true" {
		entries = append(entries, "127.0.0.1", "::1")
	}
	return NewAllowlist(entries, os.Getenv("ACCESS_REAL_IP_HEADER"))
}

func (a *Allowlist) Allowed(ip netip.Addr) bool {
	ip = ip.Unmap()
	for _, p := range a.prefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

func (a *Allowlist) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, ok := a.sourceIP(r)
		if !ok || !a.Allowed(ip) {
			logger.L().Debug("allowlist_block", "remote", r.RemoteAddr)
			w.Header().Set("content-type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"forbidden"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Allowlist) sourceIP(r *http.Request) (netip.Addr, bool) {
	if a.realIPHeader != "" {
		if raw := r.Header.Get(a.realIPHeader); raw != "" {
			first, _, _ := strings.Cut(raw, ",")
			if ip, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
				return ip, true
			}
		}
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	ip, err := netip.ParseAddr(host)
	return ip, err == nil
}
