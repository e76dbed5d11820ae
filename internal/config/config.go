// 包 config：集中读取环境变量与模型注册文件，主入口与命令行工具共用
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// 模型角色：上传流程固定使用两个角色
const (
	RoleRoad = "road"
	RoleTree = "tree"
)

// ModelConfig：单个分割模型的后端描述
// 约束：InputSize 为模型要求的正方形边长；Threshold 为前景概率阈值
type ModelConfig struct {
	Role      string  `yaml:"role"`
	Name      string  `yaml:"name"`
	URL       string  `yaml:"url"`
	InputSize int     `yaml:"input_size"`
	Threshold float64 `yaml:"threshold"`
	TimeoutS  int     `yaml:"timeout_s"`
}

// Timeout：推理请求超时，未配置时为 60s
func (m ModelConfig) Timeout() time.Duration {
	if m.TimeoutS <= 0 {
		return 60 * time.Second
	}
	return time.Duration(m.TimeoutS) * time.Second
}

type Config struct {
	Addr         string
	APIBase      string
	UploadFolder string
	KeepUploads  bool
	MaxUploadMB  int64

	// RetentionDays 为 0 表示不清理
	RetentionDays int
	RetentionHour int

	Models map[string]ModelConfig

	PGEnable    bool
	RedisEnable bool

	// CacheTTL 为 0 表示不过期
	CacheTTL time.Duration

	CORSOrigin string
	TLSEnable  bool
	TLSCert    string
	TLSKey     string
}

type modelsFile struct {
	Models []ModelConfig `yaml:"models"`
}

// LoadDotenv：依次加载 .env 与 data/env/.env，文件不存在时忽略
func LoadDotenv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
}

// Load：读取环境变量构建配置；MODELS_FILE 存在时按文件覆盖对应角色
func Load() (*Config, error) {
	c := &Config{
		Addr:          getEnv("ADDR", ":8080"),
		APIBase:       strings.TrimRight(getEnv("API_BASE", ""), "/"),
		UploadFolder:  getEnv("UPLOAD_FOLDER", "uploads"),
		KeepUploads:   getBool("KEEP_UPLOADS", true),
		MaxUploadMB:   int64(getInt("MAX_UPLOAD_MB", 50)),
		RetentionDays: getNonNegInt("RETENTION_DAYS", 0),
		RetentionHour: getNonNegInt("RETENTION_HOUR", 3),
		PGEnable:      getBool("PG_ENABLE", true),
		RedisEnable:   getBool("REDIS_ENABLE", true),
		CacheTTL:      time.Duration(getNonNegInt("CACHE_TTL_S", 86400)) * time.Second,
		CORSOrigin:    getEnv("CORS_ORIGIN", "*"),
		TLSEnable:     getBool("TLS_ENABLE", false),
		TLSCert:       getEnv("TLS_CERT_PATH", filepath.Join("data", "certs", "server.crt")),
		TLSKey:        getEnv("TLS_KEY_PATH", filepath.Join("data", "certs", "server.key")),
	}
	if c.RetentionHour > 23 {
		return nil, fmt.Errorf("RETENTION_HOUR must be in [0,23], got %d", c.RetentionHour)
	}
	serverURL := strings.TrimRight(getEnv("MODEL_SERVER_URL", "http://localhost:8501"), "/")
	size := getInt("MODEL_INPUT_SIZE", 256)
	th := getFloat("MODEL_THRESHOLD", 0.5)
	c.Models = map[string]ModelConfig{
		RoleRoad: {Role: RoleRoad, Name: getEnv("ROAD_MODEL", "road_unet_resnet"), URL: serverURL, InputSize: size, Threshold: th},
		RoleTree: {Role: RoleTree, Name: getEnv("TREE_MODEL", "tree_unet_resnet_finetune"), URL: serverURL, InputSize: size, Threshold: th},
	}
	if p := os.Getenv("MODELS_FILE"); p != "" {
		if err := c.loadModelsFile(p); err != nil {
			return nil, err
		}
	}
	for role, m := range c.Models {
		if err := m.validate(); err != nil {
			return nil, fmt.Errorf("model %s: %w", role, err)
		}
	}
	return c, nil
}

// loadModelsFile：YAML 中的字段为空时保留环境变量给出的值
func (c *Config) loadModelsFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read models file: %w", err)
	}
	var f modelsFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("parse models file: %w", err)
	}
	for _, m := range f.Models {
		base, ok := c.Models[m.Role]
		if !ok {
			return fmt.Errorf("models file: unknown role %q", m.Role)
		}
		if m.Name != "" {
			base.Name = m.Name
		}
		if m.URL != "" {
			base.URL = strings.TrimRight(m.URL, "/")
		}
		if m.InputSize > 0 {
			base.InputSize = m.InputSize
		}
		if m.Threshold > 0 {
			base.Threshold = m.Threshold
		}
		if m.TimeoutS > 0 {
			base.TimeoutS = m.TimeoutS
		}
		c.Models[m.Role] = base
	}
	return nil
}

func (m ModelConfig) validate() error {
	if m.Name == "" || m.URL == "" {
		return fmt.Errorf("name and url are required")
	}
	if m.InputSize <= 0 {
		return fmt.Errorf("input_size must be positive, got %d", m.InputSize)
	}
	if m.Threshold <= 0 || m.Threshold >= 1 {
		return fmt.Errorf("threshold must be in (0,1), got %v", m.Threshold)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// getNonNegInt：0 是合法取值（如午夜清理、缓存不过期），负数与非法值回退默认
func getNonNegInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if s := os.Getenv(key); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	return s == "true" || s == "1"
}
