package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/zhouzirui/duel-arena/backend/internal/service/duel"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	Duel   DuelConfig
}

// ServerConfig 描述 HTTP/WebSocket 服务配置。
type ServerConfig struct {
	Port           string   `env:"PORT" envDefault:"8080"`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	ArenaBaseURL   string   `env:"ARENA_BASE_URL" envDefault:"http://localhost:8080/arena" validate:"required,url"`

	// Addr 由 Port 推导，不直接读取环境变量。
	Addr string
}

// DuelConfig 描述对决规则与清理策略。
type DuelConfig struct {
	StartHealth   int           `env:"DUEL_START_HEALTH" envDefault:"100" validate:"min=1,max=100"`
	Damage        int           `env:"DUEL_DAMAGE" envDefault:"10" validate:"min=1"`
	IdleGrace     time.Duration `env:"DUEL_IDLE_GRACE" envDefault:"2m" validate:"gt=0"`
	SweepInterval time.Duration `env:"DUEL_SWEEP_INTERVAL" envDefault:"30s" validate:"gt=0"`
}

// Rules 转换为对决状态机使用的规则。
func (c DuelConfig) Rules() duel.Rules {
	return duel.Rules{StartHealth: c.StartHealth, Damage: c.Damage}
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, errors.Wrap(err, "parse env")
	}

	addr, err := listenAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr
	cfg.Server.AllowedOrigins = normalizeOrigins(cfg.Server.AllowedOrigins)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}
	return &cfg, nil
}

// NewLogger 根据 LOG_LEVEL 构建 JSON 日志器。
func (c ServerConfig) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid LOG_LEVEL value %q", c.LogLevel)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = level
	return zcfg.Build()
}

// listenAddr 解析服务器监听地址。
func listenAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			out = append(out, strings.TrimSuffix(origin, "/"))
		}
	}
	return out
}
