package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

// 存储后端，进程启动时通过 STORE_BACKEND 显式选择，运行期间不再切换。
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	Port        string
	DatabaseDSN string
	JWTSecret   string
	Env         string

	StoreBackend string

	AccessTokenTTLMinutes int
	RefreshTokenTTLDays   int

	// WebSocket 硬化参数
	AllowedOrigins    []string
	WSMaxPayloadBytes int64
	WSMaxConnsPerIP   int
	WSRateBurst       int
	WSRatePerSec      float64
	HeartbeatSeconds  int

	ReaperIntervalSeconds int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, ""))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getenvFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(getenv(key, ""), 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func Load() Config {
	cfg := Config{
		Port:                  getenv("APP_PORT", "8080"),
		DatabaseDSN:           getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=whisper port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:             getenv("JWT_SECRET", "dev-secret-change-me"),
		Env:                   getenv("APP_ENV", "dev"),
		StoreBackend:          getenv("STORE_BACKEND", BackendPostgres),
		AccessTokenTTLMinutes: getenvInt("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTokenTTLDays:   getenvInt("REFRESH_TOKEN_TTL_DAYS", 7),
		WSMaxPayloadBytes:     int64(getenvInt("WS_MAX_PAYLOAD_BYTES", 1<<16)),
		WSMaxConnsPerIP:       getenvInt("WS_MAX_CONNS_PER_IP", 8),
		WSRateBurst:           getenvInt("WS_RATE_BURST", 20),
		WSRatePerSec:          getenvFloat("WS_RATE_PER_SEC", 10),
		HeartbeatSeconds:      getenvInt("WS_HEARTBEAT_SECONDS", 30),
		ReaperIntervalSeconds: getenvInt("REAPER_INTERVAL_SECONDS", 30),
	}
	if origins := getenv("WS_ALLOWED_ORIGINS", ""); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}
	return cfg
}

// Validate 在启动时做一次配置健全性检查，dev 之外不允许默认 JWT 密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("config: port is required")
	}
	if cfg.StoreBackend != BackendPostgres && cfg.StoreBackend != BackendMemory {
		return errors.New("config: unknown store backend " + cfg.StoreBackend)
	}
	if cfg.StoreBackend == BackendPostgres && cfg.DatabaseDSN == "" {
		return errors.New("config: database dsn is required for postgres backend")
	}
	if cfg.JWTSecret == "" {
		return errors.New("config: jwt secret is required")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == "dev-secret-change-me" {
		return errors.New("config: default jwt secret is not allowed outside dev")
	}
	return nil
}
