package config

import (
	"os"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"APP_PORT", "DATABASE_DSN", "JWT_SECRET", "APP_ENV", "STORE_BACKEND",
		"WS_MAX_CONNS_PER_IP", "WS_RATE_BURST", "WS_RATE_PER_SEC", "REAPER_INTERVAL_SECONDS", "WS_ALLOWED_ORIGINS"} {
		os.Unsetenv(k)
	}

	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Load() Port = %v, want 8080", cfg.Port)
	}
	if cfg.Env != "dev" {
		t.Errorf("Load() Env = %v, want dev", cfg.Env)
	}
	if cfg.StoreBackend != BackendPostgres {
		t.Errorf("Load() StoreBackend = %v, want %v", cfg.StoreBackend, BackendPostgres)
	}
	if cfg.WSMaxConnsPerIP != 8 {
		t.Errorf("Load() WSMaxConnsPerIP = %v, want 8", cfg.WSMaxConnsPerIP)
	}
	if cfg.WSRateBurst != 20 {
		t.Errorf("Load() WSRateBurst = %v, want 20", cfg.WSRateBurst)
	}
	if cfg.ReaperIntervalSeconds != 30 {
		t.Errorf("Load() ReaperIntervalSeconds = %v, want 30", cfg.ReaperIntervalSeconds)
	}
	if len(cfg.AllowedOrigins) != 0 {
		t.Errorf("Load() AllowedOrigins = %v, want empty", cfg.AllowedOrigins)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	os.Setenv("APP_PORT", "9090")
	os.Setenv("STORE_BACKEND", "memory")
	os.Setenv("WS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	os.Setenv("WS_RATE_PER_SEC", "2.5")
	defer func() {
		os.Unsetenv("APP_PORT")
		os.Unsetenv("STORE_BACKEND")
		os.Unsetenv("WS_ALLOWED_ORIGINS")
		os.Unsetenv("WS_RATE_PER_SEC")
	}()

	cfg := Load()

	if cfg.Port != "9090" {
		t.Errorf("Load() Port = %v, want 9090", cfg.Port)
	}
	if cfg.StoreBackend != BackendMemory {
		t.Errorf("Load() StoreBackend = %v, want memory", cfg.StoreBackend)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "https://a.example" || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("Load() AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.WSRatePerSec != 2.5 {
		t.Errorf("Load() WSRatePerSec = %v, want 2.5", cfg.WSRatePerSec)
	}
}

func TestLoad_InvalidNumbers(t *testing.T) {
	os.Setenv("WS_RATE_BURST", "invalid")
	os.Setenv("REAPER_INTERVAL_SECONDS", "-5")
	defer func() {
		os.Unsetenv("WS_RATE_BURST")
		os.Unsetenv("REAPER_INTERVAL_SECONDS")
	}()

	cfg := Load()

	// Should fall back to defaults
	if cfg.WSRateBurst != 20 {
		t.Errorf("Load() WSRateBurst = %v, want 20 (default)", cfg.WSRateBurst)
	}
	if cfg.ReaperIntervalSeconds != 30 {
		t.Errorf("Load() ReaperIntervalSeconds = %v, want 30 (default)", cfg.ReaperIntervalSeconds)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "valid dev config",
			cfg:     Config{Port: "8080", DatabaseDSN: "postgres://localhost/test", JWTSecret: "dev-secret-change-me", Env: "dev", StoreBackend: BackendPostgres},
			wantErr: false,
		},
		{
			name:    "valid prod config",
			cfg:     Config{Port: "8080", DatabaseDSN: "postgres://localhost/test", JWTSecret: "production-secret-key", Env: "prod", StoreBackend: BackendPostgres},
			wantErr: false,
		},
		{
			name:    "memory backend needs no dsn",
			cfg:     Config{Port: "8080", JWTSecret: "secret", Env: "dev", StoreBackend: BackendMemory},
			wantErr: false,
		},
		{
			name:    "empty port",
			cfg:     Config{Port: "", DatabaseDSN: "postgres://localhost/test", JWTSecret: "secret", Env: "dev", StoreBackend: BackendPostgres},
			wantErr: true,
		},
		{
			name:    "unknown backend",
			cfg:     Config{Port: "8080", DatabaseDSN: "postgres://localhost/test", JWTSecret: "secret", Env: "dev", StoreBackend: "redis"},
			wantErr: true,
		},
		{
			name:    "postgres backend without dsn",
			cfg:     Config{Port: "8080", DatabaseDSN: "", JWTSecret: "secret", Env: "dev", StoreBackend: BackendPostgres},
			wantErr: true,
		},
		{
			name:    "default secret in prod",
			cfg:     Config{Port: "8080", DatabaseDSN: "postgres://localhost/test", JWTSecret: "dev-secret-change-me", Env: "prod", StoreBackend: BackendPostgres},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
