package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/tufan8877/whisper3-sub000/internal/config"
	clog "github.com/tufan8877/whisper3-sub000/internal/log"
	"github.com/tufan8877/whisper3-sub000/internal/server"
	"github.com/tufan8877/whisper3-sub000/internal/service"
	"github.com/tufan8877/whisper3-sub000/internal/store"
	"github.com/tufan8877/whisper3-sub000/internal/ws"

	"github.com/rs/zerolog/log"
)

func main() {
	// 加载配置、初始化日志、选择存储后端、启动 reaper 与 Gin 服务。
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config validate")
	}

	st, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	log.Info().Str("backend", cfg.StoreBackend).Msg("store ready")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reaper := service.NewReaper(st, time.Duration(cfg.ReaperIntervalSeconds)*time.Second)
	go reaper.Run(ctx)

	hub := ws.NewHub(cfg.WSMaxConnsPerIP)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.SetupRouter(cfg, st, hub),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()
	log.Info().Str("port", cfg.Port).Msg("relay listening")

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
}

// openStore 依据显式配置选择持久化后端，运行期间不再切换。
func openStore(cfg config.Config) (store.Store, error) {
	if cfg.StoreBackend == config.BackendMemory {
		return store.NewMemory(), nil
	}
	gdb, err := store.Connect(cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(gdb); err != nil {
		return nil, err
	}
	return store.NewGorm(gdb), nil
}
