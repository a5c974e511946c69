package service

import (
	"context"
	"time"

	"github.com/tufan8877/whisper3-sub000/internal/metrics"
	"github.com/tufan8877/whisper3-sub000/internal/store"

	"github.com/rs/zerolog/log"
)

// Reaper 是过期消息的唯一物理删除者。读路径自带同一个过期谓词，
// 所以 sweep 的节奏只影响磁盘占用，不影响可见性。
type Reaper struct {
	store    store.Store
	interval time.Duration
}

func NewReaper(st store.Store, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reaper{store: st, interval: interval}
}

// Run 固定间隔执行清扫直到 ctx 取消。单次失败只记日志，下个 tick 重试。
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.SweepOnce(time.Now()); err != nil {
				log.Error().Err(err).Msg("reaper sweep")
			}
		}
	}
}

// SweepOnce 删除所有 expires_at <= now 的消息，返回删除数量。
func (r *Reaper) SweepOnce(now time.Time) (int64, error) {
	n, err := r.store.DeleteExpired(now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.MessagesReaped.Add(float64(n))
		log.Info().Int64("count", n).Msg("reaped expired messages")
	}
	return n, nil
}
