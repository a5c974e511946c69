package mw

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// REST 侧的限速器：按 IP+路由分桶，与 ws 侧严格单连接的令牌桶互不相干。
type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type Limiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	rate       rate.Limit
	burst      int
	idleTTL    time.Duration
	gcInterval time.Duration
	stop       chan struct{}
}

func NewLimiter(r rate.Limit, burst int, idleTTL, gcInterval time.Duration) *Limiter {
	l := &Limiter{
		buckets:    make(map[string]*bucket),
		rate:       r,
		burst:      burst,
		idleTTL:    idleTTL,
		gcInterval: gcInterval,
		stop:       make(chan struct{}),
	}
	go l.gc()
	return l
}

// Allow 对 key 所属的分桶取一个令牌，分桶按需惰性创建。
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = time.Now()
	l.mu.Unlock()
	return b.lim.Allow()
}

// gc 定期清掉长时间不活跃的分桶，防止 map 无界增长。
func (l *Limiter) gc() {
	ticker := time.NewTicker(l.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			now := time.Now()
			l.mu.Lock()
			for k, b := range l.buckets {
				if now.Sub(b.lastSeen) > l.idleTTL {
					delete(l.buckets, k)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Stop 停止 GC goroutine，用于优雅停服。
func (l *Limiter) Stop() {
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
}

// RateLimit 返回一个基于 IP+路径的令牌桶限速中间件。
func RateLimit(r rate.Limit, burst int) gin.HandlerFunc {
	l := NewLimiter(r, burst, 2*time.Minute, 30*time.Second)
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if !l.Allow(c.ClientIP() + "|" + path) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
