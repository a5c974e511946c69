package ws

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/tufan8877/whisper3-sub000/internal/auth"
	"github.com/tufan8877/whisper3-sub000/internal/config"
	"github.com/tufan8877/whisper3-sub000/internal/metrics"
	"github.com/tufan8877/whisper3-sub000/internal/service"
	"github.com/tufan8877/whisper3-sub000/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const writeWait = 10 * time.Second

// Deps 聚合实时通道需要的协作方，由 main 构造后注入。
type Deps struct {
	Cfg      config.Config
	Store    store.Store
	Users    *service.UserService
	Chats    *service.ChatService
	Messages *service.MessageService
}

// Client 是一条连接的服务端侧。生命周期 Connecting -> Open -> Joined -> Closed，
// joined 之前除 join 外的任何帧都会被 error 帧拒绝。
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	connID  string
	ip      string

	// readPump 独占写，join 成功后才有值
	userID uint
	joined bool
}

func (c *Client) trySend(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

// closeWith 带关闭码强制断开。WriteControl 允许与 writePump 并发调用。
func (c *Client) closeWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = c.conn.Close()
}

// clientErrText 把业务错误翻译成可下发的 error 帧文本。
// 非哨兵错误（存储、驱动）不外泄内部细节，统一回 internal error。
func clientErrText(err error) string {
	for _, e := range []error{
		service.ErrUserNotFound, service.ErrChatNotFound, service.ErrNotParticipant,
		service.ErrSenderMismatch, service.ErrSelfChat, service.ErrInvalidMessage,
	} {
		if errors.Is(err, e) {
			return e.Error()
		}
	}
	return "internal error"
}

// checkOrigin 实现握手期的来源白名单：未配置时退回同源校验，
// 配置 "*" 放行全部（仅限 dev）。
func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if len(allowed) == 0 {
			return strings.Contains(origin, r.Host)
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// Serve 返回实时通道的 gin handler：来源白名单和单 IP 连接上限在升级前检查，
// 升级后进入 join 门控的读写循环。
func Serve(hub *Hub, d Deps) gin.HandlerFunc {
	upgrader := websocket.Upgrader{CheckOrigin: checkOrigin(d.Cfg.AllowedOrigins)}
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !hub.AcquireIP(ip) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connections"})
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.ReleaseIP(ip)
			return
		}
		client := &Client{
			hub:     hub,
			conn:    conn,
			send:    make(chan []byte, 256),
			limiter: rate.NewLimiter(rate.Limit(d.Cfg.WSRatePerSec), d.Cfg.WSRateBurst),
			connID:  uuid.NewString(),
			ip:      ip,
		}
		client.trySend(evConnectionEstablished())
		go client.writePump(time.Duration(d.Cfg.HeartbeatSeconds) * time.Second)
		client.readPump(d)
	}
}

func (c *Client) readPump(d Deps) {
	defer func() {
		if c.joined {
			if c.hub.Unregister(c.userID, c) {
				if err := d.Users.SetOnline(c.userID, false); err != nil {
					log.Error().Err(err).Uint("user_id", c.userID).Msg("set offline")
				}
				c.hub.BroadcastStatus(c.userID, false)
			}
		}
		c.hub.ReleaseIP(c.ip)
		_ = c.conn.Close()
		close(c.send)
	}()

	heartbeat := time.Duration(d.Cfg.HeartbeatSeconds) * time.Second
	pongWait := 2 * heartbeat
	c.conn.SetReadLimit(d.Cfg.WSMaxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			// 超限帧由 gorilla 以 1009 关闭，其余按普通断开处理
			break
		}
		if !c.limiter.Allow() {
			metrics.WsFramesRejected.WithLabelValues("rate_limit").Inc()
			c.closeWith(CloseRateLimited, "rate limit exceeded")
			break
		}
		frame, err := parseFrame(data)
		if err != nil {
			metrics.WsFramesRejected.WithLabelValues("malformed").Inc()
			c.trySend(evError(err.Error()))
			continue
		}
		if join, ok := frame.(JoinFrame); ok {
			if c.joined {
				c.trySend(evError("already joined"))
				continue
			}
			if !c.handleJoin(d, join) {
				return
			}
			continue
		}
		if !c.joined {
			metrics.WsFramesRejected.WithLabelValues("not_joined").Inc()
			c.trySend(evError("join required"))
			continue
		}
		switch f := frame.(type) {
		case MessageFrame:
			c.handleMessage(d, f)
		case TypingFrame:
			c.handleTyping(f)
		case ReadFrame:
			if err := d.Chats.MarkRead(f.ChatID, c.userID); err != nil {
				c.trySend(evError(clientErrText(err)))
			}
		}
	}
}

// handleJoin 校验凭证并登记投递目标。返回 false 表示连接已被关闭。
func (c *Client) handleJoin(d Deps, f JoinFrame) bool {
	claims, err := auth.ParseAccessToken(f.Token, d.Cfg.JWTSecret)
	if err != nil {
		c.closeWith(CloseJoinFailed, "invalid credential")
		return false
	}
	user, err := d.Store.UserByID(claims.UserID)
	if err != nil {
		c.closeWith(CloseJoinFailed, "unknown identity")
		return false
	}
	if prev := c.hub.Register(user.ID, c); prev != nil {
		prev.closeWith(CloseSessionReplaced, "session replaced")
	}
	c.userID = user.ID
	c.joined = true
	if err := d.Users.SetOnline(user.ID, true); err != nil {
		log.Error().Err(err).Uint("user_id", user.ID).Msg("set online")
	}
	c.hub.BroadcastStatus(user.ID, true)
	c.trySend(evJoinConfirmed(user.ID))
	log.Info().Str("conn_id", c.connID).Uint("user_id", user.ID).Msg("ws joined")
	return true
}

func (c *Client) handleMessage(d Deps, f MessageFrame) {
	msg, err := d.Messages.Ingest(service.IngestInput{
		ChatID:        f.ChatID,
		SenderID:      f.SenderID,
		ReceiverID:    f.ReceiverID,
		Content:       f.Content,
		MessageType:   f.MessageType,
		DestructTimer: f.DestructTimer,
		FileName:      f.FileName,
		FileSize:      f.FileSize,
	}, c.userID)
	if err != nil {
		// 实时路径上的持久化失败即消息丢失，只记日志不重试
		log.Warn().Err(err).Str("conn_id", c.connID).Uint("user_id", c.userID).Msg("ingest rejected")
		c.trySend(evError(clientErrText(err)))
		return
	}
	// 发送方的确认与对端推送是否成功无关
	c.trySend(evMessageSent(msg.ID, msg.ChatID))
	c.hub.Deliver(*msg)
}

func (c *Client) handleTyping(f TypingFrame) {
	if f.SenderID != c.userID {
		c.trySend(evError(service.ErrSenderMismatch.Error()))
		return
	}
	c.hub.Push(f.ReceiverID, evTyping(f))
}

func (c *Client) writePump(heartbeat time.Duration) {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
