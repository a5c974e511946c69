package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/tufan8877/whisper3-sub000/internal/auth"
	"github.com/tufan8877/whisper3-sub000/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	userSvc *service.UserService
	chatSvc *service.ChatService
	msgSvc  *service.MessageService
}

func NewHandler(userSvc *service.UserService, chatSvc *service.ChatService, msgSvc *service.MessageService) *Handler {
	return &Handler{userSvc: userSvc, chatSvc: chatSvc, msgSvc: msgSvc}
}

// Register 处理身份注册请求，公钥随注册上传。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Username  string `json:"username"`
		Password  string `json:"password"`
		PublicKey string `json:"public_key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if len(req.Username) < 2 || len(req.Username) > 64 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid username"})
		return
	}
	if len(req.Password) < 4 || len(req.Password) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid password"})
		return
	}
	user, err := h.userSvc.Register(req.Username, req.Password, req.PublicKey)
	if err != nil {
		if errors.Is(err, service.ErrUsernameTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "username taken"})
			return
		}
		log.Error().Err(err).Str("username", req.Username).Msg("register")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": user.ID, "username": user.Username})
}

// Login 处理登录请求，签发的 access token 同时用于 ws join。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		log.Error().Err(err).Str("username", req.Username).Msg("login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
		"user":          result.User,
	})
}

// RefreshToken 处理 token 刷新请求（旋转刷新）。
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.RefreshTokens(req.RefreshToken)
	if err != nil {
		log.Warn().Err(err).Msg("refresh token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": result.AccessToken, "refresh_token": result.RefreshToken})
}

// SearchUsers 按用户名前缀查找身份。
func (h *Handler) SearchUsers(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing query"})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	users, err := h.userSvc.Search(q, limit)
	if err != nil {
		log.Error().Err(err).Str("q", q).Msg("search users")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// CreateChat 幂等地获取或创建一对身份的会话，发起方必须是参与者之一。
func (h *Handler) CreateChat(c *gin.Context) {
	var req struct {
		ParticipantA uint `json:"participant_a"`
		ParticipantB uint `json:"participant_b"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ParticipantA == 0 || req.ParticipantB == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	me := auth.GetUserID(c)
	if me != req.ParticipantA && me != req.ParticipantB {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return
	}
	chat, err := h.chatSvc.Resolve(req.ParticipantA, req.ParticipantB)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSelfChat):
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot chat with self"})
		case errors.Is(err, service.ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		default:
			log.Error().Err(err).Uint("a", req.ParticipantA).Uint("b", req.ParticipantB).Msg("create chat")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create chat"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": chat.ID, "participant_a": chat.UserAID, "participant_b": chat.UserBID, "created_at": chat.CreatedAt})
}

// ListChats 返回会话列表：cutoff 过滤，按最近活跃排序。
func (h *Handler) ListChats(c *gin.Context) {
	userID, err := strconv.Atoi(c.Param("id"))
	if err != nil || userID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	if uint(userID) != auth.GetUserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	chats, err := h.chatSvc.ListForUser(uint(userID))
	if err != nil {
		log.Error().Err(err).Int("user_id", userID).Msg("list chats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list chats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// ListMessages 返回读者视角下的消息历史：过期和墓碑之前的都被排除。
func (h *Handler) ListMessages(c *gin.Context) {
	chatID, err := strconv.Atoi(c.Param("id"))
	if err != nil || chatID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint
	if bid := c.Query("before_id"); bid != "" {
		if v, err := strconv.Atoi(bid); err == nil && v > 0 {
			beforeID = uint(v)
		}
	}
	msgs, err := h.msgSvc.History(uint(chatID), auth.GetUserID(c), limit, beforeID)
	if err != nil {
		h.respondChatErr(c, err, chatID, "list messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// MarkRead 把调用者在该会话的未读数清零。
func (h *Handler) MarkRead(c *gin.Context) {
	chatID, err := strconv.Atoi(c.Param("id"))
	if err != nil || chatID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}
	if err := h.chatSvc.MarkRead(uint(chatID), auth.GetUserID(c)); err != nil {
		h.respondChatErr(c, err, chatID, "mark read")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// DeleteChat 只对调用者设置墓碑，对方视角不受影响。
func (h *Handler) DeleteChat(c *gin.Context) {
	chatID, err := strconv.Atoi(c.Param("id"))
	if err != nil || chatID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}
	if err := h.chatSvc.DeleteForUser(uint(chatID), auth.GetUserID(c)); err != nil {
		h.respondChatErr(c, err, chatID, "delete chat")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// BlockUser 记录拉黑关系；当前只记录，不参与摄入拦截。
func (h *Handler) BlockUser(c *gin.Context) {
	blockedID, err := strconv.Atoi(c.Param("id"))
	if err != nil || blockedID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	if err := h.userSvc.Block(auth.GetUserID(c), uint(blockedID)); err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		log.Error().Err(err).Int("blocked_id", blockedID).Msg("block user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to block user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) respondChatErr(c *gin.Context, err error, chatID int, op string) {
	switch {
	case errors.Is(err, service.ErrChatNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
	case errors.Is(err, service.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
	default:
		log.Error().Err(err).Int("chat_id", chatID).Msg(op)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
