package store

import (
	"errors"
	"time"

	"github.com/tufan8877/whisper3-sub000/internal/models"
)

// 存储层通用错误，上层用 errors.Is 区分"没有"和"坏了"。
var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate")
)

// Store 是持久化适配层的统一契约，postgres 与内存两个实现都必须满足：
// 所有消息读路径应用与 reaper 相同的过期谓词，并叠加读者自己的 cutoff 过滤；
// CreateMessage 在单个事务内完成插入、会话 last-message 指针推进和接收方未读 +1。
type Store interface {
	// 身份
	CreateUser(u *models.User) error
	UserByID(id uint) (*models.User, error)
	UserByUsername(username string) (*models.User, error)
	SearchUsers(q string, limit int) ([]models.User, error)
	SetOnline(userID uint, online bool, at time.Time) error

	// 会话：无序对到唯一会话的幂等映射
	GetOrCreateChat(a, b uint) (*models.Chat, error)
	ChatByID(id uint) (*models.Chat, error)
	// ChatsForUser 返回 userID 可见的会话（cutoff 之后没有新消息的会话被隐藏），
	// 按 last_message_at 倒序。
	ChatsForUser(userID uint) ([]models.Chat, error)

	// 消息
	CreateMessage(m *models.Message) error
	// MessagesForChat 返回 userID 视角下的消息：过期的和 cutoff 之前的都被排除，
	// 按 id 升序，beforeID > 0 时只返回更早的一页。
	MessagesForChat(chatID, userID uint, limit int, beforeID uint) ([]models.Message, error)
	MarkRead(chatID, userID uint) error
	// DeleteExpired 原子地删除所有 expires_at <= now 的消息，返回删除数量。
	DeleteExpired(now time.Time) (int64, error)

	// 软删除墓碑
	SetCutoff(userID, chatID uint, at time.Time) error
	CutoffFor(userID, chatID uint) (time.Time, bool, error)

	// 拉黑关系（当前只记录，不拦截投递）
	SetBlock(blockerID, blockedID uint) error
	IsBlocked(blockerID, blockedID uint) (bool, error)

	// 会话凭证
	SaveRefreshToken(userID uint, token string, expiresAt time.Time) error
	RotateRefreshToken(oldToken, newToken string, expiresAt time.Time) (userID uint, err error)
}

// pairKey 把无序对规范化为 (小, 大)，两个后端共用。
func pairKey(a, b uint) (uint, uint) {
	if a > b {
		return b, a
	}
	return a, b
}
