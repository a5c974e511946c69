package models

import "time"

// 消息类型，payload 在到达 relay 之前已经完成加密，这里只区分展示形态。
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
)

// User 即一个身份：用户名唯一，PublicKey 由客户端生成后上传。
// IsOnline / LastSeen 由连接注册表在 join/close 时更新。
type User struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"not null"`
	PublicKey    string `gorm:"type:text"`
	IsOnline     bool   `gorm:"not null;default:false"`
	LastSeen     time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Chat 是一对身份之间唯一的会话，参与者按 UserAID < UserBID 规范化存储，
// 保证无序对查找的可交换性。未读数分边维护，永不为负。
type Chat struct {
	ID            uint `gorm:"primaryKey"`
	UserAID       uint `gorm:"uniqueIndex:idx_chat_pair;not null"`
	UserBID       uint `gorm:"uniqueIndex:idx_chat_pair;not null"`
	LastMessageID *uint
	LastMessageAt time.Time `gorm:"index"`
	UnreadA       int       `gorm:"not null;default:0"`
	UnreadB       int       `gorm:"not null;default:0"`
	CreatedAt     time.Time
}

// OtherParty 返回 userID 对面的参与者 ID；userID 不在会话中时返回 0。
func (c *Chat) OtherParty(userID uint) uint {
	switch userID {
	case c.UserAID:
		return c.UserBID
	case c.UserBID:
		return c.UserAID
	}
	return 0
}

// HasParticipant 判断 userID 是否是会话参与者。
func (c *Chat) HasParticipant(userID uint) bool {
	return userID == c.UserAID || userID == c.UserBID
}

// Message 是一条阅后即焚消息。不变式：ExpiresAt = CreatedAt + DestructSeconds。
// 到达 ExpiresAt 之后，无论 reaper 是否已物理删除，任何读路径都不得返回它。
type Message struct {
	ID              uint   `gorm:"primaryKey"`
	ChatID          uint   `gorm:"index:idx_msg_chat;not null"`
	SenderID        uint   `gorm:"not null"`
	ReceiverID      uint   `gorm:"not null"`
	Content         string `gorm:"type:text;not null"`
	MessageType     string `gorm:"size:16;not null;default:text"`
	FileName        string `gorm:"size:255"`
	FileSize        int64
	DestructSeconds int `gorm:"not null"`
	CreatedAt       time.Time
	ExpiresAt       time.Time `gorm:"index;not null"`
	IsRead          bool      `gorm:"not null;default:false"`
}

// Expired 是 reaper 与所有读路径共用的过期谓词。
func (m *Message) Expired(now time.Time) bool {
	return !m.ExpiresAt.After(now)
}

// BlockRelation 只记录拉黑意图，当前不在投递链路上生效。
type BlockRelation struct {
	ID        uint `gorm:"primaryKey"`
	BlockerID uint `gorm:"uniqueIndex:idx_block_pair;not null"`
	BlockedID uint `gorm:"uniqueIndex:idx_block_pair;not null"`
	CreatedAt time.Time
}

// ChatCutoff 是“只对我删除”的墓碑：CreatedAt <= DeletedAt 的消息对 UserID 不可见，
// 对另一方完全不受影响。重复删除会把墓碑向前推。
type ChatCutoff struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"uniqueIndex:idx_cutoff_user_chat;not null"`
	ChatID    uint      `gorm:"uniqueIndex:idx_cutoff_user_chat;not null"`
	DeletedAt time.Time `gorm:"not null"`
}

// Hides 判断消息对持有该墓碑的用户是否不可见。
func (cc *ChatCutoff) Hides(m *Message) bool {
	return !m.CreatedAt.After(cc.DeletedAt)
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}
