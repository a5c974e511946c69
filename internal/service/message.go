package service

import (
	"errors"
	"time"

	"github.com/tufan8877/whisper3-sub000/internal/metrics"
	"github.com/tufan8877/whisper3-sub000/internal/models"
	"github.com/tufan8877/whisper3-sub000/internal/store"
)

// 自毁计时器的取值范围。客户端送来的原始数值单位不明（秒或毫秒），
// 超过最大秒数的按毫秒处理后再夹到 [Min, Max]。
const (
	MinDestructSeconds = 5
	MaxDestructSeconds = 7 * 24 * 3600
)

// MessageService 封装消息摄入校验与历史读取。
type MessageService struct {
	store store.Store
}

func NewMessageService(st store.Store) *MessageService {
	return &MessageService{store: st}
}

// MessageDTO 是对外输出的消息数据。
type MessageDTO struct {
	ID              uint      `json:"id"`
	ChatID          uint      `json:"chat_id"`
	SenderID        uint      `json:"sender_id"`
	ReceiverID      uint      `json:"receiver_id"`
	Content         string    `json:"content"`
	MessageType     string    `json:"message_type"`
	FileName        string    `json:"file_name,omitempty"`
	FileSize        int64     `json:"file_size,omitempty"`
	DestructSeconds int       `json:"destruct_seconds"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	IsRead          bool      `json:"is_read"`
}

func toMessageDTO(m *models.Message) MessageDTO {
	return MessageDTO{
		ID:              m.ID,
		ChatID:          m.ChatID,
		SenderID:        m.SenderID,
		ReceiverID:      m.ReceiverID,
		Content:         m.Content,
		MessageType:     m.MessageType,
		FileName:        m.FileName,
		FileSize:        m.FileSize,
		DestructSeconds: m.DestructSeconds,
		CreatedAt:       m.CreatedAt,
		ExpiresAt:       m.ExpiresAt,
		IsRead:          m.IsRead,
	}
}

// IngestInput 是一条待摄入的消息信封，已通过帧层的形状校验。
type IngestInput struct {
	ChatID        uint
	SenderID      uint
	ReceiverID    uint
	Content       string
	MessageType   string
	DestructTimer float64
	FileName      string
	FileSize      int64
}

// Ingest 按固定顺序校验并落库一条消息：
// 发送方必须等于连接已 join 的身份；接收方必须存在；类型和内容合法；
// 自毁计时器归一化后计算 ExpiresAt；插入与未读 +1 在存储层同一事务完成。
func (s *MessageService) Ingest(in IngestInput, joinedUserID uint) (*MessageDTO, error) {
	if in.SenderID != joinedUserID {
		return nil, ErrSenderMismatch
	}
	if in.ReceiverID == in.SenderID {
		return nil, ErrSelfChat
	}
	switch in.MessageType {
	case "":
		in.MessageType = models.MessageTypeText
	case models.MessageTypeText, models.MessageTypeImage, models.MessageTypeFile:
	default:
		return nil, ErrInvalidMessage
	}
	if in.Content == "" {
		return nil, ErrInvalidMessage
	}
	if in.MessageType == models.MessageTypeFile && in.FileName == "" {
		return nil, ErrInvalidMessage
	}
	if _, err := s.store.UserByID(in.ReceiverID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	var chat *models.Chat
	var err error
	if in.ChatID > 0 {
		chat, err = s.store.ChatByID(in.ChatID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrChatNotFound
			}
			return nil, err
		}
		if !chat.HasParticipant(in.SenderID) || !chat.HasParticipant(in.ReceiverID) {
			return nil, ErrNotParticipant
		}
	} else {
		chat, err = s.store.GetOrCreateChat(in.SenderID, in.ReceiverID)
		if err != nil {
			return nil, err
		}
	}

	seconds := NormalizeDestructTimer(in.DestructTimer)
	now := time.Now()
	msg := &models.Message{
		ChatID:          chat.ID,
		SenderID:        in.SenderID,
		ReceiverID:      in.ReceiverID,
		Content:         in.Content,
		MessageType:     in.MessageType,
		FileName:        in.FileName,
		FileSize:        in.FileSize,
		DestructSeconds: seconds,
		CreatedAt:       now,
		ExpiresAt:       now.Add(time.Duration(seconds) * time.Second),
	}
	if err := s.store.CreateMessage(msg); err != nil {
		return nil, err
	}
	metrics.MessagesTotal.Inc()
	dto := toMessageDTO(msg)
	return &dto, nil
}

// NormalizeDestructTimer 把单位不明的原始计时器归一化为秒：
// 大于最大合法秒数的值按毫秒解释再除以 1000，结果夹到 [5s, 7d]。
func NormalizeDestructTimer(raw float64) int {
	if raw > MaxDestructSeconds {
		raw = raw / 1000
	}
	if raw < MinDestructSeconds {
		return MinDestructSeconds
	}
	if raw > MaxDestructSeconds {
		return MaxDestructSeconds
	}
	return int(raw)
}

// History 返回 userID 视角下某会话的消息页：过期的和墓碑之前的都不出现。
func (s *MessageService) History(chatID, userID uint, limit int, beforeID uint) ([]MessageDTO, error) {
	chat, err := s.store.ChatByID(chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	if !chat.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	msgs, err := s.store.MessagesForChat(chatID, userID, limit, beforeID)
	if err != nil {
		return nil, err
	}
	out := make([]MessageDTO, 0, len(msgs))
	for i := range msgs {
		out = append(out, toMessageDTO(&msgs[i]))
	}
	return out, nil
}
