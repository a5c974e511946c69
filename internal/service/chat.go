package service

import (
	"errors"
	"time"

	"github.com/tufan8877/whisper3-sub000/internal/models"
	"github.com/tufan8877/whisper3-sub000/internal/store"
)

// ChatService 封装会话解析、列表、已读与"只对我删除"的业务逻辑。
type ChatService struct {
	store store.Store
}

func NewChatService(st store.Store) *ChatService {
	return &ChatService{store: st}
}

// Resolve 把一个无序身份对映射到唯一会话，首次接触时惰性创建。
// Resolve(a,b) 与 Resolve(b,a) 返回同一会话，重复调用不产生新记录。
func (s *ChatService) Resolve(a, b uint) (*models.Chat, error) {
	if a == b {
		return nil, ErrSelfChat
	}
	for _, id := range []uint{a, b} {
		if _, err := s.store.UserByID(id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrUserNotFound
			}
			return nil, err
		}
	}
	return s.store.GetOrCreateChat(a, b)
}

// ChatDTO 是会话列表里一行的输出：对方身份、最后一条可见消息和自己的未读数。
type ChatDTO struct {
	ID            uint        `json:"id"`
	OtherUser     UserDTO     `json:"other_user"`
	LastMessage   *MessageDTO `json:"last_message,omitempty"`
	UnreadCount   int         `json:"unread_count"`
	LastMessageAt time.Time   `json:"last_message_at"`
	CreatedAt     time.Time   `json:"created_at"`
}

// ListForUser 返回 userID 的会话列表：cutoff 之后没有新消息的会话不出现，
// 最后一条消息取读者视角下最新的可见消息，按最近活跃排序。
func (s *ChatService) ListForUser(userID uint) ([]ChatDTO, error) {
	chats, err := s.store.ChatsForUser(userID)
	if err != nil {
		return nil, err
	}
	out := make([]ChatDTO, 0, len(chats))
	for i := range chats {
		chat := &chats[i]
		other, err := s.store.UserByID(chat.OtherParty(userID))
		if err != nil {
			return nil, err
		}
		dto := ChatDTO{
			ID:            chat.ID,
			OtherUser:     toUserDTO(other),
			UnreadCount:   unreadFor(chat, userID),
			LastMessageAt: chat.LastMessageAt,
			CreatedAt:     chat.CreatedAt,
		}
		last, err := s.store.MessagesForChat(chat.ID, userID, 1, 0)
		if err != nil {
			return nil, err
		}
		if len(last) > 0 {
			m := toMessageDTO(&last[0])
			dto.LastMessage = &m
		}
		out = append(out, dto)
	}
	return out, nil
}

func unreadFor(chat *models.Chat, userID uint) int {
	if userID == chat.UserAID {
		return chat.UnreadA
	}
	return chat.UnreadB
}

// MarkRead 将 userID 在该会话的未读数清零。与接收方是否在线无关：
// 离线消息照常累计，直到这里被显式清零。
func (s *ChatService) MarkRead(chatID, userID uint) error {
	if err := s.requireParticipant(chatID, userID); err != nil {
		return err
	}
	return s.store.MarkRead(chatID, userID)
}

// DeleteForUser 对 userID 设置当前时刻的墓碑：此前的消息对其不可见，
// 对方视角完全不受影响。重复删除把墓碑推到更晚的时间点。
func (s *ChatService) DeleteForUser(chatID, userID uint) error {
	if err := s.requireParticipant(chatID, userID); err != nil {
		return err
	}
	return s.store.SetCutoff(userID, chatID, time.Now())
}

func (s *ChatService) requireParticipant(chatID, userID uint) error {
	chat, err := s.store.ChatByID(chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrChatNotFound
		}
		return err
	}
	if !chat.HasParticipant(userID) {
		return ErrNotParticipant
	}
	return nil
}
