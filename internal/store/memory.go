package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tufan8877/whisper3-sub000/internal/models"
)

// Memory 是 Store 的进程内实现，满足与 Gorm 完全相同的契约，
// 用于无数据库的部署形态和测试。所有状态在一把互斥锁之下。
type Memory struct {
	mu sync.Mutex

	nextUser    uint
	nextChat    uint
	nextMessage uint
	nextMisc    uint

	users    map[uint]*models.User
	byName   map[string]uint
	chats    map[uint]*models.Chat
	pairs    map[[2]uint]uint // (小,大) -> chatID
	messages map[uint]*models.Message
	cutoffs  map[[2]uint]*models.ChatCutoff // (userID, chatID)
	blocks   map[[2]uint]*models.BlockRelation
	tokens   map[string]*models.RefreshToken
}

func NewMemory() *Memory {
	return &Memory{
		users:    make(map[uint]*models.User),
		byName:   make(map[string]uint),
		chats:    make(map[uint]*models.Chat),
		pairs:    make(map[[2]uint]uint),
		messages: make(map[uint]*models.Message),
		cutoffs:  make(map[[2]uint]*models.ChatCutoff),
		blocks:   make(map[[2]uint]*models.BlockRelation),
		tokens:   make(map[string]*models.RefreshToken),
	}
}

func (s *Memory) CreateUser(u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byName[u.Username]; taken {
		return ErrDuplicate
	}
	s.nextUser++
	u.ID = s.nextUser
	now := time.Now()
	u.CreatedAt = now
	u.UpdatedAt = now
	cp := *u
	s.users[u.ID] = &cp
	s.byName[u.Username] = u.ID
	return nil
}

func (s *Memory) UserByID(id uint) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Memory) UserByUsername(username string) (*models.User, error) {
	s.mu.Lock()
	id, ok := s.byName[username]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.UserByID(id)
}

func (s *Memory) SearchUsers(q string, limit int) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.User
	for _, u := range s.users {
		if strings.HasPrefix(u.Username, q) {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) SetOnline(userID uint, online bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.IsOnline = online
	u.LastSeen = at
	u.UpdatedAt = at
	return nil
}

func (s *Memory) GetOrCreateChat(a, b uint) (*models.Chat, error) {
	lo, hi := pairKey(a, b)
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.pairs[[2]uint{lo, hi}]; ok {
		cp := *s.chats[id]
		return &cp, nil
	}
	s.nextChat++
	chat := &models.Chat{ID: s.nextChat, UserAID: lo, UserBID: hi, CreatedAt: time.Now()}
	s.chats[chat.ID] = chat
	s.pairs[[2]uint{lo, hi}] = chat.ID
	cp := *chat
	return &cp, nil
}

func (s *Memory) ChatByID(id uint) (*models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *chat
	return &cp, nil
}

func (s *Memory) ChatsForUser(userID uint) ([]models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Chat
	for _, chat := range s.chats {
		if !chat.HasParticipant(userID) {
			continue
		}
		if cc, ok := s.cutoffs[[2]uint{userID, chat.ID}]; ok && !chat.LastMessageAt.After(cc.DeletedAt) {
			continue
		}
		out = append(out, *chat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	return out, nil
}

func (s *Memory) CreateMessage(m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[m.ChatID]
	if !ok {
		return ErrNotFound
	}
	s.nextMessage++
	m.ID = s.nextMessage
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	cp := *m
	s.messages[m.ID] = &cp
	id := m.ID
	chat.LastMessageID = &id
	if m.CreatedAt.After(chat.LastMessageAt) {
		chat.LastMessageAt = m.CreatedAt
	}
	if m.ReceiverID == chat.UserAID {
		chat.UnreadA++
	} else {
		chat.UnreadB++
	}
	return nil
}

func (s *Memory) MessagesForChat(chatID, userID uint, limit int, beforeID uint) ([]models.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	cc := s.cutoffs[[2]uint{userID, chatID}]
	var out []models.Message
	for _, m := range s.messages {
		if m.ChatID != chatID || m.Expired(now) {
			continue
		}
		if cc != nil && cc.Hides(m) {
			continue
		}
		if beforeID > 0 && m.ID >= beforeID {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Memory) MarkRead(chatID, userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return ErrNotFound
	}
	if userID == chat.UserAID {
		chat.UnreadA = 0
	} else {
		chat.UnreadB = 0
	}
	for _, m := range s.messages {
		if m.ChatID == chatID && m.ReceiverID == userID {
			m.IsRead = true
		}
	}
	return nil
}

func (s *Memory) DeleteExpired(now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, m := range s.messages {
		if m.Expired(now) {
			delete(s.messages, id)
			n++
		}
	}
	return n, nil
}

func (s *Memory) SetCutoff(userID, chatID uint, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]uint{userID, chatID}
	if cc, ok := s.cutoffs[key]; ok {
		if at.After(cc.DeletedAt) {
			cc.DeletedAt = at
		}
		return nil
	}
	s.nextMisc++
	s.cutoffs[key] = &models.ChatCutoff{ID: s.nextMisc, UserID: userID, ChatID: chatID, DeletedAt: at}
	return nil
}

func (s *Memory) CutoffFor(userID, chatID uint) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cc, ok := s.cutoffs[[2]uint{userID, chatID}]
	if !ok {
		return time.Time{}, false, nil
	}
	return cc.DeletedAt, true, nil
}

func (s *Memory) SetBlock(blockerID, blockedID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]uint{blockerID, blockedID}
	if _, ok := s.blocks[key]; ok {
		return nil
	}
	s.nextMisc++
	s.blocks[key] = &models.BlockRelation{ID: s.nextMisc, BlockerID: blockerID, BlockedID: blockedID, CreatedAt: time.Now()}
	return nil
}

func (s *Memory) IsBlocked(blockerID, blockedID uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blocks[[2]uint{blockerID, blockedID}]
	return ok, nil
}

func (s *Memory) SaveRefreshToken(userID uint, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[token]; ok {
		return ErrDuplicate
	}
	s.nextMisc++
	s.tokens[token] = &models.RefreshToken{ID: s.nextMisc, UserID: userID, Token: token, ExpiresAt: expiresAt, CreatedAt: time.Now()}
	return nil
}

func (s *Memory) RotateRefreshToken(oldToken, newToken string, expiresAt time.Time) (uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.tokens[oldToken]
	now := time.Now()
	if !ok || rt.RevokedAt != nil || !rt.ExpiresAt.After(now) {
		return 0, ErrNotFound
	}
	rt.RevokedAt = &now
	s.nextMisc++
	s.tokens[newToken] = &models.RefreshToken{ID: s.nextMisc, UserID: rt.UserID, Token: newToken, ExpiresAt: expiresAt, CreatedAt: now}
	return rt.UserID, nil
}
