package store

import (
	"errors"
	"testing"
	"time"

	"github.com/tufan8877/whisper3-sub000/internal/models"
)

func seedUsers(t *testing.T, s *Memory, names ...string) []uint {
	t.Helper()
	ids := make([]uint, 0, len(names))
	for _, n := range names {
		u := &models.User{Username: n, PasswordHash: "x"}
		if err := s.CreateUser(u); err != nil {
			t.Fatalf("CreateUser(%s) error = %v", n, err)
		}
		ids = append(ids, u.ID)
	}
	return ids
}

func seedMessage(t *testing.T, s *Memory, chatID, from, to uint, content string, ttl time.Duration) *models.Message {
	t.Helper()
	now := time.Now()
	m := &models.Message{
		ChatID: chatID, SenderID: from, ReceiverID: to,
		Content: content, MessageType: models.MessageTypeText,
		DestructSeconds: int(ttl.Seconds()), CreatedAt: now, ExpiresAt: now.Add(ttl),
	}
	if err := s.CreateMessage(m); err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}
	return m
}

func TestMemory_CreateUser_Duplicate(t *testing.T) {
	s := NewMemory()
	seedUsers(t, s, "alice")
	err := s.CreateUser(&models.User{Username: "alice"})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("CreateUser(duplicate) error = %v, want ErrDuplicate", err)
	}
}

func TestMemory_GetOrCreateChat_Commutative(t *testing.T) {
	s := NewMemory()
	ids := seedUsers(t, s, "alice", "bob")

	c1, err := s.GetOrCreateChat(ids[0], ids[1])
	if err != nil {
		t.Fatalf("GetOrCreateChat() error = %v", err)
	}
	c2, err := s.GetOrCreateChat(ids[1], ids[0])
	if err != nil {
		t.Fatalf("GetOrCreateChat() error = %v", err)
	}
	if c1.ID != c2.ID {
		t.Errorf("GetOrCreateChat() not commutative: %d vs %d", c1.ID, c2.ID)
	}
	if c1.UserAID >= c1.UserBID {
		t.Errorf("pair not canonical: a=%d b=%d", c1.UserAID, c1.UserBID)
	}

	chats, err := s.ChatsForUser(ids[0])
	if err != nil {
		t.Fatalf("ChatsForUser() error = %v", err)
	}
	if len(chats) != 1 {
		t.Errorf("ChatsForUser() = %d chats, want 1 (no duplicates)", len(chats))
	}
}

func TestMemory_CreateMessage_UnreadAndLastMessage(t *testing.T) {
	s := NewMemory()
	ids := seedUsers(t, s, "alice", "bob")
	chat, _ := s.GetOrCreateChat(ids[0], ids[1])

	m1 := seedMessage(t, s, chat.ID, ids[0], ids[1], "hi", time.Minute)
	seedMessage(t, s, chat.ID, ids[0], ids[1], "again", time.Minute)

	got, err := s.ChatByID(chat.ID)
	if err != nil {
		t.Fatalf("ChatByID() error = %v", err)
	}
	if unread := unreadSide(got, ids[1]); unread != 2 {
		t.Errorf("receiver unread = %d, want 2", unread)
	}
	if unread := unreadSide(got, ids[0]); unread != 0 {
		t.Errorf("sender unread = %d, want 0", unread)
	}
	if got.LastMessageID == nil || *got.LastMessageID <= m1.ID {
		t.Errorf("LastMessageID = %v, want > %d", got.LastMessageID, m1.ID)
	}
	if got.LastMessageAt.IsZero() {
		t.Error("LastMessageAt not advanced")
	}

	if err := s.MarkRead(chat.ID, ids[1]); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	got, _ = s.ChatByID(chat.ID)
	if unread := unreadSide(got, ids[1]); unread != 0 {
		t.Errorf("unread after MarkRead = %d, want 0", unread)
	}
	msgs, _ := s.MessagesForChat(chat.ID, ids[1], 50, 0)
	for _, m := range msgs {
		if m.ReceiverID == ids[1] && !m.IsRead {
			t.Errorf("message %d not flipped to read", m.ID)
		}
	}
}

func TestMemory_LastMessageAtMonotone(t *testing.T) {
	s := NewMemory()
	ids := seedUsers(t, s, "alice", "bob")
	chat, _ := s.GetOrCreateChat(ids[0], ids[1])

	later := time.Now()
	earlier := later.Add(-time.Hour)
	seedMessage(t, s, chat.ID, ids[0], ids[1], "newer", time.Minute)
	got, _ := s.ChatByID(chat.ID)
	high := got.LastMessageAt

	// 乱序到达的更早消息不得让 last_message_at 倒退
	m := &models.Message{
		ChatID: chat.ID, SenderID: ids[1], ReceiverID: ids[0],
		Content: "older", MessageType: models.MessageTypeText,
		DestructSeconds: 60, CreatedAt: earlier, ExpiresAt: earlier.Add(time.Minute),
	}
	if err := s.CreateMessage(m); err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}
	got, _ = s.ChatByID(chat.ID)
	if got.LastMessageAt.Before(high) {
		t.Errorf("LastMessageAt = %v, decreased below %v", got.LastMessageAt, high)
	}
}

func unreadSide(c *models.Chat, userID uint) int {
	if userID == c.UserAID {
		return c.UnreadA
	}
	return c.UnreadB
}

func TestMemory_MessagesForChat_ExpiryPredicate(t *testing.T) {
	s := NewMemory()
	ids := seedUsers(t, s, "alice", "bob")
	chat, _ := s.GetOrCreateChat(ids[0], ids[1])

	// 已过期但尚未被 reaper 物理删除的消息不得出现在读路径上
	now := time.Now()
	expired := &models.Message{
		ChatID: chat.ID, SenderID: ids[0], ReceiverID: ids[1],
		Content: "gone", MessageType: models.MessageTypeText,
		DestructSeconds: 5, CreatedAt: now.Add(-10 * time.Second), ExpiresAt: now.Add(-5 * time.Second),
	}
	if err := s.CreateMessage(expired); err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}
	live := seedMessage(t, s, chat.ID, ids[0], ids[1], "here", time.Minute)

	msgs, err := s.MessagesForChat(chat.ID, ids[1], 50, 0)
	if err != nil {
		t.Fatalf("MessagesForChat() error = %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != live.ID {
		t.Errorf("MessagesForChat() returned %d messages, want only the live one", len(msgs))
	}
}

func TestMemory_DeleteExpired(t *testing.T) {
	s := NewMemory()
	ids := seedUsers(t, s, "alice", "bob")
	chat, _ := s.GetOrCreateChat(ids[0], ids[1])

	seedMessage(t, s, chat.ID, ids[0], ids[1], "short", time.Millisecond)
	seedMessage(t, s, chat.ID, ids[0], ids[1], "long", time.Hour)

	n, err := s.DeleteExpired(time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteExpired() = %d, want 1", n)
	}
	// 幂等：再扫一遍没有可删的
	n, _ = s.DeleteExpired(time.Now().Add(time.Second))
	if n != 0 {
		t.Errorf("second DeleteExpired() = %d, want 0", n)
	}
}

func TestMemory_Cutoff(t *testing.T) {
	s := NewMemory()
	ids := seedUsers(t, s, "alice", "bob")
	chat, _ := s.GetOrCreateChat(ids[0], ids[1])

	old := seedMessage(t, s, chat.ID, ids[0], ids[1], "before", time.Hour)
	cut := old.CreatedAt.Add(time.Millisecond)
	if err := s.SetCutoff(ids[1], chat.ID, cut); err != nil {
		t.Fatalf("SetCutoff() error = %v", err)
	}

	// 墓碑只影响设置者
	msgsB, _ := s.MessagesForChat(chat.ID, ids[1], 50, 0)
	if len(msgsB) != 0 {
		t.Errorf("cutoff user sees %d messages, want 0", len(msgsB))
	}
	msgsA, _ := s.MessagesForChat(chat.ID, ids[0], 50, 0)
	if len(msgsA) != 1 {
		t.Errorf("other user sees %d messages, want 1", len(msgsA))
	}

	// 会话列表同样隐藏，直到有新消息把 last_message_at 推过墓碑
	chats, _ := s.ChatsForUser(ids[1])
	if len(chats) != 0 {
		t.Errorf("cutoff user chat list = %d, want 0", len(chats))
	}
	fresh := &models.Message{
		ChatID: chat.ID, SenderID: ids[0], ReceiverID: ids[1],
		Content: "after", MessageType: models.MessageTypeText,
		DestructSeconds: 3600, CreatedAt: cut.Add(time.Second), ExpiresAt: cut.Add(time.Hour),
	}
	if err := s.CreateMessage(fresh); err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}
	chats, _ = s.ChatsForUser(ids[1])
	if len(chats) != 1 {
		t.Errorf("reactivated chat list = %d, want 1", len(chats))
	}
	// 旧消息仍然不可见，新消息可见
	msgsB, _ = s.MessagesForChat(chat.ID, ids[1], 50, 0)
	if len(msgsB) != 1 || msgsB[0].ID != fresh.ID {
		t.Errorf("cutoff user sees %d messages after reactivation, want only the fresh one", len(msgsB))
	}

	// 重复删除把墓碑向前推
	later := cut.Add(time.Minute)
	if err := s.SetCutoff(ids[1], chat.ID, later); err != nil {
		t.Fatalf("SetCutoff() error = %v", err)
	}
	got, ok, _ := s.CutoffFor(ids[1], chat.ID)
	if !ok || !got.Equal(later) {
		t.Errorf("CutoffFor() = %v ok=%v, want %v", got, ok, later)
	}
}

func TestMemory_Blocks(t *testing.T) {
	s := NewMemory()
	ids := seedUsers(t, s, "alice", "bob")

	if err := s.SetBlock(ids[0], ids[1]); err != nil {
		t.Fatalf("SetBlock() error = %v", err)
	}
	// 幂等
	if err := s.SetBlock(ids[0], ids[1]); err != nil {
		t.Fatalf("SetBlock() repeat error = %v", err)
	}
	blocked, _ := s.IsBlocked(ids[0], ids[1])
	if !blocked {
		t.Error("IsBlocked() = false, want true")
	}
	// 方向性：反向不成立
	reverse, _ := s.IsBlocked(ids[1], ids[0])
	if reverse {
		t.Error("IsBlocked() reverse = true, want false")
	}
}

func TestMemory_RotateRefreshToken(t *testing.T) {
	s := NewMemory()
	ids := seedUsers(t, s, "alice")

	exp := time.Now().Add(time.Hour)
	if err := s.SaveRefreshToken(ids[0], "old-token", exp); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}
	uid, err := s.RotateRefreshToken("old-token", "new-token", exp)
	if err != nil {
		t.Fatalf("RotateRefreshToken() error = %v", err)
	}
	if uid != ids[0] {
		t.Errorf("RotateRefreshToken() userID = %d, want %d", uid, ids[0])
	}
	// 旧 token 已作废
	if _, err := s.RotateRefreshToken("old-token", "another", exp); !errors.Is(err, ErrNotFound) {
		t.Errorf("reusing revoked token error = %v, want ErrNotFound", err)
	}
}
