package service

import (
	"errors"
	"testing"
	"time"

	"github.com/tufan8877/whisper3-sub000/internal/models"
	"github.com/tufan8877/whisper3-sub000/internal/store"
)

func TestNormalizeDestructTimer(t *testing.T) {
	tests := []struct {
		name string
		raw  float64
		want int
	}{
		{"plain seconds", 60, 60},
		{"minimum boundary", 5, 5},
		{"below minimum clamps up", 1, 5},
		{"zero clamps up", 0, 5},
		{"negative clamps up", -10, 5},
		{"maximum boundary", 604800, 604800},
		{"milliseconds divided down", 60000 * 1000, 60000},
		{"one day in milliseconds", 86400000, 86400},
		{"huge milliseconds clamps to max", 999999999999, 604800},
		{"ambiguous magnitude treated as milliseconds", 700000, 700},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeDestructTimer(tt.raw)
			if got != tt.want {
				t.Errorf("NormalizeDestructTimer(%v) = %d, want %d", tt.raw, got, tt.want)
			}
			if got < MinDestructSeconds || got > MaxDestructSeconds {
				t.Errorf("NormalizeDestructTimer(%v) = %d, outside [%d, %d]", tt.raw, got, MinDestructSeconds, MaxDestructSeconds)
			}
		})
	}
}

func newFixture(t *testing.T) (*store.Memory, *MessageService, *ChatService, uint, uint) {
	t.Helper()
	st := store.NewMemory()
	alice := &models.User{Username: "alice", PasswordHash: "x"}
	bob := &models.User{Username: "bob", PasswordHash: "x"}
	if err := st.CreateUser(alice); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if err := st.CreateUser(bob); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	return st, NewMessageService(st), NewChatService(st), alice.ID, bob.ID
}

func TestIngest_CreatesMessageWithExpiry(t *testing.T) {
	_, msgSvc, _, alice, bob := newFixture(t)

	before := time.Now()
	msg, err := msgSvc.Ingest(IngestInput{
		SenderID: alice, ReceiverID: bob,
		Content: "hi", MessageType: models.MessageTypeText, DestructTimer: 5,
	}, alice)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if msg.ID == 0 || msg.ChatID == 0 {
		t.Errorf("Ingest() returned zero ids: %+v", msg)
	}
	if msg.DestructSeconds != 5 {
		t.Errorf("DestructSeconds = %d, want 5", msg.DestructSeconds)
	}
	wantExpiry := msg.CreatedAt.Add(5 * time.Second)
	if !msg.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("ExpiresAt = %v, want CreatedAt+5s = %v", msg.ExpiresAt, wantExpiry)
	}
	if msg.CreatedAt.Before(before) {
		t.Errorf("CreatedAt = %v, before test start", msg.CreatedAt)
	}

	// 同一对身份再次发送不会产生第二个会话
	msg2, err := msgSvc.Ingest(IngestInput{
		SenderID: bob, ReceiverID: alice,
		Content: "hello back", DestructTimer: 60,
	}, bob)
	if err != nil {
		t.Fatalf("Ingest() reply error = %v", err)
	}
	if msg2.ChatID != msg.ChatID {
		t.Errorf("reply ChatID = %d, want %d", msg2.ChatID, msg.ChatID)
	}
}

func TestIngest_SenderMismatch(t *testing.T) {
	_, msgSvc, _, alice, bob := newFixture(t)

	_, err := msgSvc.Ingest(IngestInput{
		SenderID: bob, ReceiverID: alice, Content: "spoofed", DestructTimer: 60,
	}, alice)
	if !errors.Is(err, ErrSenderMismatch) {
		t.Errorf("Ingest() error = %v, want ErrSenderMismatch", err)
	}
}

func TestIngest_Validation(t *testing.T) {
	_, msgSvc, _, alice, bob := newFixture(t)

	tests := []struct {
		name string
		in   IngestInput
		want error
	}{
		{"empty content", IngestInput{SenderID: alice, ReceiverID: bob, DestructTimer: 60}, ErrInvalidMessage},
		{"unknown type", IngestInput{SenderID: alice, ReceiverID: bob, Content: "x", MessageType: "video", DestructTimer: 60}, ErrInvalidMessage},
		{"file without name", IngestInput{SenderID: alice, ReceiverID: bob, Content: "blob", MessageType: models.MessageTypeFile, DestructTimer: 60}, ErrInvalidMessage},
		{"self message", IngestInput{SenderID: alice, ReceiverID: alice, Content: "x", DestructTimer: 60}, ErrSelfChat},
		{"unknown receiver", IngestInput{SenderID: alice, ReceiverID: 999, Content: "x", DestructTimer: 60}, ErrUserNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := msgSvc.Ingest(tt.in, alice)
			if !errors.Is(err, tt.want) {
				t.Errorf("Ingest() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestIngest_WrongChatID(t *testing.T) {
	st, msgSvc, _, alice, bob := newFixture(t)

	carol := &models.User{Username: "carol", PasswordHash: "x"}
	if err := st.CreateUser(carol); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	other, _ := st.GetOrCreateChat(alice, carol.ID)

	// 指定的会话不包含接收方
	_, err := msgSvc.Ingest(IngestInput{
		ChatID: other.ID, SenderID: alice, ReceiverID: bob, Content: "x", DestructTimer: 60,
	}, alice)
	if !errors.Is(err, ErrNotParticipant) {
		t.Errorf("Ingest() error = %v, want ErrNotParticipant", err)
	}
	_, err = msgSvc.Ingest(IngestInput{
		ChatID: 404, SenderID: alice, ReceiverID: bob, Content: "x", DestructTimer: 60,
	}, alice)
	if !errors.Is(err, ErrChatNotFound) {
		t.Errorf("Ingest() error = %v, want ErrChatNotFound", err)
	}
}

func TestHistory_ExcludesExpired(t *testing.T) {
	st, msgSvc, _, alice, bob := newFixture(t)
	chat, _ := st.GetOrCreateChat(alice, bob)

	// 手工放一条已过期的消息，模拟 reaper 还没跑到的窗口
	now := time.Now()
	expired := &models.Message{
		ChatID: chat.ID, SenderID: alice, ReceiverID: bob,
		Content: "gone", MessageType: models.MessageTypeText,
		DestructSeconds: 5, CreatedAt: now.Add(-10 * time.Second), ExpiresAt: now.Add(-5 * time.Second),
	}
	if err := st.CreateMessage(expired); err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}
	live, err := msgSvc.Ingest(IngestInput{
		SenderID: alice, ReceiverID: bob, Content: "hi", DestructTimer: 60,
	}, alice)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	msgs, err := msgSvc.History(chat.ID, bob, 50, 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != live.ID {
		t.Errorf("History() = %d messages, want only the live one", len(msgs))
	}

	// 非参与者不能读历史
	if _, err := msgSvc.History(chat.ID, 999, 50, 0); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("History() outsider error = %v, want ErrNotParticipant", err)
	}
}
