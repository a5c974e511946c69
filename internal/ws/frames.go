package ws

import (
	"encoding/json"
	"errors"

	"github.com/tufan8877/whisper3-sub000/internal/service"
)

// 入站帧的判别类型。未知类型一律拒绝，不做宽容解析。
const (
	frameJoin    = "join"
	frameMessage = "message"
	frameTyping  = "typing"
	frameRead    = "read"
)

// 自定义关闭码，区分不同的强制断开原因。
const (
	CloseSessionReplaced = 4000 // 同一身份的新连接顶掉旧连接
	CloseJoinFailed      = 4401 // join 凭证缺失或无效
	CloseRateLimited     = 4429 // 超过单连接令牌桶
)

var (
	errUnknownFrame   = errors.New("unknown frame type")
	errMalformedFrame = errors.New("malformed frame")
)

type JoinFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type MessageFrame struct {
	Type          string  `json:"type"`
	ChatID        uint    `json:"chat_id"`
	SenderID      uint    `json:"sender_id"`
	ReceiverID    uint    `json:"receiver_id"`
	Content       string  `json:"content"`
	MessageType   string  `json:"message_type"`
	DestructTimer float64 `json:"destruct_timer"`
	FileName      string  `json:"file_name"`
	FileSize      int64   `json:"file_size"`
}

type TypingFrame struct {
	Type       string `json:"type"`
	ChatID     uint   `json:"chat_id"`
	SenderID   uint   `json:"sender_id"`
	ReceiverID uint   `json:"receiver_id"`
	IsTyping   bool   `json:"is_typing"`
}

type ReadFrame struct {
	Type   string `json:"type"`
	ChatID uint   `json:"chat_id"`
}

// parseFrame 先读判别字段，再按变体严格解析。形状不符或类型未知都返回错误，
// 由调用方回一个 error 帧，连接保持打开。
func parseFrame(data []byte) (interface{}, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, errMalformedFrame
	}
	switch head.Type {
	case frameJoin:
		var f JoinFrame
		if err := json.Unmarshal(data, &f); err != nil || f.Token == "" {
			return nil, errMalformedFrame
		}
		return f, nil
	case frameMessage:
		var f MessageFrame
		if err := json.Unmarshal(data, &f); err != nil || f.SenderID == 0 || f.ReceiverID == 0 {
			return nil, errMalformedFrame
		}
		return f, nil
	case frameTyping:
		var f TypingFrame
		if err := json.Unmarshal(data, &f); err != nil || f.SenderID == 0 || f.ReceiverID == 0 {
			return nil, errMalformedFrame
		}
		return f, nil
	case frameRead:
		var f ReadFrame
		if err := json.Unmarshal(data, &f); err != nil || f.ChatID == 0 {
			return nil, errMalformedFrame
		}
		return f, nil
	default:
		return nil, errUnknownFrame
	}
}

// 出站事件统一在这里构造，保证帧名不散落在各处。
func evConnectionEstablished() []byte {
	return mustMarshal(map[string]interface{}{"type": "connection_established"})
}

func evJoinConfirmed(userID uint) []byte {
	return mustMarshal(map[string]interface{}{"type": "join_confirmed", "user_id": userID})
}

func evNewMessage(m service.MessageDTO) []byte {
	return mustMarshal(map[string]interface{}{"type": "new_message", "message": m})
}

func evMessageSent(messageID, chatID uint) []byte {
	return mustMarshal(map[string]interface{}{"type": "message_sent", "message_id": messageID, "chat_id": chatID})
}

func evUserStatus(userID uint, online bool) []byte {
	return mustMarshal(map[string]interface{}{"type": "user_status", "user_id": userID, "is_online": online})
}

func evTyping(f TypingFrame) []byte {
	return mustMarshal(map[string]interface{}{
		"type": "typing", "chat_id": f.ChatID, "sender_id": f.SenderID,
		"receiver_id": f.ReceiverID, "is_typing": f.IsTyping,
	})
}

func evError(msg string) []byte {
	return mustMarshal(map[string]interface{}{"type": "error", "message": msg})
}

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
