package service

import "errors"

// 业务层通用错误，handler 和 ws 层根据错误类型映射到 HTTP 状态码或 error 帧。
var (
	ErrUsernameTaken      = errors.New("username taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrChatNotFound       = errors.New("chat not found")
	ErrNotParticipant     = errors.New("not a chat participant")
	ErrSenderMismatch     = errors.New("sender does not match joined identity")
	ErrSelfChat           = errors.New("cannot chat with self")
	ErrInvalidMessage     = errors.New("invalid message")
)
