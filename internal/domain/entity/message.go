package entity

import (
	"time"
)

// Role 消息角色
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the three roles a conversation may hold.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message 会话中的一条消息（值对象，追加后不再修改）
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// SourceEventID references the inbound message a user-role entry was built from.
	SourceEventID string `json:"source_event_id,omitempty"`
}

// NewMessage 创建消息
func NewMessage(role Role, content string, at time.Time) Message {
	return Message{Role: role, Content: content, Timestamp: at}
}

// NewUserMessage 创建来自入站消息的用户消息
func NewUserMessage(content, sourceEventID string, at time.Time) Message {
	return Message{Role: RoleUser, Content: content, Timestamp: at, SourceEventID: sourceEventID}
}

// IsSystem 判断是否为系统消息
func (m Message) IsSystem() bool {
	return m.Role == RoleSystem
}
