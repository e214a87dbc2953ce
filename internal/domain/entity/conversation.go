package entity

import (
	"time"
)

// Conversation 会话聚合根
// 一个 agent 在一个线程上的有序消息历史。消息只追加，不重排；
// 第一条消息（若存在）是 system prompt。
type Conversation struct {
	id             string
	agentName      string
	messages       []Message
	createdAt      time.Time
	lastActivityAt time.Time
	metadata       map[string]any
}

// ConversationSnapshot is the persisted form of a Conversation.
type ConversationSnapshot struct {
	ID             string         `json:"id"`
	AgentName      string         `json:"agent_name"`
	Messages       []Message      `json:"messages"`
	CreatedAt      time.Time      `json:"created_at"`
	LastActivityAt time.Time      `json:"last_activity_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// NewConversation 创建新会话（工厂方法），以 system prompt 作为第一条消息
func NewConversation(id, agentName, systemPrompt string, now time.Time) (*Conversation, error) {
	if id == "" {
		return nil, ErrInvalidConversationID
	}
	if agentName == "" {
		return nil, ErrInvalidAgentName
	}

	c := &Conversation{
		id:             id,
		agentName:      agentName,
		messages:       make([]Message, 0, 8),
		createdAt:      now,
		lastActivityAt: now,
		metadata:       make(map[string]any),
	}
	if systemPrompt != "" {
		c.messages = append(c.messages, NewMessage(RoleSystem, systemPrompt, now))
	}
	return c, nil
}

// ReconstructConversation 重建会话（用于从持久化层恢复）
func ReconstructConversation(snap *ConversationSnapshot) (*Conversation, error) {
	if snap == nil || snap.ID == "" {
		return nil, ErrInvalidConversationID
	}
	messages := make([]Message, len(snap.Messages))
	copy(messages, snap.Messages)

	metadata := make(map[string]any, len(snap.Metadata))
	for k, v := range snap.Metadata {
		metadata[k] = v
	}

	return &Conversation{
		id:             snap.ID,
		agentName:      snap.AgentName,
		messages:       messages,
		createdAt:      snap.CreatedAt,
		lastActivityAt: snap.LastActivityAt,
		metadata:       metadata,
	}, nil
}

// ID 返回会话ID
func (c *Conversation) ID() string { return c.id }

// AgentName 返回所属 agent
func (c *Conversation) AgentName() string { return c.agentName }

// CreatedAt 返回创建时间
func (c *Conversation) CreatedAt() time.Time { return c.createdAt }

// LastActivityAt 返回最后活动时间
func (c *Conversation) LastActivityAt() time.Time { return c.lastActivityAt }

// Len 返回消息数量
func (c *Conversation) Len() int { return len(c.messages) }

// Messages 返回消息副本
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Last returns the most recent message, if any.
func (c *Conversation) Last() (Message, bool) {
	if len(c.messages) == 0 {
		return Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// Append 追加消息（唯一的变更入口）
func (c *Conversation) Append(msg Message) error {
	if !msg.Role.Valid() {
		return ErrInvalidRole
	}
	if msg.Role == RoleSystem && len(c.messages) > 0 {
		return ErrSystemMessageNotFirst
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	c.messages = append(c.messages, msg)
	if msg.Timestamp.After(c.lastActivityAt) {
		c.lastActivityAt = msg.Timestamp
	}
	return nil
}

// SetMetadata 设置元数据
func (c *Conversation) SetMetadata(key string, value any) {
	c.metadata[key] = value
}

// GetMetadata 获取元数据
func (c *Conversation) GetMetadata(key string) (any, bool) {
	v, ok := c.metadata[key]
	return v, ok
}

// Snapshot 生成可持久化快照（深拷贝消息与元数据）
func (c *Conversation) Snapshot() *ConversationSnapshot {
	metadata := make(map[string]any, len(c.metadata))
	for k, v := range c.metadata {
		metadata[k] = v
	}
	return &ConversationSnapshot{
		ID:             c.id,
		AgentName:      c.agentName,
		Messages:       c.Messages(),
		CreatedAt:      c.createdAt,
		LastActivityAt: c.lastActivityAt,
		Metadata:       metadata,
	}
}
