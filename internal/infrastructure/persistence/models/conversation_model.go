package models

import (
	"time"
)

// ConversationModel 数据库会话模型（消息存于 messages 表）
type ConversationModel struct {
	AgentName      string `gorm:"primaryKey;size:128"`
	ID             string `gorm:"primaryKey;size:128"`
	CreatedAt      time.Time
	LastActivityAt time.Time `gorm:"index"`
	Metadata       string    `gorm:"type:text"` // JSON encoded metadata
}

// TableName 指定表名
func (ConversationModel) TableName() string {
	return "conversations"
}

// ProcessedModel 已处理入站消息
type ProcessedModel struct {
	MessageID   string `gorm:"primaryKey;size:128"`
	ProcessedAt time.Time
}

// TableName 指定表名
func (ProcessedModel) TableName() string {
	return "processed_messages"
}
