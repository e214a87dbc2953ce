package models

import (
	"time"
)

// MessageModel 数据库消息模型，一行一条会话消息
type MessageModel struct {
	AgentName      string `gorm:"primaryKey;size:128"`
	ConversationID string `gorm:"primaryKey;size:128"`
	Seq            int    `gorm:"primaryKey;autoIncrement:false"`
	Role           string `gorm:"size:16;not null"`
	Content        string `gorm:"type:text;not null"`
	SourceEventID  string `gorm:"size:128"`
	Timestamp      time.Time
}

// TableName 指定表名
func (MessageModel) TableName() string {
	return "messages"
}
