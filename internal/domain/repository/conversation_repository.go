package repository

import (
	"context"
	"time"

	"github.com/ngoclaw/agentcore/internal/domain/entity"
)

// ConversationRef 会话引用。会话 ID 只在所属代理内唯一
type ConversationRef struct {
	AgentName      string    `json:"agent_name"`
	ID             string    `json:"id"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// ConversationStore 会话仓储接口（遵循依赖倒置原则）
// 定义在领域层，实现在基础设施层
type ConversationStore interface {
	// SaveConversation 整体保存会话快照（创建或覆盖），键为 (AgentName, ID)
	SaveConversation(ctx context.Context, snap *entity.ConversationSnapshot) error

	// LoadConversation 读取会话快照，不存在时返回 NotFound 错误
	LoadConversation(ctx context.Context, agentName, id string) (*entity.ConversationSnapshot, error)

	// ListConversations 列出全部会话
	ListConversations(ctx context.Context) ([]ConversationRef, error)

	// DeleteConversation 删除会话，不存在时不报错
	DeleteConversation(ctx context.Context, agentName, id string) error

	// CleanupOlderThan 删除最后活跃时间早于 now-maxAge 的会话，返回删除数量
	CleanupOlderThan(ctx context.Context, maxAge time.Duration) (int, error)
}

// ProcessedIndex 已处理入站消息索引，仅用于幂等判断
type ProcessedIndex interface {
	// MarkProcessed 记录消息已处理
	MarkProcessed(ctx context.Context, messageID string, at time.Time) error

	// IsProcessed 判断消息是否已处理
	IsProcessed(ctx context.Context, messageID string) (bool, error)

	// ProcessedAt 返回处理时间，未处理时 ok 为 false
	ProcessedAt(ctx context.Context, messageID string) (at time.Time, ok bool, err error)
}

// Store 会话与幂等索引的组合
type Store interface {
	ConversationStore
	ProcessedIndex

	// Close 释放底层资源
	Close() error
}
