package repository

import (
	"context"

	"github.com/ngoclaw/agentcore/internal/domain/entity"
)

// IdentityRepository 代理身份仓储接口
type IdentityRepository interface {
	// Find 根据 slug 查找身份，不存在时返回 NotFound 错误
	Find(ctx context.Context, slug string) (*entity.Identity, error)

	// FindAll 查找所有身份
	FindAll(ctx context.Context) ([]*entity.Identity, error)

	// Save 保存身份，slug 已存在时返回 AlreadyExists 错误
	Save(ctx context.Context, identity *entity.Identity) error

	// MarkPublished 标记身份已对外发布
	MarkPublished(ctx context.Context, slug string) error
}
