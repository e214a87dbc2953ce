package service

import (
	"context"
	"time"

	"github.com/ngoclaw/agentcore/internal/domain/entity"
)

// ReplyPublisher signs and transmits replies. Implemented by the transport layer.
type ReplyPublisher interface {
	PublishReply(ctx context.Context, reply *entity.OutboundReply) error
}

// IdentityPublisher announces a newly reserved agent identity.
type IdentityPublisher interface {
	PublishIdentity(ctx context.Context, identity *entity.Identity, profile entity.AgentProfile) error
}

// EventEmitter 领域事件出口，由事件总线实现
type EventEmitter interface {
	Emit(ctx context.Context, eventType string, payload any)
}

// 事件类型
const (
	EventDispatchReplied   = "dispatch.replied"
	EventDispatchSkipped   = "dispatch.skipped"
	EventDispatchFailed    = "dispatch.failed"
	EventIdentityReserved  = "identity.reserved"
	EventIdentityPublished = "identity.published"
)

// DispatchEvent is the payload of every dispatch.* event.
type DispatchEvent struct {
	MessageID      string        `json:"message_id"`
	AgentName      string        `json:"agent_name"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Outcome        Outcome       `json:"outcome"`
	Provider       string        `json:"provider,omitempty"`
	Model          string        `json:"model,omitempty"`
	Usage          *TokenUsage   `json:"usage,omitempty"`
	ErrorKind      string        `json:"error_kind,omitempty"`
	Error          string        `json:"error,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// IdentityEvent is the payload of identity.* events.
type IdentityEvent struct {
	Slug      string `json:"slug"`
	PublicKey string `json:"public_key"`
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, string, any) {}
