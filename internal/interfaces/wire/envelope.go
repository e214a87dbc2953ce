// Package wire holds the JSON envelopes shared by the transports (HTTP, NATS,
// stdio).
package wire

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ngoclaw/agentcore/internal/domain/entity"
	"github.com/ngoclaw/agentcore/internal/domain/service"
	apperrors "github.com/ngoclaw/agentcore/pkg/errors"
)

// 出站信封类型
const (
	TypeReply    = "reply"
	TypeIdentity = "identity"
	TypeOutcome  = "outcome"
)

// InboundEnvelope 入站信封：一条消息 + 目标代理
type InboundEnvelope struct {
	Agent    string                `json:"agent"`
	Provider string                `json:"provider,omitempty"`
	Message  entity.InboundMessage `json:"message"`
}

// DecodeInbound parses and normalizes one inbound envelope.
func DecodeInbound(data []byte, now time.Time) (*InboundEnvelope, error) {
	var env InboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, apperrors.NewInvalidInputError("invalid inbound envelope: " + err.Error())
	}
	if err := env.Normalize(now); err != nil {
		return nil, err
	}
	return &env, nil
}

// Normalize validates the envelope and fills the defaults a transport may
// omit: a generated message id, the receive time and the chat kind.
func (e *InboundEnvelope) Normalize(now time.Time) error {
	e.Agent = strings.TrimSpace(e.Agent)
	if e.Agent == "" {
		return apperrors.NewInvalidInputError("agent is required")
	}
	if e.Message.ID == "" {
		e.Message.ID = uuid.NewString()
	}
	if e.Message.CreatedAt.IsZero() {
		e.Message.CreatedAt = now
	}
	if e.Message.Kind == "" {
		e.Message.Kind = entity.KindChat
	}
	return nil
}

// IdentityAnnouncement 代理身份公告
type IdentityAnnouncement struct {
	Slug      string              `json:"slug"`
	PublicKey string              `json:"public_key"`
	Profile   entity.AgentProfile `json:"profile"`
}

// OutcomeReport 单次分发结果（用于请求-应答式传输）
type OutcomeReport struct {
	MessageID string          `json:"message_id"`
	Agent     string          `json:"agent"`
	Outcome   service.Outcome `json:"outcome"`
}

// Outbound 出站信封，Type 决定哪个字段有值
type Outbound struct {
	Type     string                `json:"type"`
	Reply    *entity.OutboundReply `json:"reply,omitempty"`
	Identity *IdentityAnnouncement `json:"identity,omitempty"`
	Outcome  *OutcomeReport        `json:"outcome,omitempty"`
}

// NewReply wraps a reply.
func NewReply(reply *entity.OutboundReply) Outbound {
	return Outbound{Type: TypeReply, Reply: reply}
}

// NewIdentity wraps an identity announcement. The secret key never leaves
// the process.
func NewIdentity(identity *entity.Identity, profile entity.AgentProfile) Outbound {
	return Outbound{Type: TypeIdentity, Identity: &IdentityAnnouncement{
		Slug:      identity.Slug,
		PublicKey: identity.PublicKey,
		Profile:   profile,
	}}
}

// NewOutcome wraps a dispatch outcome.
func NewOutcome(messageID, agent string, outcome service.Outcome) Outbound {
	return Outbound{Type: TypeOutcome, Outcome: &OutcomeReport{MessageID: messageID, Agent: agent, Outcome: outcome}}
}
