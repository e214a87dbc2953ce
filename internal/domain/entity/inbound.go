package entity

import (
	"time"
)

// MessageKind distinguishes plain chat from task-shaped inbound messages.
type MessageKind string

const (
	KindChat MessageKind = "chat"
	KindTask MessageKind = "task"
)

// Tag names understood by the core.
const (
	TagEvent     = "e"     // ["e", <event id>, <relay hint>, "root"|"reply"]
	TagRootEvent = "E"     // ["E", <root event id>]
	TagPubkey    = "p"     // ["p", <pubkey>]
	TagTitle     = "title" // ["title", <task title>]
	TagProject   = "a"     // ["a", <project reference>]

	MarkerRoot  = "root"
	MarkerReply = "reply"
)

// InboundMessage 入站消息。真实性校验由传输层负责。
type InboundMessage struct {
	ID        string      `json:"id"`
	Author    string      `json:"author"`
	Content   string      `json:"content"`
	Kind      MessageKind `json:"kind,omitempty"`
	Tags      [][]string  `json:"tags,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// IsTask 判断是否为任务消息
func (m *InboundMessage) IsTask() bool {
	return m.Kind == KindTask
}

// TagValue returns the first value of the first tag named name.
func (m *InboundMessage) TagValue(name string) (string, bool) {
	for _, tag := range m.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1], true
		}
	}
	return "", false
}

// markedEvent returns the first "e" tag carrying the given marker.
func (m *InboundMessage) markedEvent(marker string) (string, bool) {
	for _, tag := range m.Tags {
		if len(tag) >= 4 && tag[0] == TagEvent && tag[3] == marker && tag[1] != "" {
			return tag[1], true
		}
	}
	return "", false
}

// ReplyRef returns the event this message directly replies to.
func (m *InboundMessage) ReplyRef() (string, bool) {
	return m.markedEvent(MarkerReply)
}

// RootRef returns the root event of this message's thread.
func (m *InboundMessage) RootRef() (string, bool) {
	if id, ok := m.markedEvent(MarkerRoot); ok {
		return id, true
	}
	if id, ok := m.TagValue(TagRootEvent); ok && id != "" {
		return id, true
	}
	return "", false
}

// OutboundReply 出站回复，由传输层负责签名与发送
type OutboundReply struct {
	ID        string         `json:"id"`
	InReplyTo string         `json:"in_reply_to"`
	AgentName string         `json:"agent_name"`
	Author    string         `json:"author"`
	Content   string         `json:"content"`
	Tags      [][]string     `json:"tags"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewReply builds a threaded reply to m authored by the given agent identity.
// Task replies carry the original project tag.
func (m *InboundMessage) NewReply(id string, agent *Identity, content string, now time.Time) *OutboundReply {
	root := m.ID
	if r, ok := m.RootRef(); ok {
		root = r
	}

	tags := [][]string{
		{TagEvent, root, "", MarkerRoot},
		{TagEvent, m.ID, "", MarkerReply},
		{TagPubkey, m.Author},
	}
	if m.IsTask() {
		for _, tag := range m.Tags {
			if len(tag) >= 2 && tag[0] == TagProject {
				tags = append(tags, append([]string(nil), tag...))
			}
		}
	}

	return &OutboundReply{
		ID:        id,
		InReplyTo: m.ID,
		AgentName: agent.Slug,
		Author:    agent.PublicKey,
		Content:   content,
		Tags:      tags,
		CreatedAt: now,
		Metadata:  make(map[string]any),
	}
}
