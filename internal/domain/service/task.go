package service

import (
	"fmt"
	"strings"

	"github.com/ngoclaw/agentcore/internal/domain/entity"
)

// 会话元数据键
const (
	MetaTaskID    = "task_id"
	MetaTaskTitle = "task_title"
)

const untitledTask = "Untitled task"

// TaskTitle returns the title tag of a task message.
func TaskTitle(msg *entity.InboundMessage) string {
	if title, ok := msg.TagValue(entity.TagTitle); ok && strings.TrimSpace(title) != "" {
		return strings.TrimSpace(title)
	}
	return untitledTask
}

// PromptContent returns the user-message text for msg. Chat messages are used
// verbatim; task messages are framed with their title.
func PromptContent(msg *entity.InboundMessage) string {
	if !msg.IsTask() {
		return msg.Content
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Task: %s\n\n", TaskTitle(msg))
	body := strings.TrimSpace(msg.Content)
	if body == "" {
		body = "(no description)"
	}
	b.WriteString(body)
	b.WriteString("\n\nComplete this task and reply with the result.")
	return b.String()
}
