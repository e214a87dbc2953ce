// Package cli renders stored state for the command-line inspection commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ngoclaw/agentcore/internal/domain/entity"
	"github.com/ngoclaw/agentcore/internal/domain/repository"
	"github.com/ngoclaw/agentcore/internal/infrastructure/eventbus"
)

// brand colors
var (
	colorCyan    = lipgloss.Color("#00D7FF")
	colorDimCyan = lipgloss.Color("#00AFAF")
	colorGray    = lipgloss.Color("#6C6C6C")
	colorWhite   = lipgloss.Color("#FFFFFF")
	colorGreen   = lipgloss.Color("#00FF87")
	colorYellow  = lipgloss.Color("#FFD75F")
)

var (
	titleStyle = lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(colorGray)
	valueStyle = lipgloss.NewStyle().Foreground(colorWhite)

	roleStyles = map[entity.Role]lipgloss.Style{
		entity.RoleSystem:    lipgloss.NewStyle().Foreground(colorYellow).Bold(true),
		entity.RoleUser:      lipgloss.NewStyle().Foreground(colorGreen).Bold(true),
		entity.RoleAssistant: lipgloss.NewStyle().Foreground(colorDimCyan).Bold(true),
	}
	bodyStyle = lipgloss.NewStyle().PaddingLeft(2)
)

const timeLayout = "2006-01-02 15:04:05"

// Conversations 渲染会话列表
func Conversations(w io.Writer, refs []repository.ConversationRef) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Conversations (%d)", len(refs))))
	if len(refs) == 0 {
		fmt.Fprintln(w, labelStyle.Render("  (none)"))
		return
	}

	agentWidth := len("AGENT")
	for _, ref := range refs {
		agentWidth = max(agentWidth, len(ref.AgentName))
	}
	header := fmt.Sprintf("  %-*s  %-19s  %s", agentWidth, "AGENT", "LAST ACTIVITY", "ID")
	fmt.Fprintln(w, labelStyle.Render(header))
	for _, ref := range refs {
		line := fmt.Sprintf("  %-*s  %-19s  %s", agentWidth, ref.AgentName, ref.LastActivityAt.Local().Format(timeLayout), ref.ID)
		fmt.Fprintln(w, valueStyle.Render(line))
	}
}

// Conversation 渲染单个会话的全部消息
func Conversation(w io.Writer, snap *entity.ConversationSnapshot) {
	fmt.Fprintln(w, titleStyle.Render(snap.AgentName+" / "+snap.ID))
	field(w, "created", snap.CreatedAt.Local().Format(timeLayout))
	field(w, "last activity", snap.LastActivityAt.Local().Format(timeLayout))
	field(w, "messages", fmt.Sprint(len(snap.Messages)))
	for key, value := range snap.Metadata {
		field(w, key, fmt.Sprint(value))
	}

	for _, msg := range snap.Messages {
		fmt.Fprintln(w)
		style, ok := roleStyles[msg.Role]
		if !ok {
			style = labelStyle
		}
		heading := style.Render(strings.ToUpper(string(msg.Role)))
		heading += " " + labelStyle.Render(msg.Timestamp.Local().Format(timeLayout))
		if msg.SourceEventID != "" {
			heading += " " + labelStyle.Render("← "+msg.SourceEventID)
		}
		fmt.Fprintln(w, heading)
		fmt.Fprintln(w, bodyStyle.Render(msg.Content))
	}
}

// Identities 渲染代理身份列表
func Identities(w io.Writer, identities []*entity.Identity) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Identities (%d)", len(identities))))
	if len(identities) == 0 {
		fmt.Fprintln(w, labelStyle.Render("  (none)"))
		return
	}
	for _, id := range identities {
		state := lipgloss.NewStyle().Foreground(colorYellow).Render("pending")
		if id.Published {
			state = lipgloss.NewStyle().Foreground(colorGreen).Render("published")
		}
		fmt.Fprintf(w, "  %s  %s  %s\n", valueStyle.Render(id.Slug), labelStyle.Render(id.PublicKey), state)
	}
}

// JournalEntry 渲染一条事件日志
func JournalEntry(w io.Writer, e eventbus.JournalEntry) {
	payload := string(e.Payload)
	var compact map[string]any
	if err := json.Unmarshal(e.Payload, &compact); err == nil {
		if b, err := json.Marshal(compact); err == nil {
			payload = string(b)
		}
	}
	fmt.Fprintf(w, "%s  %s  %s\n",
		labelStyle.Render(e.Timestamp.Local().Format(time.RFC3339)),
		titleStyle.Render(e.Type),
		valueStyle.Render(payload),
	)
}

// Removed 渲染清理结果
func Removed(w io.Writer, n int, maxAge time.Duration) {
	fmt.Fprintf(w, "%s %s\n",
		lipgloss.NewStyle().Foreground(colorGreen).Render("✓"),
		valueStyle.Render(fmt.Sprintf("removed %d conversation(s) idle longer than %s", n, maxAge)),
	)
}

func field(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %s %s\n", labelStyle.Render(label+":"), valueStyle.Render(value))
}
