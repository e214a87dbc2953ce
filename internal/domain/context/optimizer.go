package context

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultReserve 预留给模型输出的安全余量（token）
const DefaultReserve = 1000

// Message 用于上下文管理的消息结构
type Message struct {
	Role    string
	Content string
}

const roleSystem = "system"

// Tokenizer token 计数接口
type Tokenizer interface {
	Count(text string) int
}

// SimpleTokenizer 简单 token 计数器 (基于字符估算)
type SimpleTokenizer struct {
	charsPerToken float64
}

// NewSimpleTokenizer 创建简单计数器
func NewSimpleTokenizer() *SimpleTokenizer {
	return &SimpleTokenizer{
		charsPerToken: 4.0, // 英文平均 4 字符一个 token，中文约 2 字符
	}
}

// Count 估算 token 数
func (t *SimpleTokenizer) Count(text string) int {
	chineseCount := 0
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FFF {
			chineseCount++
		}
	}

	totalChars := utf8.RuneCountInString(text)
	otherChars := totalChars - chineseCount

	tokens := float64(chineseCount)/2.0 + float64(otherChars)/t.charsPerToken

	return int(tokens) + 1
}

// Optimizer 上下文窗口优化器，无状态，所有方法只读输入
type Optimizer struct {
	tokenizer Tokenizer
	reserve   int
}

// NewOptimizer 创建优化器。tokenizer 为 nil 时使用 SimpleTokenizer，
// reserve 为负时使用 DefaultReserve。
func NewOptimizer(tokenizer Tokenizer, reserve int) *Optimizer {
	if tokenizer == nil {
		tokenizer = NewSimpleTokenizer()
	}
	if reserve < 0 {
		reserve = DefaultReserve
	}
	return &Optimizer{tokenizer: tokenizer, reserve: reserve}
}

// Reserve 返回安全余量
func (o *Optimizer) Reserve() int {
	return o.reserve
}

// Cost 估算单条消息的 token 数
func (o *Optimizer) Cost(m Message) int {
	return o.tokenizer.Count(m.Content)
}

// EstimateTokens 估算消息列表的 token 数
func (o *Optimizer) EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += o.Cost(m)
	}
	return total
}

// Budget returns the usable token budget for a window of maxTokens.
func (o *Optimizer) Budget(maxTokens int) int {
	if b := maxTokens - o.reserve; b > 0 {
		return b
	}
	return 0
}

// splitSystem separates a leading system message from the rest.
func splitSystem(messages []Message) (*Message, []Message) {
	if len(messages) > 0 && messages[0].Role == roleSystem {
		sys := messages[0]
		return &sys, messages[1:]
	}
	return nil, messages
}

// TrimToWindow keeps the leading system message and the longest contiguous
// suffix of the remaining history whose cost fits in maxTokens minus the
// reserve. The system message's own cost is charged against the budget first.
// Relative order is preserved and the input slice is not modified.
func (o *Optimizer) TrimToWindow(messages []Message, maxTokens int) []Message {
	sys, rest := splitSystem(messages)

	remaining := o.Budget(maxTokens)
	if sys != nil {
		remaining -= o.Cost(*sys)
	}

	start := len(rest)
	for i := len(rest) - 1; i >= 0; i-- {
		cost := o.Cost(rest[i])
		if cost > remaining {
			break
		}
		remaining -= cost
		start = i
	}

	out := make([]Message, 0, len(rest)-start+1)
	if sys != nil {
		out = append(out, *sys)
	}
	return append(out, rest[start:]...)
}

// SummarizeOlder collapses every non-system message before the last keepLast
// into one assistant placeholder. The leading system message is kept.
func (o *Optimizer) SummarizeOlder(messages []Message, keepLast int) []Message {
	if keepLast < 0 {
		keepLast = 0
	}
	sys, rest := splitSystem(messages)

	out := make([]Message, 0, keepLast+2)
	if sys != nil {
		out = append(out, *sys)
	}
	if len(rest) <= keepLast {
		return append(out, rest...)
	}

	cut := len(rest) - keepLast
	out = append(out, Message{Role: "assistant", Content: summaryPlaceholder(rest[:cut])})
	return append(out, rest[cut:]...)
}

const summaryPreviewRunes = 60

func summaryPlaceholder(older []Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Summary of %d earlier messages]", len(older))
	for _, m := range older {
		preview := strings.Join(strings.Fields(m.Content), " ")
		if utf8.RuneCountInString(preview) > summaryPreviewRunes {
			preview = string([]rune(preview)[:summaryPreviewRunes]) + "..."
		}
		fmt.Fprintf(&b, "\n- %s: %s", m.Role, preview)
	}
	return b.String()
}

// Stats 诊断信息，不用于控制流
type Stats struct {
	MessageCount    int     `json:"message_count"`
	EstimatedTokens int     `json:"estimated_tokens"`
	WithinBudget    bool    `json:"within_budget"`
	PercentOfBudget float64 `json:"percent_of_budget"`
}

// Stats 计算消息列表相对于 maxTokens 窗口的占用情况
func (o *Optimizer) Stats(messages []Message, maxTokens int) Stats {
	est := o.EstimateTokens(messages)
	budget := o.Budget(maxTokens)

	var pct float64
	if budget > 0 {
		pct = float64(est) / float64(budget) * 100
	}
	return Stats{
		MessageCount:    len(messages),
		EstimatedTokens: est,
		WithinBudget:    est <= budget,
		PercentOfBudget: pct,
	}
}
