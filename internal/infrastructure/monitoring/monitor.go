package monitoring

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ngoclaw/agentcore/internal/domain/service"
)

// Monitor 进程内运行摘要，供 /health 返回
type Monitor struct {
	startTime time.Time

	replied  atomic.Uint64
	skipped  atomic.Uint64
	failed   atomic.Uint64
	tokens   atomic.Uint64
	cacheHit atomic.Uint64

	mu           sync.RWMutex
	failures     []FailureRecord
	historyLimit int
}

// FailureRecord 一次失败的分发
type FailureRecord struct {
	At        time.Time `json:"at"`
	MessageID string    `json:"message_id"`
	AgentName string    `json:"agent_name"`
	ErrorKind string    `json:"error_kind"`
	Error     string    `json:"error"`
}

// Stats 当前统计
type Stats struct {
	UptimeSeconds   float64         `json:"uptime_seconds"`
	Replied         uint64          `json:"replied"`
	Skipped         uint64          `json:"skipped"`
	Failed          uint64          `json:"failed"`
	TokensUsed      uint64          `json:"tokens_used"`
	CacheReadTokens uint64          `json:"cache_read_tokens"`
	Goroutines      int             `json:"goroutines"`
	MemoryMB        float64         `json:"memory_mb"`
	RecentFailures  []FailureRecord `json:"recent_failures,omitempty"`
}

// NewMonitor 创建监控器，保留最近 historyLimit 条失败记录
func NewMonitor(historyLimit int) *Monitor {
	if historyLimit <= 0 {
		historyLimit = 20
	}
	return &Monitor{
		startTime:    time.Now(),
		historyLimit: historyLimit,
		failures:     make([]FailureRecord, 0, historyLimit),
	}
}

func (m *Monitor) recordDispatch(ev service.DispatchEvent) {
	switch ev.Outcome {
	case service.OutcomeReplied:
		m.replied.Add(1)
		if ev.Usage != nil {
			m.tokens.Add(uint64(ev.Usage.TotalTokens))
			m.cacheHit.Add(uint64(ev.Usage.CacheReadTokens))
		}
	case service.OutcomeFailed:
		m.failed.Add(1)
		m.mu.Lock()
		m.failures = append(m.failures, FailureRecord{
			At:        time.Now(),
			MessageID: ev.MessageID,
			AgentName: ev.AgentName,
			ErrorKind: ev.ErrorKind,
			Error:     ev.Error,
		})
		if len(m.failures) > m.historyLimit {
			m.failures = m.failures[len(m.failures)-m.historyLimit:]
		}
		m.mu.Unlock()
	default:
		m.skipped.Add(1)
	}
}

// GetStats 获取当前统计
func (m *Monitor) GetStats() Stats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	failures := make([]FailureRecord, len(m.failures))
	copy(failures, m.failures)
	m.mu.RUnlock()

	return Stats{
		UptimeSeconds:   time.Since(m.startTime).Seconds(),
		Replied:         m.replied.Load(),
		Skipped:         m.skipped.Load(),
		Failed:          m.failed.Load(),
		TokensUsed:      m.tokens.Load(),
		CacheReadTokens: m.cacheHit.Load(),
		Goroutines:      runtime.NumGoroutine(),
		MemoryMB:        float64(memStats.Alloc) / 1024 / 1024,
		RecentFailures:  failures,
	}
}
