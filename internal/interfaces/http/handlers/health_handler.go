package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ngoclaw/agentcore/internal/infrastructure/llm"
	"github.com/ngoclaw/agentcore/internal/infrastructure/monitoring"
)

// ProviderStatusSource reports adapter health. *llm.Factory implements it.
type ProviderStatusSource interface {
	Status() []llm.ProviderStatus
}

// StatsSource reports dispatch statistics. *monitoring.Monitor implements it.
type StatsSource interface {
	GetStats() monitoring.Stats
}

// HealthHandler 健康检查处理器
type HealthHandler struct {
	providers ProviderStatusSource
	monitor   StatsSource
	started   time.Time
}

// NewHealthHandler 创建健康检查处理器。两个来源都可以为 nil
func NewHealthHandler(providers ProviderStatusSource, monitor StatsSource) *HealthHandler {
	return &HealthHandler{providers: providers, monitor: monitor, started: time.Now()}
}

// Health handles GET /health. The status degrades when any circuit is open.
func (h *HealthHandler) Health(c *gin.Context) {
	status := "ok"
	body := gin.H{
		"time":       time.Now().Unix(),
		"uptime":     time.Since(h.started).Round(time.Second).String(),
		"goroutines": runtime.NumGoroutine(),
	}

	if h.providers != nil {
		providers := h.providers.Status()
		for _, p := range providers {
			if p.CircuitState == llm.CircuitOpen.String() {
				status = "degraded"
			}
		}
		body["providers"] = providers
	}
	if h.monitor != nil {
		body["dispatch"] = h.monitor.GetStats()
	}
	body["status"] = status
	c.JSON(http.StatusOK, body)
}
