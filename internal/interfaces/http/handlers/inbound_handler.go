package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ngoclaw/agentcore/internal/domain/entity"
	"github.com/ngoclaw/agentcore/internal/domain/service"
	"github.com/ngoclaw/agentcore/internal/interfaces/wire"
)

// Dispatcher routes one inbound message. *service.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *entity.InboundMessage, agentName, providerName string) service.Outcome
}

// InboundHandler 入站消息处理器
type InboundHandler struct {
	dispatcher Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

// NewInboundHandler 创建入站处理器
func NewInboundHandler(dispatcher Dispatcher, logger *zap.Logger) *InboundHandler {
	return &InboundHandler{
		dispatcher: dispatcher,
		logger:     logger.With(zap.String("handler", "inbound")),
		now:        time.Now,
	}
}

// InboundResponse is the body returned by POST /api/v1/inbound.
type InboundResponse struct {
	MessageID string          `json:"message_id"`
	Agent     string          `json:"agent"`
	Outcome   service.Outcome `json:"outcome"`
}

// Dispatch handles POST /api/v1/inbound. The call blocks until the dispatch
// finishes; the reply itself goes out through the configured publishers.
func (h *InboundHandler) Dispatch(c *gin.Context) {
	var env wire.InboundEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := env.Normalize(h.now()); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcome := h.dispatcher.Dispatch(c.Request.Context(), &env.Message, env.Agent, env.Provider)

	status := http.StatusOK
	if outcome == service.OutcomeFailed {
		status = http.StatusBadGateway
	}
	c.JSON(status, InboundResponse{MessageID: env.Message.ID, Agent: env.Agent, Outcome: outcome})
}
