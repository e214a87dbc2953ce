package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ngoclaw/agentcore/internal/domain/entity"
	"github.com/ngoclaw/agentcore/internal/domain/repository"
	"github.com/ngoclaw/agentcore/internal/domain/service"
	apperrors "github.com/ngoclaw/agentcore/pkg/errors"
)

// ConversationReader is the read side of repository.ConversationStore.
type ConversationReader interface {
	LoadConversation(ctx context.Context, agentName, id string) (*entity.ConversationSnapshot, error)
	ListConversations(ctx context.Context) ([]repository.ConversationRef, error)
}

// AgentLister lists the registered agents. *service.Registry implements it.
type AgentLister interface {
	Agents() []*service.Agent
}

// ConversationHandler 会话查询处理器
type ConversationHandler struct {
	store  ConversationReader
	agents AgentLister
	logger *zap.Logger
}

// NewConversationHandler 创建会话查询处理器
func NewConversationHandler(store ConversationReader, agents AgentLister, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{
		store:  store,
		agents: agents,
		logger: logger.With(zap.String("handler", "conversation")),
	}
}

// AgentSummary is one entry of GET /api/v1/agents.
type AgentSummary struct {
	Name              string `json:"name"`
	PublicKey         string `json:"public_key"`
	Published         bool   `json:"published"`
	DefaultProvider   string `json:"default_provider,omitempty"`
	LiveConversations int    `json:"live_conversations"`
}

// ListAgents handles GET /api/v1/agents.
func (h *ConversationHandler) ListAgents(c *gin.Context) {
	agents := h.agents.Agents()
	out := make([]AgentSummary, 0, len(agents))
	for _, a := range agents {
		out = append(out, AgentSummary{
			Name:              a.Name(),
			PublicKey:         a.Identity().PublicKey,
			Published:         a.Identity().Published,
			DefaultProvider:   a.DefaultProvider(),
			LiveConversations: a.LiveConversations(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"agents": out})
}

// List handles GET /api/v1/conversations[?agent=slug].
func (h *ConversationHandler) List(c *gin.Context) {
	refs, err := h.store.ListConversations(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list conversations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
		return
	}

	if agent := c.Query("agent"); agent != "" {
		filtered := refs[:0]
		for _, ref := range refs {
			if ref.AgentName == agent {
				filtered = append(filtered, ref)
			}
		}
		refs = filtered
	}
	if refs == nil {
		refs = []repository.ConversationRef{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": refs, "count": len(refs)})
}

// Get handles GET /api/v1/conversations/:agent/:id.
func (h *ConversationHandler) Get(c *gin.Context) {
	snap, err := h.store.LoadConversation(c.Request.Context(), c.Param("agent"), c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, snap)
	case apperrors.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
	case apperrors.IsInvalidInput(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Failed to load conversation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversation"})
	}
}
