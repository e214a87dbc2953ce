package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	ctxwindow "github.com/ngoclaw/agentcore/internal/domain/context"
	"github.com/ngoclaw/agentcore/internal/domain/entity"
	"github.com/ngoclaw/agentcore/internal/domain/repository"
	"github.com/ngoclaw/agentcore/internal/domain/valueobject"
	apperrors "github.com/ngoclaw/agentcore/pkg/errors"
)

// ResponseConfidence is reported with every response; it is not derived from
// the backend.
const ResponseConfidence = 0.8

// AgentOptions 代理运行参数（所有代理共享）
type AgentOptions struct {
	// ProviderTimeout bounds each backend call. Zero means no timeout.
	ProviderTimeout time.Duration
	// MaxInflight bounds concurrent backend calls per agent. Zero means unbounded.
	MaxInflight int
	// ReserveTokens is the optimizer safety margin. Negative selects the default.
	ReserveTokens int
}

// DefaultAgentOptions 默认参数
func DefaultAgentOptions() AgentOptions {
	return AgentOptions{
		ProviderTimeout: 2 * time.Minute,
		MaxInflight:     4,
		ReserveTokens:   ctxwindow.DefaultReserve,
	}
}

// AgentDeps are the collaborators an Agent needs.
type AgentDeps struct {
	Store     repository.ConversationStore
	Providers ProviderResolver
	Observer  CallObserver
	Logger    *zap.Logger
	Now       func() time.Time
}

// AgentResponse 代理的标准化回复
type AgentResponse struct {
	ConversationID string         `json:"conversation_id"`
	Content        string         `json:"content"`
	Confidence     float64        `json:"confidence"`
	Metadata       map[string]any `json:"metadata"`
}

// Agent owns one identity and the live conversations held for it. The
// read-modify-persist cycle of a conversation runs under a per-conversation lock.
type Agent struct {
	identity        *entity.Identity
	profile         entity.AgentProfile
	defaultProvider string

	store     repository.ConversationStore
	providers ProviderResolver
	observer  CallObserver
	optimizer *ctxwindow.Optimizer
	opts      AgentOptions
	logger    *zap.Logger
	now       func() time.Time

	convLocks *KeyedMutex
	inflight  *semaphore.Weighted

	mu   sync.RWMutex
	live map[string]*entity.Conversation
}

// NewAgent 创建代理
func NewAgent(identity *entity.Identity, profile entity.AgentProfile, defaultProvider string, opts AgentOptions, deps AgentDeps) *Agent {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Observer == nil {
		deps.Observer = noopObserver{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	a := &Agent{
		identity:        identity,
		profile:         profile,
		defaultProvider: defaultProvider,
		store:           deps.Store,
		providers:       deps.Providers,
		observer:        deps.Observer,
		optimizer:       ctxwindow.NewOptimizer(nil, opts.ReserveTokens),
		opts:            opts,
		logger:          deps.Logger.With(zap.String("component", "agent"), zap.String("agent", identity.Slug)),
		now:             deps.Now,
		convLocks:       NewKeyedMutex(),
		live:            make(map[string]*entity.Conversation),
	}
	if opts.MaxInflight > 0 {
		a.inflight = semaphore.NewWeighted(int64(opts.MaxInflight))
	}
	return a
}

// Name 返回代理名称
func (a *Agent) Name() string { return a.identity.Slug }

// Identity 返回代理身份
func (a *Agent) Identity() *entity.Identity { return a.identity }

// Profile 返回人设配置
func (a *Agent) Profile() entity.AgentProfile { return a.profile }

// DefaultProvider 返回默认 provider 配置名（可能为空）
func (a *Agent) DefaultProvider() string { return a.defaultProvider }

// SystemPrompt returns the configured override verbatim, or composes one from
// role, description and instructions.
func (a *Agent) SystemPrompt() string {
	if a.profile.SystemPrompt != "" {
		return a.profile.SystemPrompt
	}

	var lines []string
	if role := strings.TrimSpace(a.profile.Role); role != "" {
		lines = append(lines, fmt.Sprintf("You are %s, %s.", a.Name(), strings.TrimSuffix(role, ".")))
	} else {
		lines = append(lines, fmt.Sprintf("You are %s, a helpful AI agent.", a.Name()))
	}
	if desc := strings.TrimSpace(a.profile.Description); desc != "" {
		lines = append(lines, "", desc)
	}
	if instr := strings.TrimSpace(a.profile.Instructions); instr != "" {
		lines = append(lines, "", "Instructions:", instr)
	}
	return strings.Join(lines, "\n")
}

// ConversationIDFor derives the conversation a message belongs to: the direct
// reply reference, then the thread root, then the message's own id.
func ConversationIDFor(msg *entity.InboundMessage) string {
	if id, ok := msg.ReplyRef(); ok {
		return id
	}
	if id, ok := msg.RootRef(); ok {
		return id
	}
	return msg.ID
}

// GetOrCreateConversation returns the live conversation, a persisted one, or a
// new conversation seeded with the system prompt.
func (a *Agent) GetOrCreateConversation(ctx context.Context, id string) (*entity.Conversation, error) {
	unlock := a.convLocks.Lock(id)
	defer unlock()
	return a.getOrCreateLocked(ctx, id)
}

// RequireConversation returns an existing conversation or ErrConversationNotFound.
func (a *Agent) RequireConversation(ctx context.Context, id string) (*entity.Conversation, error) {
	unlock := a.convLocks.Lock(id)
	defer unlock()

	conv, err := a.loadLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("%w: %s/%s", entity.ErrConversationNotFound, a.Name(), id)
	}
	return conv, nil
}

// LiveConversations 返回当前内存中的会话数
func (a *Agent) LiveConversations() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.live)
}

// Forget drops a conversation from the live set, e.g. after a retention sweep.
func (a *Agent) Forget(id string) {
	a.mu.Lock()
	delete(a.live, id)
	a.mu.Unlock()
}

// loadLocked returns the live or persisted conversation, or nil if none exists.
func (a *Agent) loadLocked(ctx context.Context, id string) (*entity.Conversation, error) {
	a.mu.RLock()
	conv, ok := a.live[id]
	a.mu.RUnlock()
	if ok {
		return conv, nil
	}

	snap, err := a.store.LoadConversation(ctx, a.Name(), id)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading conversation %s: %w", id, err)
	}
	conv, err = entity.ReconstructConversation(snap)
	if err != nil {
		return nil, apperrors.NewPersistenceError("corrupt conversation snapshot "+id, err)
	}

	a.mu.Lock()
	a.live[id] = conv
	a.mu.Unlock()
	return conv, nil
}

func (a *Agent) getOrCreateLocked(ctx context.Context, id string) (*entity.Conversation, error) {
	conv, err := a.loadLocked(ctx, id)
	if err != nil || conv != nil {
		return conv, err
	}

	conv, err = entity.NewConversation(id, a.Name(), a.SystemPrompt(), a.now())
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.live[id] = conv
	a.mu.Unlock()

	a.logger.Info("Conversation created", zap.String("conversation_id", id))
	return conv, nil
}

func (a *Agent) persist(ctx context.Context, conv *entity.Conversation) error {
	if err := a.store.SaveConversation(ctx, conv.Snapshot()); err != nil {
		return fmt.Errorf("persisting conversation %s: %w", conv.ID(), err)
	}
	return nil
}

// Respond appends msg to its conversation, calls the backend with a prompt
// bounded by cfg.ContextWindow, records the reply and returns it. The whole
// cycle holds the conversation lock.
func (a *Agent) Respond(ctx context.Context, msg *entity.InboundMessage, cfg valueobject.ProviderConfig) (*AgentResponse, error) {
	convID := ConversationIDFor(msg)
	unlock := a.convLocks.Lock(convID)
	defer unlock()

	conv, err := a.getOrCreateLocked(ctx, convID)
	if err != nil {
		return nil, err
	}

	// A redelivery after a failed publish or mark finds the exchange already
	// recorded. The reply is replayed without another backend call.
	if reply, ok := recordedReply(conv, msg.ID); ok {
		if err := a.persist(ctx, conv); err != nil {
			return nil, err
		}
		a.logger.Info("Replaying recorded reply",
			zap.String("conversation_id", convID),
			zap.String("message_id", msg.ID),
		)
		return &AgentResponse{
			ConversationID: convID,
			Content:        reply.Content,
			Confidence:     ResponseConfidence,
			Metadata: map[string]any{
				"model":    cfg.Model,
				"provider": string(cfg.Kind()),
				"replayed": true,
			},
		}, nil
	}

	// A redelivery after a failed backend call finds its own user message
	// already at the tail.
	if last, ok := conv.Last(); !ok || last.Role != entity.RoleUser || last.SourceEventID != msg.ID {
		if msg.IsTask() {
			conv.SetMetadata(MetaTaskID, msg.ID)
			conv.SetMetadata(MetaTaskTitle, TaskTitle(msg))
		}
		if err := conv.Append(entity.NewUserMessage(PromptContent(msg), msg.ID, a.now())); err != nil {
			return nil, err
		}
		if err := a.persist(ctx, conv); err != nil {
			return nil, err
		}
	}

	window := a.buildWindow(conv, cfg)

	resp, err := a.call(ctx, window, cfg)
	if err != nil {
		return nil, err
	}

	if err := conv.Append(entity.NewMessage(entity.RoleAssistant, resp.Content, a.now())); err != nil {
		return nil, err
	}
	if err := a.persist(ctx, conv); err != nil {
		return nil, err
	}

	usage := resp.Usage
	return &AgentResponse{
		ConversationID: convID,
		Content:        resp.Content,
		Confidence:     ResponseConfidence,
		Metadata: map[string]any{
			"model":    resp.Model,
			"provider": string(cfg.Kind()),
			"usage":    &usage,
		},
	}, nil
}

// recordedReply returns the assistant message that answered msgID when it is
// the tail of the conversation.
func recordedReply(conv *entity.Conversation, msgID string) (entity.Message, bool) {
	history := conv.Messages()
	n := len(history)
	if n < 2 {
		return entity.Message{}, false
	}
	reply, prompt := history[n-1], history[n-2]
	if reply.Role != entity.RoleAssistant || prompt.Role != entity.RoleUser || prompt.SourceEventID != msgID {
		return entity.Message{}, false
	}
	return reply, true
}

// buildWindow converts the conversation into backend messages, trimming only
// when the estimate exceeds the budget.
func (a *Agent) buildWindow(conv *entity.Conversation, cfg valueobject.ProviderConfig) []LLMMessage {
	history := conv.Messages()
	window := make([]ctxwindow.Message, len(history))
	for i, m := range history {
		window[i] = ctxwindow.Message{Role: string(m.Role), Content: m.Content}
	}

	contextWindow := cfg.ContextWindow
	if contextWindow <= 0 {
		contextWindow = valueobject.DefaultContextWindow
	}
	if before := a.optimizer.Stats(window, contextWindow); !before.WithinBudget {
		window = a.optimizer.TrimToWindow(window, contextWindow)
		after := a.optimizer.Stats(window, contextWindow)
		a.logger.Info("Context trimmed",
			zap.String("conversation_id", conv.ID()),
			zap.Int("messages_before", before.MessageCount),
			zap.Int("messages_after", after.MessageCount),
			zap.Int("tokens_before", before.EstimatedTokens),
			zap.Int("tokens_after", after.EstimatedTokens),
			zap.Float64("percent_of_budget", after.PercentOfBudget),
		)
	}

	out := make([]LLMMessage, len(window))
	for i, m := range window {
		out[i] = LLMMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

// call performs one bounded backend call.
func (a *Agent) call(ctx context.Context, messages []LLMMessage, cfg valueobject.ProviderConfig) (*LLMResponse, error) {
	client, err := a.providers.ClientFor(cfg)
	if err != nil {
		return nil, err
	}

	if a.inflight != nil {
		if err := a.inflight.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("waiting for provider slot: %w", err)
		}
		defer a.inflight.Release(1)
	}

	callCtx := ctx
	if a.opts.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.opts.ProviderTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := client.GenerateResponse(callCtx, messages, cfg)
	elapsed := time.Since(start)

	if err != nil {
		a.observer.ObserveCall(string(cfg.Kind()), cfg.Model, elapsed, nil, err)
		return nil, err
	}
	a.observer.ObserveCall(string(cfg.Kind()), resp.Model, elapsed, &resp.Usage, nil)

	a.logger.Debug("Provider call completed",
		zap.String("provider", string(cfg.Kind())),
		zap.String("model", resp.Model),
		zap.Duration("elapsed", elapsed),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)
	return resp, nil
}
