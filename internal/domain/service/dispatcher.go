package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ngoclaw/agentcore/internal/domain/entity"
	"github.com/ngoclaw/agentcore/internal/domain/repository"
	apperrors "github.com/ngoclaw/agentcore/pkg/errors"
	"github.com/ngoclaw/agentcore/pkg/safego"
)

// Outcome 单次分发的结果
type Outcome string

const (
	OutcomeReplied          Outcome = "replied"
	OutcomeSkippedDuplicate Outcome = "skipped_duplicate"
	OutcomeSkippedLoop      Outcome = "skipped_loop"
	OutcomeFailed           Outcome = "failed"
)

const previewRunes = 80

// DispatcherDeps are the collaborators of a Dispatcher.
type DispatcherDeps struct {
	Registry  *Registry
	Processed repository.ProcessedIndex
	Publisher ReplyPublisher
	Events    EventEmitter
	Logger    *zap.Logger
	Now       func() time.Time
	NewID     func() string
}

// Dispatcher routes inbound messages to agents. It enforces idempotence and
// loop prevention, and marks a message processed only after its reply has
// been published.
type Dispatcher struct {
	registry  *Registry
	processed repository.ProcessedIndex
	publisher ReplyPublisher
	events    EventEmitter
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string

	messageLocks *KeyedMutex
}

// NewDispatcher 创建分发器
func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Events == nil {
		deps.Events = noopEmitter{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = func() string { return uuid.New().String() }
	}
	return &Dispatcher{
		registry:     deps.Registry,
		processed:    deps.Processed,
		publisher:    deps.Publisher,
		events:       deps.Events,
		logger:       deps.Logger.With(zap.String("component", "dispatcher")),
		now:          deps.Now,
		newID:        deps.NewID,
		messageLocks: NewKeyedMutex(),
	}
}

// Dispatch handles one inbound message for agentName. providerName optionally
// selects a provider configuration. Errors are logged and reported through the
// returned Outcome; they never propagate.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *entity.InboundMessage, agentName, providerName string) Outcome {
	start := time.Now()
	ev := DispatchEvent{MessageID: msg.ID, AgentName: agentName}

	if msg.ID == "" {
		return d.fail(ctx, msg, ev, start, apperrors.NewInvalidInputError("inbound message has no id"))
	}

	// Redelivery while the first attempt is in flight waits here and then
	// sees the processed mark.
	unlock := d.messageLocks.Lock(msg.ID)
	defer unlock()

	done, err := d.processed.IsProcessed(ctx, msg.ID)
	if err != nil {
		return d.fail(ctx, msg, ev, start, err)
	}
	if done {
		d.logger.Debug("Skipping already processed message", zap.String("message_id", msg.ID))
		return d.skip(ctx, ev, start, OutcomeSkippedDuplicate)
	}
	if d.registry.IsAgentAuthor(msg.Author) {
		d.logger.Debug("Skipping message authored by an agent",
			zap.String("message_id", msg.ID),
			zap.String("author", msg.Author),
		)
		return d.skip(ctx, ev, start, OutcomeSkippedLoop)
	}

	var resp *AgentResponse
	err = safego.Call(func() error {
		var err error
		resp, err = d.handle(ctx, msg, agentName, providerName, &ev)
		return err
	})
	if err != nil {
		return d.fail(ctx, msg, ev, start, err)
	}

	ev.Outcome = OutcomeReplied
	ev.Duration = time.Since(start)
	d.events.Emit(ctx, EventDispatchReplied, ev)

	d.logger.Info("Message dispatched",
		zap.String("message_id", msg.ID),
		zap.String("agent", agentName),
		zap.String("conversation_id", resp.ConversationID),
		zap.String("model", ev.Model),
		zap.Duration("duration", ev.Duration),
	)
	return OutcomeReplied
}

func (d *Dispatcher) handle(ctx context.Context, msg *entity.InboundMessage, agentName, providerName string, ev *DispatchEvent) (*AgentResponse, error) {
	agent, err := d.registry.ResolveAgent(ctx, agentName)
	if err != nil {
		return nil, fmt.Errorf("resolving agent %q: %w", agentName, err)
	}
	cfg, err := d.registry.ResolveProviderConfig(providerName, agent)
	if err != nil {
		return nil, err
	}
	ev.Provider = string(cfg.Kind())
	ev.Model = cfg.Model
	ev.ConversationID = ConversationIDFor(msg)

	resp, err := agent.Respond(ctx, msg, cfg)
	if err != nil {
		return nil, err
	}
	if m, ok := resp.Metadata["model"].(string); ok && m != "" {
		ev.Model = m
	}
	if u, ok := resp.Metadata["usage"].(*TokenUsage); ok {
		ev.Usage = u
	}

	reply := msg.NewReply(d.newID(), agent.Identity(), resp.Content, d.now())
	for k, v := range resp.Metadata {
		reply.Metadata[k] = v
	}
	reply.Metadata["conversation_id"] = resp.ConversationID
	reply.Metadata["confidence"] = resp.Confidence

	if err := d.publisher.PublishReply(ctx, reply); err != nil {
		return nil, fmt.Errorf("publishing reply: %w", err)
	}
	if err := d.processed.MarkProcessed(ctx, msg.ID, d.now()); err != nil {
		return nil, fmt.Errorf("marking %s processed: %w", msg.ID, err)
	}
	return resp, nil
}

func (d *Dispatcher) skip(ctx context.Context, ev DispatchEvent, start time.Time, outcome Outcome) Outcome {
	ev.Outcome = outcome
	ev.Duration = time.Since(start)
	d.events.Emit(ctx, EventDispatchSkipped, ev)
	return outcome
}

func (d *Dispatcher) fail(ctx context.Context, msg *entity.InboundMessage, ev DispatchEvent, start time.Time, err error) Outcome {
	kind := ClassifyError(err)
	ev.Outcome = OutcomeFailed
	ev.ErrorKind = kind.String()
	ev.Error = err.Error()
	ev.Duration = time.Since(start)

	d.logger.Error("Dispatch failed",
		zap.String("message_id", msg.ID),
		zap.String("agent", ev.AgentName),
		zap.String("preview", Preview(msg.Content)),
		zap.String("error_kind", kind.String()),
		zap.Bool("retryable", kind.IsRetryable()),
		zap.Error(err),
	)

	d.events.Emit(ctx, EventDispatchFailed, ev)
	return OutcomeFailed
}

// Preview returns the first runes of content on one line, for logs.
func Preview(content string) string {
	flat := strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(flat) <= previewRunes {
		return flat
	}
	return string([]rune(flat)[:previewRunes]) + "..."
}
