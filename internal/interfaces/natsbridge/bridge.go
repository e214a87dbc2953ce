// Package natsbridge connects the dispatcher to a NATS subject: inbound
// envelopes are consumed through a queue group and replies and identity
// announcements are published as JSON.
package natsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ngoclaw/agentcore/internal/domain/entity"
	"github.com/ngoclaw/agentcore/internal/domain/service"
	"github.com/ngoclaw/agentcore/internal/interfaces/wire"
	"github.com/ngoclaw/agentcore/pkg/safego"
)

// Conn is the subset of *nats.Conn the bridge uses.
type Conn interface {
	Publish(subject string, data []byte) error
	QueueSubscribe(subject, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
	Drain() error
}

// Dispatcher routes one inbound message. *service.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *entity.InboundMessage, agentName, providerName string) service.Outcome
}

// Config NATS 桥接配置
type Config struct {
	InboundSubject  string
	ReplySubject    string
	IdentitySubject string
	QueueGroup      string
	// MaxConcurrent bounds in-flight dispatches. Zero selects 16.
	MaxConcurrent int
}

// Bridge NATS 桥接
type Bridge struct {
	conn   Conn
	cfg    Config
	logger *zap.Logger

	mu         sync.Mutex
	dispatcher Dispatcher
	sub        *nats.Subscription
	ctx        context.Context
	cancel     context.CancelFunc
	slots      *semaphore.Weighted
	wg         sync.WaitGroup
}

var (
	_ service.ReplyPublisher    = (*Bridge)(nil)
	_ service.IdentityPublisher = (*Bridge)(nil)
)

// Connect dials the NATS server with reconnect handling.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("agentcore"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Info("Connected to NATS", zap.String("url", url))
	return nc, nil
}

// New creates a bridge over conn. The bridge publishes immediately; it
// consumes only after Start.
func New(conn Conn, cfg Config, logger *zap.Logger) *Bridge {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 16
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		conn:   conn,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "natsbridge")),
		slots:  semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}
}

// PublishReply implements service.ReplyPublisher.
func (b *Bridge) PublishReply(ctx context.Context, reply *entity.OutboundReply) error {
	return b.publish(b.cfg.ReplySubject, wire.NewReply(reply))
}

// PublishIdentity implements service.IdentityPublisher.
func (b *Bridge) PublishIdentity(ctx context.Context, identity *entity.Identity, profile entity.AgentProfile) error {
	return b.publish(b.cfg.IdentitySubject, wire.NewIdentity(identity, profile))
}

func (b *Bridge) publish(subject string, out wire.Outbound) error {
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", out.Type, err)
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Start subscribes to the inbound subject. Every delivered envelope is
// dispatched on its own goroutine, bounded by MaxConcurrent.
func (b *Bridge) Start(ctx context.Context, dispatcher Dispatcher) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		return fmt.Errorf("natsbridge already started")
	}

	b.dispatcher = dispatcher
	b.ctx, b.cancel = context.WithCancel(ctx)

	sub, err := b.conn.QueueSubscribe(b.cfg.InboundSubject, b.cfg.QueueGroup, b.onMessage)
	if err != nil {
		b.cancel()
		return fmt.Errorf("failed to subscribe to %s: %w", b.cfg.InboundSubject, err)
	}
	b.sub = sub
	b.logger.Info("Subscribed to inbound subject",
		zap.String("subject", b.cfg.InboundSubject),
		zap.String("queue", b.cfg.QueueGroup),
	)
	return nil
}

func (b *Bridge) onMessage(msg *nats.Msg) {
	env, err := wire.DecodeInbound(msg.Data, time.Now())
	if err != nil {
		b.logger.Warn("Dropping inbound envelope", zap.Error(err), zap.String("subject", msg.Subject))
		return
	}

	if err := b.slots.Acquire(b.ctx, 1); err != nil {
		return
	}
	b.wg.Add(1)
	safego.Go(b.logger, "nats-dispatch", func() {
		defer b.wg.Done()
		defer b.slots.Release(1)

		outcome := b.dispatcher.Dispatch(b.ctx, &env.Message, env.Agent, env.Provider)
		if msg.Reply == "" {
			return
		}
		if err := b.publish(msg.Reply, wire.NewOutcome(env.Message.ID, env.Agent, outcome)); err != nil {
			b.logger.Warn("Failed to answer request", zap.Error(err))
		}
	})
}

// Stop drains the subscription and waits for in-flight dispatches.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	sub := b.sub
	b.sub = nil
	b.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Debug("Unsubscribe failed", zap.Error(err))
		}
	}
	b.wg.Wait()
	if b.cancel != nil {
		b.cancel()
	}
	return b.conn.Drain()
}
