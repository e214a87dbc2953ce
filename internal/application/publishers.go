package application

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ngoclaw/agentcore/internal/domain/entity"
	"github.com/ngoclaw/agentcore/internal/domain/service"
)

// replyFanout delivers a reply to every transport. It fails if any transport
// fails, so the message stays unprocessed and is retried on redelivery.
type replyFanout []service.ReplyPublisher

func (f replyFanout) PublishReply(ctx context.Context, reply *entity.OutboundReply) error {
	var errs []error
	for _, p := range f {
		if err := p.PublishReply(ctx, reply); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// identityFanout announces an identity on every transport.
type identityFanout []service.IdentityPublisher

func (f identityFanout) PublishIdentity(ctx context.Context, identity *entity.Identity, profile entity.AgentProfile) error {
	var errs []error
	for _, p := range f {
		if err := p.PublishIdentity(ctx, identity, profile); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// logPublisher is the reply sink when no transport is configured.
type logPublisher struct {
	logger *zap.Logger
}

func newLogPublisher(logger *zap.Logger) *logPublisher {
	return &logPublisher{logger: logger.With(zap.String("component", "log-publisher"))}
}

func (p *logPublisher) PublishReply(ctx context.Context, reply *entity.OutboundReply) error {
	p.logger.Info("Reply",
		zap.String("agent", reply.AgentName),
		zap.String("in_reply_to", reply.InReplyTo),
		zap.String("reply_id", reply.ID),
		zap.String("content", service.Preview(reply.Content)),
	)
	return nil
}
