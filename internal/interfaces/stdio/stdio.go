// Package stdio runs the dispatcher over JSON lines: inbound envelopes are
// read from an io.Reader and outbound envelopes are written to an io.Writer.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/agentcore/internal/domain/entity"
	"github.com/ngoclaw/agentcore/internal/domain/service"
	"github.com/ngoclaw/agentcore/internal/interfaces/wire"
)

const maxLineSize = 4 * 1024 * 1024

// Dispatcher routes one inbound message. *service.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *entity.InboundMessage, agentName, providerName string) service.Outcome
}

// Writer 以 JSON 行写出回复与身份公告
type Writer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

var (
	_ service.ReplyPublisher    = (*Writer)(nil)
	_ service.IdentityPublisher = (*Writer)(nil)
)

// NewWriter 创建写出器
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(w)}
}

// PublishReply implements service.ReplyPublisher.
func (w *Writer) PublishReply(ctx context.Context, reply *entity.OutboundReply) error {
	return w.write(wire.NewReply(reply))
}

// PublishIdentity implements service.IdentityPublisher.
func (w *Writer) PublishIdentity(ctx context.Context, identity *entity.Identity, profile entity.AgentProfile) error {
	return w.write(wire.NewIdentity(identity, profile))
}

// WriteOutcome reports a dispatch outcome.
func (w *Writer) WriteOutcome(messageID, agent string, outcome service.Outcome) error {
	return w.write(wire.NewOutcome(messageID, agent, outcome))
}

func (w *Writer) write(out wire.Outbound) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(out); err != nil {
		return fmt.Errorf("failed to write %s: %w", out.Type, err)
	}
	return nil
}

// Reader 逐行读取入站信封并同步分发
type Reader struct {
	dispatcher Dispatcher
	writer     *Writer
	logger     *zap.Logger
	// ReportOutcomes writes an outcome line after every dispatch.
	ReportOutcomes bool
}

// NewReader 创建读取器。writer 可为 nil
func NewReader(dispatcher Dispatcher, writer *Writer, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{
		dispatcher: dispatcher,
		writer:     writer,
		logger:     logger.With(zap.String("component", "stdio")),
	}
}

// Run consumes r until EOF or cancellation. Lines are dispatched in order;
// blank and malformed lines are skipped. It returns the number of envelopes
// dispatched.
func (r *Reader) Run(ctx context.Context, in io.Reader) (int, error) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	dispatched := 0
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return dispatched, err
		}
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}

		env, err := wire.DecodeInbound(data, time.Now())
		if err != nil {
			r.logger.Warn("Skipping inbound line", zap.Int("line", line), zap.Error(err))
			continue
		}

		outcome := r.dispatcher.Dispatch(ctx, &env.Message, env.Agent, env.Provider)
		dispatched++
		if r.ReportOutcomes && r.writer != nil {
			if err := r.writer.WriteOutcome(env.Message.ID, env.Agent, outcome); err != nil {
				return dispatched, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return dispatched, fmt.Errorf("failed to read inbound stream: %w", err)
	}
	return dispatched, nil
}
