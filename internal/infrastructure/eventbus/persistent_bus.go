package eventbus

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JournalFile is the active journal inside the journal directory.
const JournalFile = "events.jsonl"

// PersistentBus wraps InMemoryBus with an append-only JSON-lines journal of
// every published event (dispatch outcomes, identity lifecycle). The journal
// is an audit trail; it is read back by ReadJournal and never replayed into
// live handlers.
type PersistentBus struct {
	*InMemoryBus

	mu      sync.Mutex // protects file writes
	file    *os.File
	writer  *bufio.Writer
	path    string
	logger  *zap.Logger
	closed  bool
	maxSize int64
	written int64
}

// JournalEntry is the JSON form of an event on disk.
type JournalEntry struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"ts"`
	Payload   json.RawMessage `json:"payload"`
}

// PersistentBusConfig configures the persistent event bus.
type PersistentBusConfig struct {
	Dir        string // required
	BufferSize int    // default 256
	MaxSize    int64  // rotate after this many bytes; default 10MB
}

var _ Bus = (*PersistentBus)(nil)

// NewPersistentBus creates a bus that journals to cfg.Dir.
func NewPersistentBus(cfg PersistentBusConfig, logger *zap.Logger) (*PersistentBus, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("journal dir is required")
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10 * 1024 * 1024
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	path := filepath.Join(cfg.Dir, JournalFile)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	var size int64
	if stat, err := f.Stat(); err == nil {
		size = stat.Size()
	}

	return &PersistentBus{
		InMemoryBus: NewInMemoryBus(logger, cfg.BufferSize),
		file:        f,
		writer:      bufio.NewWriterSize(f, 64*1024),
		path:        path,
		logger:      logger.With(zap.String("component", "event-journal")),
		maxSize:     cfg.MaxSize,
		written:     size,
	}, nil
}

// Emit implements service.EventEmitter.
func (b *PersistentBus) Emit(ctx context.Context, eventType string, payload any) {
	b.Publish(ctx, NewEvent(eventType, payload))
}

// Publish journals the event, then dispatches it in memory.
func (b *PersistentBus) Publish(ctx context.Context, event Event) {
	b.append(event)
	b.InMemoryBus.Publish(ctx, event)
}

func (b *PersistentBus) append(event Event) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		b.logger.Error("Failed to marshal event for journal", zap.String("type", event.Type()), zap.Error(err))
		return
	}
	line, _ := json.Marshal(JournalEntry{Type: event.Type(), Timestamp: event.Timestamp(), Payload: payload})

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	n, err := b.writer.Write(append(line, '\n'))
	if err != nil {
		b.logger.Error("Journal write failed", zap.String("type", event.Type()), zap.Error(err))
	}
	b.written += int64(n)
	_ = b.writer.Flush()

	if b.written >= b.maxSize {
		b.rotateLocked()
	}
}

// Close flushes the journal and shuts down the bus.
func (b *PersistentBus) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		_ = b.writer.Flush()
		_ = b.file.Sync()
		_ = b.file.Close()
	}
	b.mu.Unlock()

	b.InMemoryBus.Close()
}

// Size returns the current journal size in bytes.
func (b *PersistentBus) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written
}

// rotateLocked 单文件轮转：当前日志改名为 .old（调用方需持有 b.mu）
func (b *PersistentBus) rotateLocked() {
	_ = b.writer.Flush()
	_ = b.file.Close()

	oldPath := b.path + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(b.path, oldPath)

	f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		b.logger.Error("Journal rotation failed", zap.Error(err))
		b.closed = true
		return
	}
	b.file = f
	b.writer = bufio.NewWriterSize(f, 64*1024)
	b.written = 0

	b.logger.Info("Journal rotated", zap.String("old_path", oldPath))
}

// ReadJournal streams the journal in dir (rotated file first) to fn.
// Corrupt lines are skipped. A missing journal yields zero entries.
func ReadJournal(ctx context.Context, dir string, fn func(JournalEntry) error) (int, error) {
	count := 0
	for _, path := range []string{filepath.Join(dir, JournalFile+".old"), filepath.Join(dir, JournalFile)} {
		n, err := readJournalFile(ctx, path, fn)
		count += n
		if err != nil {
			return count, err
		}
	}
	return count, nil
}

func readJournalFile(ctx context.Context, path string, fn func(JournalEntry) error) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	count := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry JournalEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		if err := fn(entry); err != nil {
			return count, err
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("journal scan: %w", err)
	}
	return count, nil
}
