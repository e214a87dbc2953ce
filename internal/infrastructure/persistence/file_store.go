package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/agentcore/internal/domain/entity"
	"github.com/ngoclaw/agentcore/internal/domain/repository"
	"github.com/ngoclaw/agentcore/internal/domain/service"
	apperrors "github.com/ngoclaw/agentcore/pkg/errors"
)

const (
	conversationsDir = "conversations"
	processedFile    = "processed.json"
)

// FileStore 文件存储：每个会话一个 JSON 快照，另有一个已处理索引文件
//
//	<dir>/conversations/<agent>/<id>.json
//	<dir>/processed.json
type FileStore struct {
	dir    string
	logger *zap.Logger
	locks  *service.KeyedMutex // per snapshot path

	mu        sync.Mutex
	processed map[string]time.Time
}

var _ repository.Store = (*FileStore)(nil)

// NewFileStore opens (creating if needed) a store rooted at dir and loads
// the processed index into memory.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, conversationsDir), 0o755); err != nil {
		return nil, apperrors.NewPersistenceError("create store dir", err)
	}

	s := &FileStore{
		dir:       dir,
		logger:    logger.With(zap.String("component", "file-store")),
		locks:     service.NewKeyedMutex(),
		processed: make(map[string]time.Time),
	}
	if err := s.loadProcessed(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) conversationPath(agentName, id string) (string, error) {
	if agentName == "" || id == "" {
		return "", apperrors.NewInvalidInputError("conversation key needs an id and an agent name")
	}
	return filepath.Join(s.dir, conversationsDir, pathSegment(agentName), pathSegment(id)+".json"), nil
}

// pathSegment escapes a key into a single path element. A leading dot is
// escaped too, so "." and ".." never resolve outside the agent directory.
func pathSegment(key string) string {
	seg := url.PathEscape(key)
	if strings.HasPrefix(seg, ".") {
		seg = "%2E" + seg[1:]
	}
	return seg
}

// SaveConversation implements repository.ConversationStore.
func (s *FileStore) SaveConversation(ctx context.Context, snap *entity.ConversationSnapshot) error {
	if snap == nil || snap.ID == "" || snap.AgentName == "" {
		return apperrors.NewInvalidInputError("conversation snapshot needs an id and an agent name")
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return apperrors.NewPersistenceError("encode conversation", err)
	}

	path, err := s.conversationPath(snap.AgentName, snap.ID)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(path)
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.NewPersistenceError("create agent dir", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return apperrors.NewPersistenceError("write conversation "+snap.ID, err)
	}
	return nil
}

// LoadConversation implements repository.ConversationStore.
func (s *FileStore) LoadConversation(ctx context.Context, agentName, id string) (*entity.ConversationSnapshot, error) {
	path, err := s.conversationPath(agentName, id)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(path)
	defer unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("conversation %s/%s not found", agentName, id))
		}
		return nil, apperrors.NewPersistenceError("read conversation "+id, err)
	}

	var snap entity.ConversationSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, apperrors.NewPersistenceError("decode conversation "+id, err)
	}
	return &snap, nil
}

// ListConversations implements repository.ConversationStore. Unreadable
// snapshots are skipped with a warning.
func (s *FileStore) ListConversations(ctx context.Context) ([]repository.ConversationRef, error) {
	root := filepath.Join(s.dir, conversationsDir)
	agents, err := os.ReadDir(root)
	if err != nil {
		return nil, apperrors.NewPersistenceError("list agents", err)
	}

	var refs []repository.ConversationRef
	for _, agentDir := range agents {
		if !agentDir.IsDir() {
			continue
		}
		agentName, err := url.PathUnescape(agentDir.Name())
		if err != nil {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(root, agentDir.Name()))
		if err != nil {
			return nil, apperrors.NewPersistenceError("list conversations", err)
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasSuffix(name, ".json") {
				continue
			}
			id, err := url.PathUnescape(strings.TrimSuffix(name, ".json"))
			if err != nil {
				continue
			}
			snap, err := s.LoadConversation(ctx, agentName, id)
			if err != nil {
				s.logger.Warn("Skipping unreadable conversation",
					zap.String("agent", agentName),
					zap.String("conversation_id", id),
					zap.Error(err),
				)
				continue
			}
			refs = append(refs, repository.ConversationRef{AgentName: agentName, ID: id, LastActivityAt: snap.LastActivityAt})
		}
	}
	return refs, nil
}

// DeleteConversation implements repository.ConversationStore.
func (s *FileStore) DeleteConversation(ctx context.Context, agentName, id string) error {
	path, err := s.conversationPath(agentName, id)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(path)
	defer unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return apperrors.NewPersistenceError("delete conversation "+id, err)
	}
	return nil
}

// CleanupOlderThan implements repository.ConversationStore.
func (s *FileStore) CleanupOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	refs, err := s.ListConversations(ctx)
	if err != nil {
		return 0, err
	}
	return cleanupRefs(ctx, s, refs, time.Now().Add(-maxAge))
}

// MarkProcessed implements repository.ProcessedIndex. The whole index file
// is rewritten on every mark.
func (s *FileStore) MarkProcessed(ctx context.Context, messageID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.processed[messageID]
	s.processed[messageID] = at
	if err := s.flushProcessed(); err != nil {
		if existed {
			s.processed[messageID] = prev
		} else {
			delete(s.processed, messageID)
		}
		return err
	}
	return nil
}

// IsProcessed implements repository.ProcessedIndex.
func (s *FileStore) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[messageID]
	return ok, nil
}

// ProcessedAt implements repository.ProcessedIndex.
func (s *FileStore) ProcessedAt(ctx context.Context, messageID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.processed[messageID]
	return at, ok, nil
}

// Close implements repository.Store.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) loadProcessed() error {
	data, err := os.ReadFile(filepath.Join(s.dir, processedFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperrors.NewPersistenceError("read processed index", err)
	}
	if err := json.Unmarshal(data, &s.processed); err != nil {
		return apperrors.NewPersistenceError("decode processed index", err)
	}
	if s.processed == nil {
		s.processed = make(map[string]time.Time)
	}
	return nil
}

// flushProcessed 调用方需持有 s.mu
func (s *FileStore) flushProcessed() error {
	data, err := json.Marshal(s.processed)
	if err != nil {
		return apperrors.NewPersistenceError("encode processed index", err)
	}
	if err := writeFileAtomic(filepath.Join(s.dir, processedFile), data); err != nil {
		return apperrors.NewPersistenceError("write processed index", err)
	}
	return nil
}

// writeFileAtomic writes to a temp file in the same directory and renames it
// over path, so readers never observe a partial file.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// cleanupRefs deletes every ref older than cutoff through store.
func cleanupRefs(ctx context.Context, store repository.ConversationStore, refs []repository.ConversationRef, cutoff time.Time) (int, error) {
	removed := 0
	for _, ref := range refs {
		if !ref.LastActivityAt.Before(cutoff) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := store.DeleteConversation(ctx, ref.AgentName, ref.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
